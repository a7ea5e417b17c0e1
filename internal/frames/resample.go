package frames

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/disintegration/gift"
	"golang.org/x/image/draw"

	"github.com/zsiec/pixseq/internal/raster"
)

// ErrUnknownFilter is returned by ParseFilter for an unrecognised name.
var ErrUnknownFilter = errors.New("frames: unknown resampling filter")

// Filter selects the resampling kernel used to scale frames.
type Filter int

// Resampling filters. Nearest matches the reference output; the others
// trade speed for smoother downscales.
const (
	FilterNearest Filter = iota
	FilterBilinear
	FilterCatmullRom
	FilterBox
	FilterLanczos
)

var filterNames = map[Filter]string{
	FilterNearest:    "nearest",
	FilterBilinear:   "bilinear",
	FilterCatmullRom: "catmullrom",
	FilterBox:        "box",
	FilterLanczos:    "lanczos",
}

func (f Filter) String() string {
	if s, ok := filterNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Filter(%d)", int(f))
}

// ParseFilter maps a filter name to a Filter. The empty string selects
// FilterNearest.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return FilterNearest, nil
	}
	for f, name := range filterNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFilter, s)
}

// Resample scales a packed RGB8 buffer from srcW x srcH to dstW x dstH.
func Resample(rgb []byte, srcW, srcH, dstW, dstH int, f Filter) ([]byte, error) {
	if len(rgb) != srcW*srcH*3 {
		return nil, fmt.Errorf("resample: buffer has %d bytes, want %d for %dx%d", len(rgb), srcW*srcH*3, srcW, srcH)
	}
	if srcW == dstW && srcH == dstH {
		return slices.Clone(rgb), nil
	}

	src := rgbToImage(rgb, srcW, srcH)
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	switch f {
	case FilterNearest:
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	case FilterBilinear:
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	case FilterCatmullRom:
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	case FilterBox, FilterLanczos:
		resampling := gift.LanczosResampling
		if f == FilterBox {
			resampling = gift.BoxResampling
		}
		// Frames are already processed concurrently.
		g := gift.New(gift.Resize(dstW, dstH, resampling))
		g.SetParallelization(false)
		g.Draw(dst, src)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownFilter, f)
	}
	return imageToRGB(dst), nil
}

func rgbToImage(rgb []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(rgb); i, j = i+3, j+4 {
		img.Pix[j] = rgb[i]
		img.Pix[j+1] = rgb[i+1]
		img.Pix[j+2] = rgb[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

func imageToRGB(img *image.RGBA) []byte {
	return StripAlpha(img.Pix, raster.LayoutRGBA8)
}
