package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
)

// Decode reads a complete upload of the given format. The header is checked
// against MaxSourcePixels before any frame is decoded.
func Decode(r io.Reader, f Format) (*Data, error) {
	var decodeConfig func(io.Reader) (image.Config, error)
	switch f {
	case FormatGIF:
		decodeConfig = gif.DecodeConfig
	case FormatPNG:
		decodeConfig = png.DecodeConfig
	case FormatJPEG:
		decodeConfig = jpeg.DecodeConfig
	default:
		return nil, ErrUnsupportedFormat
	}

	// Replay whatever the header read consumed, including read-ahead.
	var head bytes.Buffer
	cfg, err := decodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, &DecodeError{Format: f, Err: err}
	}
	if err := checkSize(cfg.Width, cfg.Height, 1); err != nil {
		return nil, err
	}
	r = io.MultiReader(&head, r)

	var d *Data
	switch f {
	case FormatGIF:
		d, err = decodeGIF(r)
	case FormatPNG:
		d, err = decodeStill(r, png.Decode)
	case FormatJPEG:
		d, err = decodeStill(r, jpeg.Decode)
	}
	if errors.Is(err, ErrTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, &DecodeError{Format: f, Err: err}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// checkSize rejects frames over MaxSourcePixels and animations whose frames
// add up to more than MaxDecodedPixels.
func checkSize(w, h, frames int) error {
	px := int64(w) * int64(h)
	if px > MaxSourcePixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, w, h, MaxSourcePixels)
	}
	if px*int64(frames) > MaxDecodedPixels {
		return fmt.Errorf("%w: %d frames of %dx%d exceed %d pixels", ErrTooLarge, frames, w, h, MaxDecodedPixels)
	}
	return nil
}

func decodeStill(r io.Reader, decode func(io.Reader) (image.Image, error)) (*Data, error) {
	img, err := decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	d := &Data{Width: b.Dx(), Height: b.Dy()}

	// Only 8-bit non-premultiplied RGBA keeps its alpha channel; every other
	// colour model is flattened to RGB here.
	if nrgba, ok := img.(*image.NRGBA); ok {
		d.Layout = LayoutRGBA8
		d.Frames = []Frame{{Pix: packNRGBA(nrgba), Delay: StaticDelay}}
		return d, nil
	}
	d.Layout = LayoutRGB8
	d.Frames = []Frame{{Pix: toRGB(img), Delay: StaticDelay}}
	return d, nil
}

// decodeGIF composites every frame onto a full-size canvas, honoring each
// frame's disposal method, and emits the canvas after each draw.
func decodeGIF(r io.Reader) (*Data, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif contains no frames")
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	if err := checkSize(bounds.Dx(), bounds.Dy(), len(g.Image)); err != nil {
		return nil, err
	}
	canvas := image.NewNRGBA(bounds)
	var saved *image.NRGBA

	d := &Data{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Layout: LayoutRGBA8,
		Frames: make([]Frame, 0, len(g.Image)),
	}
	for i, frame := range g.Image {
		disposal := byte(gif.DisposalNone)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if disposal == gif.DisposalPrevious {
			saved = cloneNRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		delay := 0
		if i < len(g.Delay) {
			delay = g.Delay[i] * 10
		}
		d.Frames = append(d.Frames, Frame{Pix: packNRGBA(canvas), Delay: delay})

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			if saved != nil {
				canvas = saved
				saved = nil
			}
		}
	}
	return d, nil
}

// packNRGBA returns the pixels of img as a tightly packed RGBA8 buffer.
func packNRGBA(img *image.NRGBA) []byte {
	b := img.Bounds()
	rowLen := b.Dx() * 4
	out := make([]byte, rowLen*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*rowLen:(y+1)*rowLen], img.Pix[off:off+rowLen])
	}
	return out
}

// toRGB flattens any image to a tightly packed RGB8 buffer.
func toRGB(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := src.PixOffset(b.Min.X, y)
			row := src.Pix[off : off+b.Dx()*4]
			for x := 0; x < len(row); x += 4 {
				out = append(out, row[x], row[x+1], row[x+2])
			}
		}
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				out = append(out, r, g, bl)
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out = append(out, c.R, c.G, c.B)
			}
		}
	}
	return out
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}
