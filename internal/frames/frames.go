// Package frames turns decoded uploads into equally sized RGB frames ready
// for timeline building: it derives the target dimensions, strips alpha,
// resamples every frame and computes the playback step length.
package frames

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pixseq/internal/raster"
)

// ErrNoFrames is returned when an upload decodes to zero frames, which
// leaves the step length undefined.
var ErrNoFrames = errors.New("frames: no frames decoded")

// Prepared holds resampled RGB8 frames in their original order.
type Prepared struct {
	Width      int
	Height     int
	StepLength int
	Frames     [][]byte
}

// Pixels returns the number of pixel positions per frame.
func (p *Prepared) Pixels() int {
	return p.Width * p.Height
}

// ScaleDimensions returns the target size for a source image scaled to
// targetWidth with its aspect ratio preserved. Height is rounded to the
// nearest pixel and never drops below one.
func ScaleDimensions(srcWidth, srcHeight, targetWidth int) (int, int) {
	h := int(math.Round(float64(srcHeight) * float64(targetWidth) / float64(srcWidth)))
	if h < 1 {
		h = 1
	}
	return targetWidth, h
}

// StripAlpha drops the alpha byte of every pixel in an RGBA8 buffer. Buffers
// in any other layout are returned unchanged.
func StripAlpha(pix []byte, layout raster.Layout) []byte {
	if layout != raster.LayoutRGBA8 {
		return pix
	}
	out := make([]byte, 0, len(pix)/4*3)
	for i := 0; i+3 < len(pix); i += 4 {
		out = append(out, pix[i], pix[i+1], pix[i+2])
	}
	return out
}

// MinDelay returns the smallest frame delay.
func MinDelay(frames []raster.Frame) (int, error) {
	if len(frames) == 0 {
		return 0, ErrNoFrames
	}
	step := frames[0].Delay
	for _, f := range frames[1:] {
		step = min(step, f.Delay)
	}
	return step, nil
}

// Prepare strips and resamples every frame of d to targetWidth using filter.
// Frames are processed concurrently; the output keeps the input order.
func Prepare(ctx context.Context, d *raster.Data, targetWidth int, filter Filter) (*Prepared, error) {
	step, err := MinDelay(d.Frames)
	if err != nil {
		return nil, err
	}
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("%w: empty source dimensions %dx%d", raster.ErrDecode, d.Width, d.Height)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	w, h := ScaleDimensions(d.Width, d.Height, targetWidth)
	p := &Prepared{
		Width:      w,
		Height:     h,
		StepLength: step,
		Frames:     make([][]byte, len(d.Frames)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range d.Frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rgb := StripAlpha(f.Pix, d.Layout)
			out, err := Resample(rgb, d.Width, d.Height, w, h, filter)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			p.Frames[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}
