// Package timeline builds per-pixel colour timelines from a stack of frames.
// Every frame is quantized, packed and tokenized, then transposed so each
// pixel position gets its own run-length compressed history.
package timeline

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// PixelEvent is a maximal run of one colour at one pixel position.
type PixelEvent struct {
	Color    ColorToken
	Duration int
}

// PixelTimeline is the ordered event history of one pixel position.
type PixelTimeline []PixelEvent

// Frames returns the total number of frames the timeline spans.
func (pt PixelTimeline) Frames() int {
	n := 0
	for _, e := range pt {
		n += e.Duration
	}
	return n
}

// Matrix holds one timeline per pixel position in row-major order.
type Matrix []PixelTimeline

// Validate checks the run-length invariants: every duration is positive,
// adjacent events differ in colour and each timeline spans frames frames.
func (m Matrix) Validate(frames int) error {
	for p, pt := range m {
		for i, e := range pt {
			if e.Duration < 1 {
				return fmt.Errorf("timeline: pixel %d event %d has duration %d", p, i, e.Duration)
			}
			if i > 0 && pt[i-1].Color == e.Color {
				return fmt.Errorf("timeline: pixel %d events %d and %d share colour %q", p, i-1, i, e.Color)
			}
		}
		if n := pt.Frames(); n != frames {
			return fmt.Errorf("timeline: pixel %d spans %d frames, want %d", p, n, frames)
		}
	}
	return nil
}

// Build produces the Matrix for frames, each a packed RGB8 buffer of pixels
// positions. Packing runs concurrently per frame and folding runs
// concurrently per block of pixel positions; within one position frames are
// folded strictly in order.
func Build(ctx context.Context, frames [][]byte, pixels int, tok *Tokenizer) (Matrix, error) {
	for i, f := range frames {
		if len(f) != pixels*3 {
			return nil, fmt.Errorf("timeline: frame %d has %d bytes, want %d", i, len(f), pixels*3)
		}
	}

	packed, err := packFrames(ctx, frames, pixels, tok)
	if err != nil {
		return nil, err
	}
	return fold(ctx, packed, pixels, tok)
}

func packFrames(ctx context.Context, frames [][]byte, pixels int, tok *Tokenizer) ([][]uint32, error) {
	packed := make([][]uint32, len(frames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := make([]uint32, pixels)
			for p := range out {
				out[p] = tok.Pack(f[p*3], f[p*3+1], f[p*3+2])
			}
			packed[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return packed, nil
}

// fold transposes frame-major packed colours into pixel-major timelines.
// Packed values compare equal exactly when their tokens do, so tokens are
// only encoded when a new event starts.
func fold(ctx context.Context, packed [][]uint32, pixels int, tok *Tokenizer) (Matrix, error) {
	m := make(Matrix, pixels)

	g, ctx := errgroup.WithContext(ctx)
	workers := runtime.GOMAXPROCS(0)
	for _, sh := range shards(pixels, workers) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cache := make(map[uint32]ColorToken)
			for p := sh.lo; p < sh.hi; p++ {
				var (
					pt   PixelTimeline
					last uint32
				)
				for f := range packed {
					c := packed[f][p]
					if len(pt) > 0 && c == last {
						pt[len(pt)-1].Duration++
						continue
					}
					t, ok := cache[c]
					if !ok {
						t = tok.Encode(c)
						cache[c] = t
					}
					pt = append(pt, PixelEvent{Color: t, Duration: 1})
					last = c
				}
				m[p] = pt
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

type span struct {
	lo, hi int
}

// shards splits [0, n) into at most parts contiguous, non-empty ranges.
func shards(n, parts int) []span {
	if n <= 0 {
		return nil
	}
	parts = max(1, min(parts, n))
	out := make([]span, 0, parts)
	size := (n + parts - 1) / parts
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo: lo, hi: min(lo+size, n)})
	}
	return out
}

// Shards exposes the partitioning used by Build so that later stages can
// split work over the same index ranges.
func Shards(n, parts int) [][2]int {
	s := shards(n, parts)
	out := make([][2]int, len(s))
	for i, sp := range s {
		out[i] = [2]int{sp.lo, sp.hi}
	}
	return out
}
