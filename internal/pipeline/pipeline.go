// Package pipeline runs one upload through decode, frame preparation,
// timeline building and assembly, and keeps running totals for the stats
// API.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/raster"
	"github.com/zsiec/pixseq/internal/sequence"
	"github.com/zsiec/pixseq/internal/timeline"
)

// Stats is a point-in-time snapshot of encoder counters.
type Stats struct {
	Encoded       int64 `json:"encoded"`
	Rejected      int64 `json:"rejected"`
	Failed        int64 `json:"failed"`
	BytesReceived int64 `json:"bytesReceived"`
	FramesEncoded int64 `json:"framesEncoded"`
	PixelsEncoded int64 `json:"pixelsEncoded"`
	LastEncodeMs  int64 `json:"lastEncodeMs"`
}

// Encoder turns uploads into Sequences. It holds no per-request state and
// is safe for concurrent use.
type Encoder struct {
	log *slog.Logger

	encoded       atomic.Int64
	rejected      atomic.Int64
	failed        atomic.Int64
	bytesReceived atomic.Int64
	framesEncoded atomic.Int64
	pixelsEncoded atomic.Int64
	lastEncodeMs  atomic.Int64
}

// New creates an Encoder. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Encoder {
	if log == nil {
		log = slog.Default()
	}
	return &Encoder{log: log.With("component", "encoder")}
}

// Stats returns the current counters.
func (e *Encoder) Stats() Stats {
	return Stats{
		Encoded:       e.encoded.Load(),
		Rejected:      e.rejected.Load(),
		Failed:        e.failed.Load(),
		BytesReceived: e.bytesReceived.Load(),
		FramesEncoded: e.framesEncoded.Load(),
		PixelsEncoded: e.pixelsEncoded.Load(),
		LastEncodeMs:  e.lastEncodeMs.Load(),
	}
}

// Encode reads a complete upload from r and encodes it with opts. Options
// are validated before any byte is decoded.
func (e *Encoder) Encode(ctx context.Context, r io.Reader, opts Options) (*sequence.Sequence, error) {
	seq, err := e.encode(ctx, r, opts)
	switch {
	case err == nil:
		e.encoded.Add(1)
	case IsInvalidInput(err) || IsBadData(err):
		e.rejected.Add(1)
	default:
		e.failed.Add(1)
	}
	return seq, err
}

func (e *Encoder) encode(ctx context.Context, r io.Reader, opts Options) (*sequence.Sequence, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	tok, err := timeline.NewTokenizer(opts.BitDepth, opts.converter())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cr := &countingReader{r: r}
	data, err := raster.Decode(cr, opts.Format)
	e.bytesReceived.Add(cr.n)
	if err != nil {
		return nil, err
	}
	decoded := time.Now()

	if data.Width > 0 {
		w, h := frames.ScaleDimensions(data.Width, data.Height, opts.MaxWidth)
		if err := checkTarget(w, h, len(data.Frames)); err != nil {
			return nil, err
		}
	}

	prepared, err := frames.Prepare(ctx, data, opts.MaxWidth, opts.Filter)
	if err != nil {
		return nil, err
	}
	resampled := time.Now()

	m, err := timeline.Build(ctx, prepared.Frames, prepared.Pixels(), tok)
	if err != nil {
		return nil, err
	}
	built := time.Now()

	seq, err := sequence.Assemble(ctx, m, sequence.Meta{
		Width:      prepared.Width,
		Height:     prepared.Height,
		StepLength: prepared.StepLength,
		Length:     len(prepared.Frames),
		BitDepth:   opts.BitDepth,
	})
	if err != nil {
		return nil, err
	}
	done := time.Now()

	e.framesEncoded.Add(int64(seq.Length))
	e.pixelsEncoded.Add(int64(seq.Length) * int64(prepared.Pixels()))
	e.lastEncodeMs.Store(done.Sub(start).Milliseconds())

	e.log.Info("encoded",
		"format", opts.Format,
		"bytes", cr.n,
		"source", [2]int{data.Width, data.Height},
		"target", [2]int{seq.Width, seq.Height},
		"frames", seq.Length,
		"bit_depth", seq.BitDepth,
		"filter", opts.Filter,
		"step_ms", seq.StepLength,
	)
	e.log.Debug("encode timings",
		"decode", decoded.Sub(start),
		"prepare", resampled.Sub(decoded),
		"build", built.Sub(resampled),
		"assemble", done.Sub(built),
		"total", done.Sub(start),
	)
	return seq, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
