// Package sequence assembles per-pixel timelines into the exported Sequence
// and provides the matching parser and replayer for consumers.
//
// The serialized matrix grammar is
//
//	Sequence   := '[' Row (',' Row)* ']'
//	Row        := '[' Event (',' Event)* ']'
//	Event      := '["' token '",' duration ']'
//
// with empty lists written as "[]". Tokens are emitted verbatim without
// escaping.
package sequence

import (
	"context"
	"fmt"

	"github.com/zsiec/pixseq/internal/timeline"
)

// Sequence is the encoded result of one upload. Matrices holds one
// serialized matrix per chunk; today there is always exactly one chunk.
type Sequence struct {
	StepLength   int      `json:"step_length"`
	Length       int      `json:"length"`
	Duration     int      `json:"duration"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Matrices     []string `json:"matrices"`
	NumChunks    int      `json:"num_chunks"`
	MaxChunkSize int      `json:"max_chunk_size"`
	BitDepth     int      `json:"bit_depth"`
}

// Meta carries the values Assemble needs besides the matrix itself.
type Meta struct {
	Width      int
	Height     int
	StepLength int
	Length     int // number of source frames
	BitDepth   int
}

// Assemble serializes m and wraps it with meta into a single-chunk Sequence.
func Assemble(ctx context.Context, m timeline.Matrix, meta Meta) (*Sequence, error) {
	if len(m) != meta.Width*meta.Height {
		return nil, fmt.Errorf("sequence: matrix has %d rows, want %d for %dx%d",
			len(m), meta.Width*meta.Height, meta.Width, meta.Height)
	}
	body, err := SerializeMatrix(ctx, m)
	if err != nil {
		return nil, err
	}
	return &Sequence{
		StepLength:   meta.StepLength,
		Length:       meta.Length,
		Duration:     meta.StepLength * meta.Length,
		Width:        meta.Width,
		Height:       meta.Height,
		Matrices:     []string{body},
		NumChunks:    1,
		MaxChunkSize: meta.Length,
		BitDepth:     meta.BitDepth,
	}, nil
}
