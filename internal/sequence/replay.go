package sequence

import (
	"fmt"

	"github.com/zsiec/pixseq/internal/timeline"
)

// Player reconstructs quantized frames from a Sequence.
type Player struct {
	seq    *Sequence
	matrix timeline.Matrix
	tok    *timeline.Tokenizer
}

// NewPlayer parses the matrices of seq. tok must use the same bit depth and
// alphabet the sequence was encoded with.
func NewPlayer(seq *Sequence, tok *timeline.Tokenizer) (*Player, error) {
	if tok.BitDepth() != seq.BitDepth {
		return nil, fmt.Errorf("sequence: tokenizer depth %d does not match sequence depth %d", tok.BitDepth(), seq.BitDepth)
	}
	var m timeline.Matrix
	for i, chunk := range seq.Matrices {
		cm, err := ParseMatrix(chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if i == 0 {
			m = cm
			continue
		}
		if len(cm) != len(m) {
			return nil, fmt.Errorf("sequence: chunk %d has %d rows, want %d", i, len(cm), len(m))
		}
		for p := range m {
			m[p] = append(m[p], cm[p]...)
		}
	}
	if len(m) != seq.Width*seq.Height {
		return nil, fmt.Errorf("sequence: matrix has %d rows, want %d", len(m), seq.Width*seq.Height)
	}
	return &Player{seq: seq, matrix: m, tok: tok}, nil
}

// Frame returns the quantized colour of every pixel, row-major, at tick,
// where tick counts frames from zero.
func (pl *Player) Frame(tick int) ([][3]uint8, error) {
	if tick < 0 || tick >= pl.seq.Length {
		return nil, fmt.Errorf("sequence: tick %d out of range [0,%d)", tick, pl.seq.Length)
	}
	out := make([][3]uint8, len(pl.matrix))
	for p, pt := range pl.matrix {
		t := tick
		found := false
		for _, e := range pt {
			if t < e.Duration {
				c, err := pl.tok.Unpack(e.Color)
				if err != nil {
					return nil, fmt.Errorf("pixel %d: %w", p, err)
				}
				out[p] = c
				found = true
				break
			}
			t -= e.Duration
		}
		if !found {
			return nil, fmt.Errorf("sequence: pixel %d has no event at tick %d", p, tick)
		}
	}
	return out, nil
}

// FrameAt returns the frame on screen at elapsed milliseconds since the
// start of playback.
func (pl *Player) FrameAt(elapsedMs int) ([][3]uint8, error) {
	if pl.seq.StepLength <= 0 {
		return pl.Frame(0)
	}
	return pl.Frame(elapsedMs / pl.seq.StepLength)
}
