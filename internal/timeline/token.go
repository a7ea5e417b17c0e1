package timeline

import (
	"errors"
	"fmt"

	"github.com/zsiec/pixseq/internal/basen"
	"github.com/zsiec/pixseq/internal/bitfield"
)

// ErrInvalidBitDepth is returned for a bit depth outside [MinBitDepth, MaxBitDepth].
var ErrInvalidBitDepth = errors.New("timeline: bit depth out of range")

// Bit depth bounds per colour channel.
const (
	MinBitDepth = 1
	MaxBitDepth = 8
)

// ValidateBitDepth reports whether depth is a usable channel depth.
func ValidateBitDepth(depth int) error {
	if depth < MinBitDepth || depth > MaxBitDepth {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidBitDepth, depth, MinBitDepth, MaxBitDepth)
	}
	return nil
}

// Loss returns the integer divisor that collapses 256 channel levels into
// 2^depth buckets.
func Loss(depth int) int {
	return 1 << (MaxBitDepth - depth)
}

// Quantize maps an 8-bit channel value to its bucket at the given depth.
func Quantize(c uint8, depth int) uint8 {
	return c >> (MaxBitDepth - depth)
}

// ColorToken is the base-N text form of one packed, quantized colour.
type ColorToken string

// Tokenizer turns RGB triples into ColorTokens for one bit depth. It is
// immutable and safe for concurrent use.
type Tokenizer struct {
	depth  int
	fields *bitfield.Spec
	conv   *basen.Converter
}

// NewTokenizer returns a Tokenizer packing three depth-bit channels and
// encoding them with conv. A nil conv selects basen.Default().
func NewTokenizer(depth int, conv *basen.Converter) (*Tokenizer, error) {
	if err := ValidateBitDepth(depth); err != nil {
		return nil, err
	}
	if conv == nil {
		conv = basen.Default()
	}
	d := uint32(depth)
	return &Tokenizer{
		depth:  depth,
		fields: bitfield.New(d, d, d),
		conv:   conv,
	}, nil
}

// BitDepth returns the per-channel depth.
func (t *Tokenizer) BitDepth() int {
	return t.depth
}

// Pack quantizes r, g and b and packs them into one integer, red in the
// lowest bits.
func (t *Tokenizer) Pack(r, g, b uint8) uint32 {
	packed, _ := t.fields.Encode(
		uint32(Quantize(r, t.depth)),
		uint32(Quantize(g, t.depth)),
		uint32(Quantize(b, t.depth)),
	)
	return packed
}

// Encode converts a packed colour to its token.
func (t *Tokenizer) Encode(packed uint32) ColorToken {
	return ColorToken(t.conv.Encode(uint64(packed)))
}

// Token quantizes, packs and encodes one colour.
func (t *Tokenizer) Token(r, g, b uint8) ColorToken {
	return t.Encode(t.Pack(r, g, b))
}

// Unpack decodes a token back to its quantized channel values.
func (t *Tokenizer) Unpack(tok ColorToken) ([3]uint8, error) {
	n, err := t.conv.Decode(string(tok))
	if err != nil {
		return [3]uint8{}, err
	}
	if n>>t.fields.Width() != 0 {
		return [3]uint8{}, fmt.Errorf("timeline: token %q exceeds %d-bit colour", tok, t.fields.Width())
	}
	v := t.fields.Decode(uint32(n))
	return [3]uint8{uint8(v[0]), uint8(v[1]), uint8(v[2])}, nil
}
