// Package bitfield packs an ordered tuple of fixed-width unsigned values into
// a single uint32 and unpacks it again. Field i occupies the bits starting at
// the sum of the widths of fields 0..i-1.
//
// The total width is not validated. A layout wider than 32 bits produces
// meaningless masks rather than an error, so callers must pick widths that
// fit.
package bitfield

import (
	"errors"
	"fmt"
)

// ErrArity is returned when Encode receives a different number of values
// than the Spec has fields.
var ErrArity = errors.New("bitfield: value count does not match field count")

// ArityError records the expected and received value counts.
type ArityError struct {
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("bitfield: expected %d values, got %d", e.Want, e.Got)
}

func (e *ArityError) Unwrap() error {
	return ErrArity
}

type field struct {
	mask  uint32
	shift uint32
	max   uint32
}

// Spec is an immutable packed-field layout.
type Spec struct {
	fields []field
	width  uint32
}

// New builds a Spec from per-field bit widths, least significant field first.
func New(widths ...uint32) *Spec {
	s := &Spec{fields: make([]field, len(widths))}
	var shift uint32
	for i, w := range widths {
		limit := uint32(1<<w - 1)
		s.fields[i] = field{
			mask:  limit << shift,
			shift: shift,
			max:   limit,
		}
		shift += w
	}
	s.width = shift
	return s
}

// Fields returns the number of fields in the layout.
func (s *Spec) Fields() int {
	return len(s.fields)
}

// Width returns the total number of bits the layout occupies.
func (s *Spec) Width() uint32 {
	return s.width
}

// Max returns the largest value field i can hold.
func (s *Spec) Max(i int) uint32 {
	return s.fields[i].max
}

// Encode packs values into one integer. Bits of a value beyond its field
// width are discarded by the mask, so an oversized value v is stored as
// v mod 2^width.
func (s *Spec) Encode(values ...uint32) (uint32, error) {
	if len(values) != len(s.fields) {
		return 0, &ArityError{Want: len(s.fields), Got: len(values)}
	}
	var packed uint32
	for i, f := range s.fields {
		packed |= (values[i] << f.shift) & f.mask
	}
	return packed, nil
}

// Decode unpacks every field of packed.
func (s *Spec) Decode(packed uint32) []uint32 {
	out := make([]uint32, len(s.fields))
	for i, f := range s.fields {
		out[i] = (packed & f.mask) >> f.shift
	}
	return out
}
