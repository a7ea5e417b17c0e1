// Package basen encodes non-negative integers as strings over an arbitrary
// ordered alphabet, where the radix is the alphabet size.
package basen

import (
	"errors"
	"fmt"
)

// DefaultAlphabet is every printable ASCII character from '!' (0x21) to
// '~' (0x7E) in code-point order, giving radix 94.
const DefaultAlphabet = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// QuoteSafeAlphabet is DefaultAlphabet without '"' and '\' (radix 92), for
// consumers that embed tokens in quoted strings without escaping.
const QuoteSafeAlphabet = "!#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ[]^_`abcdefghijklmnopqrstuvwxyz{|}~"

// ErrInvalidSymbol is returned when Decode meets a character outside the
// alphabet.
var ErrInvalidSymbol = errors.New("basen: invalid symbol")

// SymbolError reports the offending rune and its byte offset in the input.
type SymbolError struct {
	Symbol rune
	Offset int
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("basen: invalid symbol %q at offset %d", e.Symbol, e.Offset)
}

func (e *SymbolError) Unwrap() error {
	return ErrInvalidSymbol
}

// Converter is an immutable bidirectional mapping between integers and
// strings in radix len(alphabet). Symbols must be distinct; duplicates make
// Decode ambiguous and are not checked.
type Converter struct {
	symbols []rune
	index   map[rune]uint64
}

// New returns a Converter over the runes of alphabet.
func New(alphabet string) *Converter {
	symbols := []rune(alphabet)
	c := &Converter{
		symbols: symbols,
		index:   make(map[rune]uint64, len(symbols)),
	}
	for i, r := range symbols {
		c.index[r] = uint64(i)
	}
	return c
}

// Default returns a Converter over DefaultAlphabet.
func Default() *Converter {
	return New(DefaultAlphabet)
}

// Radix returns the alphabet size.
func (c *Converter) Radix() int {
	return len(c.symbols)
}

// Alphabet returns the symbols in positional order.
func (c *Converter) Alphabet() string {
	return string(c.symbols)
}

// Encode returns n most-significant digit first. Zero encodes as the single
// symbol at index 0.
func (c *Converter) Encode(n uint64) string {
	radix := uint64(len(c.symbols))
	// 64 digits covers uint64 in radix 2, the smallest useful alphabet.
	var buf [64]rune
	i := len(buf)
	for {
		i--
		buf[i] = c.symbols[n%radix]
		n /= radix
		if n == 0 {
			break
		}
	}
	return string(buf[i:])
}

// Decode parses s as a radix-N numeral. It fails on the first character that
// is not part of the alphabet.
func (c *Converter) Decode(s string) (uint64, error) {
	radix := uint64(len(c.symbols))
	var n uint64
	for off, r := range s {
		digit, ok := c.index[r]
		if !ok {
			return 0, &SymbolError{Symbol: r, Offset: off}
		}
		n = n*radix + digit
	}
	return n, nil
}
