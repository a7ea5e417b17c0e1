package basen

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultAlphabet(t *testing.T) {
	t.Parallel()

	if len(DefaultAlphabet) != 94 {
		t.Fatalf("len: got %d, want 94", len(DefaultAlphabet))
	}
	for i := 0; i < len(DefaultAlphabet); i++ {
		if want := byte(0x21 + i); DefaultAlphabet[i] != want {
			t.Fatalf("symbol %d: got %q, want %q", i, DefaultAlphabet[i], want)
		}
	}
	if Default().Radix() != 94 {
		t.Errorf("Radix: got %d, want 94", Default().Radix())
	}
}

func TestEncodeZero(t *testing.T) {
	t.Parallel()

	c := Default()
	if got := c.Encode(0); got != "!" {
		t.Errorf("Encode(0): got %q, want %q", got, "!")
	}
	if got := New("ab").Encode(0); got != "a" {
		t.Errorf("binary Encode(0): got %q, want %q", got, "a")
	}
}

func TestEncodeKnownValues(t *testing.T) {
	t.Parallel()

	c := Default()
	tests := []struct {
		n    uint64
		want string
	}{
		{1, "\""},
		{93, "~"},
		{94, "\"!"},
		{95, "\"\""},
		{94*94 - 1, "~~"},
		{94 * 94, "\"!!"},
	}
	for _, tt := range tests {
		if got := c.Encode(tt.n); got != tt.want {
			t.Errorf("Encode(%d): got %q, want %q", tt.n, got, tt.want)
		}
	}

	hex := New("0123456789abcdef")
	if got := hex.Encode(0xbeef); got != "beef" {
		t.Errorf("hex Encode: got %q, want %q", got, "beef")
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, alphabet := range []string{DefaultAlphabet, "01", "0123456789", "xyz"} {
		c := New(alphabet)
		r := uint64(c.Radix())
		values := []uint64{0, 1, r - 1, r, r + 1, r*r - 1, r * r, 1<<24 - 1, 1<<32 - 1, 1<<64 - 1}
		for n := uint64(0); n < 5000; n += 7 {
			values = append(values, n)
		}
		for _, n := range values {
			s := c.Encode(n)
			got, err := c.Decode(s)
			if err != nil {
				t.Fatalf("alphabet %q: Decode(%q): %v", alphabet, s, err)
			}
			if got != n {
				t.Errorf("alphabet %q: Decode(Encode(%d)) = %d", alphabet, n, got)
			}
		}
	}
}

func TestEncodeLength(t *testing.T) {
	t.Parallel()

	c := Default()
	tests := []struct {
		n    uint64
		want int
	}{
		{0, 1},
		{93, 1},
		{94, 2},
		{94*94 - 1, 2},
		{94 * 94, 3},
		{1<<24 - 1, 4},
	}
	for _, tt := range tests {
		if got := len(c.Encode(tt.n)); got != tt.want {
			t.Errorf("len(Encode(%d)): got %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestDecodeStringRoundTrip(t *testing.T) {
	t.Parallel()

	c := Default()
	for _, s := range []string{"~", "\"!", "Az", "~~~", "q{|"} {
		n, err := c.Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if got := c.Encode(n); got != s {
			t.Errorf("Encode(Decode(%q)) = %q", s, got)
		}
	}
}

func TestDecodeInvalidSymbol(t *testing.T) {
	t.Parallel()

	c := Default()
	for _, s := range []string{" ", "ab c", "\x7f", "é", "abc\n"} {
		_, err := c.Decode(s)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("Decode(%q): expected ErrInvalidSymbol, got %v", s, err)
			continue
		}
		var se *SymbolError
		if !errors.As(err, &se) {
			t.Fatalf("Decode(%q): expected *SymbolError, got %T", s, err)
		}
		if strings.IndexRune(s, se.Symbol) != se.Offset {
			t.Errorf("Decode(%q): offset %d does not point at %q", s, se.Offset, se.Symbol)
		}
	}

	bin := New("01")
	if _, err := bin.Decode("0120"); !errors.Is(err, ErrInvalidSymbol) {
		t.Errorf("binary Decode: expected ErrInvalidSymbol, got %v", err)
	}
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	n, err := Default().Decode("")
	if err != nil || n != 0 {
		t.Errorf("Decode(\"\"): got (%d, %v), want (0, nil)", n, err)
	}
}

func TestQuoteSafeAlphabet(t *testing.T) {
	t.Parallel()

	if len(QuoteSafeAlphabet) != 92 {
		t.Fatalf("len: got %d, want 92", len(QuoteSafeAlphabet))
	}
	if strings.ContainsAny(QuoteSafeAlphabet, "\"\\") {
		t.Fatal("alphabet contains a quote or backslash")
	}
	c := New(QuoteSafeAlphabet)
	for n := uint64(0); n < 1<<24; n += 4099 {
		if strings.ContainsAny(c.Encode(n), "\"\\") {
			t.Fatalf("Encode(%d) produced an unsafe symbol", n)
		}
	}
}
