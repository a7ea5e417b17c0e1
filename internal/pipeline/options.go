package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/zsiec/pixseq/internal/basen"
	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/raster"
	"github.com/zsiec/pixseq/internal/timeline"
)

// ErrInvalidWidth is returned for a missing, non-numeric or non-positive
// target width, and for widths whose scaled output would exceed the limits
// below.
var ErrInvalidWidth = errors.New("pipeline: max width must be a positive integer")

// Output limits. MaxTargetPixels bounds one resampled frame and
// MaxTimelineCells bounds frames times pixels for a whole encode.
const (
	MaxTargetPixels  = 1 << 20
	MaxTimelineCells = 1 << 26
)

// ErrInvalidAlphabet is returned for an unknown alphabet name.
var ErrInvalidAlphabet = errors.New("pipeline: unknown alphabet")

// Alphabet names accepted by ParseQuery.
var alphabets = map[string]string{
	"":        basen.DefaultAlphabet,
	"default": basen.DefaultAlphabet,
	"safe":    basen.QuoteSafeAlphabet,
}

// Options controls one encode.
type Options struct {
	Format   raster.Format
	BitDepth int
	MaxWidth int
	Filter   frames.Filter
	// Alphabet is the token alphabet; empty selects basen.DefaultAlphabet.
	Alphabet string
}

// Validate checks the numeric options. Format and Filter are already typed.
func (o Options) Validate() error {
	if err := timeline.ValidateBitDepth(o.BitDepth); err != nil {
		return err
	}
	if o.MaxWidth <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidWidth, o.MaxWidth)
	}
	if o.MaxWidth > MaxTargetPixels {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidWidth, o.MaxWidth, MaxTargetPixels)
	}
	return nil
}

// checkTarget rejects a scaled output that would not fit the limits.
func checkTarget(w, h, frames int) error {
	px := int64(w) * int64(h)
	if px > MaxTargetPixels {
		return fmt.Errorf("%w: target %dx%d exceeds %d pixels", ErrInvalidWidth, w, h, MaxTargetPixels)
	}
	if px*int64(frames) > MaxTimelineCells {
		return fmt.Errorf("%w: %d frames at %dx%d exceed %d cells", ErrInvalidWidth, frames, w, h, MaxTimelineCells)
	}
	return nil
}

func (o Options) converter() *basen.Converter {
	if o.Alphabet == "" {
		return basen.Default()
	}
	return basen.New(o.Alphabet)
}

// ParseQuery reads options from format, bit_depth, max_width and the optional
// filter and alphabet parameters. defaultFilter applies when filter is absent.
func ParseQuery(q url.Values, defaultFilter frames.Filter) (Options, error) {
	var o Options

	f, err := raster.ParseFormat(q.Get("format"))
	if err != nil {
		return o, err
	}
	o.Format = f

	depth, err := strconv.Atoi(q.Get("bit_depth"))
	if err != nil {
		return o, fmt.Errorf("%w: %q", timeline.ErrInvalidBitDepth, q.Get("bit_depth"))
	}
	o.BitDepth = depth

	width, err := strconv.Atoi(q.Get("max_width"))
	if err != nil {
		return o, fmt.Errorf("%w: %q", ErrInvalidWidth, q.Get("max_width"))
	}
	o.MaxWidth = width

	o.Filter = defaultFilter
	if s := q.Get("filter"); s != "" {
		if o.Filter, err = frames.ParseFilter(s); err != nil {
			return o, err
		}
	}

	a, ok := alphabets[q.Get("alphabet")]
	if !ok {
		return o, fmt.Errorf("%w: %q", ErrInvalidAlphabet, q.Get("alphabet"))
	}
	o.Alphabet = a

	return o, o.Validate()
}

// IsInvalidInput reports whether err was caused by bad request parameters.
func IsInvalidInput(err error) bool {
	return errors.Is(err, raster.ErrUnsupportedFormat) ||
		errors.Is(err, timeline.ErrInvalidBitDepth) ||
		errors.Is(err, ErrInvalidWidth) ||
		errors.Is(err, ErrInvalidAlphabet) ||
		errors.Is(err, frames.ErrUnknownFilter)
}

// IsBadData reports whether err was caused by the uploaded bytes.
func IsBadData(err error) bool {
	return errors.Is(err, raster.ErrDecode) ||
		errors.Is(err, raster.ErrTooLarge) ||
		errors.Is(err, frames.ErrNoFrames) ||
		errors.Is(err, basen.ErrInvalidSymbol)
}
