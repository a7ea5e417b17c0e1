// Package raster decodes GIF, PNG and JPEG uploads into flat, channel
// interleaved pixel buffers with a per-frame display delay. It is the only
// place that knows about container formats; everything downstream works on
// [Data].
package raster

import (
	"errors"
	"fmt"
)

// Format identifies the container format of an upload.
type Format int

// Supported upload formats.
const (
	FormatGIF Format = iota
	FormatPNG
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatGIF:
		return "gif"
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Layout describes how channels are interleaved in a frame buffer.
type Layout int

// Frame buffer layouts. Both use 8 bits per channel.
const (
	LayoutRGB8 Layout = iota
	LayoutRGBA8
)

// Channels returns the number of bytes per pixel.
func (l Layout) Channels() int {
	if l == LayoutRGBA8 {
		return 4
	}
	return 3
}

func (l Layout) String() string {
	if l == LayoutRGBA8 {
		return "rgba8"
	}
	return "rgb8"
}

// StaticDelay is the delay in milliseconds assigned to the single frame of a
// still image.
const StaticDelay = 1000

// Size limits checked before pixel buffers are allocated. MaxSourcePixels
// bounds one frame as declared in the file header; MaxDecodedPixels bounds
// the sum over all frames of an animation.
const (
	MaxSourcePixels  = 1 << 24
	MaxDecodedPixels = 1 << 27
)

// Sentinel errors for upload validation and decoding.
var (
	ErrUnsupportedFormat = errors.New("raster: unsupported format")
	ErrDecode            = errors.New("raster: decode failed")
	ErrTooLarge          = errors.New("raster: image too large")
)

// DecodeError wraps a decoder failure with the format that was attempted.
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("raster: decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseFormat maps a format tag to a Format. Tags are matched exactly and
// case-sensitively.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "gif":
		return FormatGIF, nil
	case "png":
		return FormatPNG, nil
	case "jpeg":
		return FormatJPEG, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Frame is one decoded picture.
type Frame struct {
	Pix   []byte
	Delay int // milliseconds
}

// Data is the decoded content of one upload. All frames share Width, Height
// and Layout.
type Data struct {
	Width  int
	Height int
	Layout Layout
	Frames []Frame
}

// Validate checks that every frame buffer holds exactly Width*Height pixels
// of the declared layout.
func (d *Data) Validate() error {
	want := d.Width * d.Height * d.Layout.Channels()
	for i, f := range d.Frames {
		if len(f.Pix) != want {
			return fmt.Errorf("%w: frame %d has %d bytes, want %d for %dx%d %s",
				ErrDecode, i, len(f.Pix), want, d.Width, d.Height, d.Layout)
		}
	}
	return nil
}
