package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/url"
	"strings"
	"testing"

	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/raster"
	"github.com/zsiec/pixseq/internal/sequence"
	"github.com/zsiec/pixseq/internal/timeline"
)

// gifOf builds a w x h GIF whose frame i is filled with colors[i].
func gifOf(t *testing.T, w, h, delay int, colors ...color.RGBA) *bytes.Buffer {
	t.Helper()
	p := color.Palette{color.RGBA{0, 0, 0, 255}}
	index := map[color.RGBA]uint8{{0, 0, 0, 255}: 0}
	for _, c := range colors {
		if _, ok := index[c]; !ok {
			index[c] = uint8(len(p))
			p = append(p, c)
		}
	}
	g := &gif.GIF{}
	for _, c := range colors {
		img := image.NewPaletted(image.Rect(0, 0, w, h), p)
		for i := range img.Pix {
			img.Pix[i] = index[c]
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delay)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("gif.EncodeAll: %v", err)
	}
	return &buf
}

func TestEncodeSolidColorGIF(t *testing.T) {
	t.Parallel()

	grey := color.RGBA{64, 64, 64, 255}
	buf := gifOf(t, 1, 1, 10, grey, grey, grey)

	enc := New(nil)
	seq, err := enc.Encode(context.Background(), buf, Options{
		Format:   raster.FormatGIF,
		BitDepth: 8,
		MaxWidth: 1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if seq.Length != 3 {
		t.Errorf("Length: got %d, want 3", seq.Length)
	}
	if seq.StepLength != 100 || seq.Duration != 300 {
		t.Errorf("timing: got step %d duration %d, want 100 and 300", seq.StepLength, seq.Duration)
	}
	if len(seq.Matrices) != 1 || seq.NumChunks != 1 || seq.MaxChunkSize != 3 {
		t.Fatalf("chunks: got %d matrices, num_chunks %d, max_chunk_size %d", len(seq.Matrices), seq.NumChunks, seq.MaxChunkSize)
	}
	if want := `[[["&'T7",3]]]`; seq.Matrices[0] != want {
		t.Errorf("matrix: got %s, want %s", seq.Matrices[0], want)
	}

	stats := enc.Stats()
	if stats.Encoded != 1 || stats.FramesEncoded != 3 || stats.PixelsEncoded != 3 {
		t.Errorf("stats: got %+v", stats)
	}
	if stats.BytesReceived == 0 {
		t.Error("BytesReceived should count the upload")
	}
}

func TestEncodeAlternatingOneBit(t *testing.T) {
	t.Parallel()

	black := color.RGBA{0, 0, 0, 255}
	white := color.RGBA{255, 255, 255, 255}
	buf := gifOf(t, 1, 1, 5, black, white, black)

	seq, err := New(nil).Encode(context.Background(), buf, Options{
		Format:   raster.FormatGIF,
		BitDepth: 1,
		MaxWidth: 1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := `[[["!",1],["(",1],["!",1]]]`; seq.Matrices[0] != want {
		t.Errorf("matrix: got %s, want %s", seq.Matrices[0], want)
	}
}

func TestEncodeUnsupportedFormatSkipsDecode(t *testing.T) {
	t.Parallel()

	q := url.Values{"format": {"bmp"}, "bit_depth": {"8"}, "max_width": {"10"}}
	_, err := ParseQuery(q, frames.FilterNearest)
	if !errors.Is(err, raster.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !IsInvalidInput(err) {
		t.Error("unsupported format should classify as invalid input")
	}
}

func TestEncodeValidatesBeforeReading(t *testing.T) {
	t.Parallel()

	r := &failingReader{}
	_, err := New(nil).Encode(context.Background(), r, Options{Format: raster.FormatPNG, BitDepth: 9, MaxWidth: 1})
	if !errors.Is(err, timeline.ErrInvalidBitDepth) {
		t.Fatalf("expected ErrInvalidBitDepth, got %v", err)
	}
	if r.reads != 0 {
		t.Errorf("reader was read %d times before validation failed", r.reads)
	}
}

func TestEncodeScalesPNG(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	seq, err := New(nil).Encode(context.Background(), &buf, Options{
		Format:   raster.FormatPNG,
		BitDepth: 4,
		MaxWidth: 40,
		Filter:   frames.FilterLanczos,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if seq.Width != 40 || seq.Height != 20 {
		t.Errorf("dimensions: got %dx%d, want 40x20", seq.Width, seq.Height)
	}
	if seq.StepLength != raster.StaticDelay || seq.Length != 1 {
		t.Errorf("static image: got step %d length %d", seq.StepLength, seq.Length)
	}

	m, err := sequence.ParseMatrix(seq.Matrices[0])
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}
	if len(m) != 800 {
		t.Fatalf("rows: got %d, want 800", len(m))
	}
	if err := m.Validate(1); err != nil {
		t.Fatal(err)
	}
}

func TestEncodeCorruptUpload(t *testing.T) {
	t.Parallel()

	enc := New(nil)
	_, err := enc.Encode(context.Background(), strings.NewReader("GIF89a garbage"), Options{
		Format:   raster.FormatGIF,
		BitDepth: 8,
		MaxWidth: 4,
	})
	if !errors.Is(err, raster.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if !IsBadData(err) {
		t.Error("decode failure should classify as bad data")
	}
	if got := enc.Stats().Rejected; got != 1 {
		t.Errorf("Rejected: got %d, want 1", got)
	}
}

func TestEncodeReplays(t *testing.T) {
	t.Parallel()

	red := color.RGBA{255, 0, 0, 255}
	blue := color.RGBA{0, 0, 255, 255}
	buf := gifOf(t, 4, 2, 4, red, red, blue, red)

	seq, err := New(nil).Encode(context.Background(), buf, Options{
		Format:   raster.FormatGIF,
		BitDepth: 2,
		MaxWidth: 2,
		Alphabet: "0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	opts := Options{BitDepth: 2, Alphabet: "0123456789abcdef"}
	tok, err := timeline.NewTokenizer(opts.BitDepth, opts.converter())
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}
	pl, err := sequence.NewPlayer(seq, tok)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	want := [][3]uint8{{3, 0, 0}, {3, 0, 0}, {0, 0, 3}, {3, 0, 0}}
	for tick, c := range want {
		got, err := pl.Frame(tick)
		if err != nil {
			t.Fatalf("Frame(%d): %v", tick, err)
		}
		for p := range got {
			if got[p] != c {
				t.Errorf("tick %d pixel %d: got %v, want %v", tick, p, got[p], c)
			}
		}
	}
}

func TestParseQuery(t *testing.T) {
	t.Parallel()

	q := url.Values{
		"format":    {"gif"},
		"bit_depth": {"4"},
		"max_width": {"40"},
		"filter":    {"catmullrom"},
		"alphabet":  {"safe"},
	}
	o, err := ParseQuery(q, frames.FilterNearest)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if o.Format != raster.FormatGIF || o.BitDepth != 4 || o.MaxWidth != 40 || o.Filter != frames.FilterCatmullRom {
		t.Errorf("got %+v", o)
	}
	if o.converter().Radix() != 92 {
		t.Errorf("alphabet radix: got %d, want 92", o.converter().Radix())
	}

	o, err = ParseQuery(url.Values{"format": {"png"}, "bit_depth": {"8"}, "max_width": {"1"}}, frames.FilterBox)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if o.Filter != frames.FilterBox {
		t.Errorf("default filter: got %v, want box", o.Filter)
	}
	if o.converter().Radix() != 94 {
		t.Errorf("default alphabet radix: got %d, want 94", o.converter().Radix())
	}
}

func TestParseQueryErrors(t *testing.T) {
	t.Parallel()

	base := func() url.Values {
		return url.Values{"format": {"png"}, "bit_depth": {"8"}, "max_width": {"10"}}
	}
	tests := []struct {
		name string
		key  string
		val  string
		want error
	}{
		{"format case", "format", "PNG", raster.ErrUnsupportedFormat},
		{"depth zero", "bit_depth", "0", timeline.ErrInvalidBitDepth},
		{"depth nine", "bit_depth", "9", timeline.ErrInvalidBitDepth},
		{"depth text", "bit_depth", "eight", timeline.ErrInvalidBitDepth},
		{"width zero", "max_width", "0", ErrInvalidWidth},
		{"width negative", "max_width", "-3", ErrInvalidWidth},
		{"width missing", "max_width", "", ErrInvalidWidth},
		{"filter", "filter", "sinc", frames.ErrUnknownFilter},
		{"alphabet", "alphabet", "emoji", ErrInvalidAlphabet},
	}
	for _, tt := range tests {
		q := base()
		q.Set(tt.key, tt.val)
		_, err := ParseQuery(q, frames.FilterNearest)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
		if !IsInvalidInput(err) {
			t.Errorf("%s: should classify as invalid input", tt.name)
		}
	}
}

type failingReader struct {
	reads int
}

func (f *failingReader) Read([]byte) (int, error) {
	f.reads++
	return 0, errors.New("read should not happen")
}

func whitePNG(t *testing.T, w, h int) *bytes.Buffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return &buf
}

func TestEncodeRejectsOversizedTarget(t *testing.T) {
	t.Parallel()

	white := color.RGBA{255, 255, 255, 255}
	many := make([]color.RGBA, 65)
	for i := range many {
		many[i] = white
	}

	tests := []struct {
		name   string
		upload func(*testing.T) *bytes.Buffer
		format raster.Format
		width  int
	}{
		{"huge width", func(t *testing.T) *bytes.Buffer { return whitePNG(t, 2, 1) }, raster.FormatPNG, 1 << 40},
		{"width over cap", func(t *testing.T) *bytes.Buffer { return whitePNG(t, 2, 1) }, raster.FormatPNG, MaxTargetPixels + 1},
		{"tall target", func(t *testing.T) *bytes.Buffer { return whitePNG(t, 1, 2000) }, raster.FormatPNG, 1000},
		{"too many cells", func(t *testing.T) *bytes.Buffer { return gifOf(t, 1, 1, 10, many...) }, raster.FormatGIF, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			enc := New(nil)
			_, err := enc.Encode(context.Background(), tt.upload(t), Options{
				Format:   tt.format,
				BitDepth: 8,
				MaxWidth: tt.width,
			})
			if !errors.Is(err, ErrInvalidWidth) {
				t.Fatalf("expected ErrInvalidWidth, got %v", err)
			}
			if !IsInvalidInput(err) {
				t.Error("oversized target should classify as invalid input")
			}
			if got := enc.Stats().Rejected; got != 1 {
				t.Errorf("Rejected: got %d, want 1", got)
			}
		})
	}
}

func TestEncodeRejectsOversizedSource(t *testing.T) {
	t.Parallel()

	buf := gifOf(t, 1, 1, 10, color.RGBA{255, 255, 255, 255})
	b := buf.Bytes()
	// Logical screen width and height, little-endian, right after "GIF89a".
	b[6], b[7], b[8], b[9] = 0xff, 0xff, 0xff, 0xff

	_, err := New(nil).Encode(context.Background(), bytes.NewReader(b), Options{
		Format:   raster.FormatGIF,
		BitDepth: 8,
		MaxWidth: 4,
	})
	if !errors.Is(err, raster.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if !IsBadData(err) {
		t.Error("oversized source should classify as bad data")
	}
}
