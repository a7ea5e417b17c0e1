// Command pixseq-encode encodes a local image or GIF into a Sequence and
// writes it as JSON, optionally zstd-compressed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/pipeline"
	"github.com/zsiec/pixseq/internal/raster"
)

type options struct {
	format   string
	bits     int
	width    int
	filter   string
	alphabet string
	out      string
	zstd     bool
	verbose  bool
}

func main() {
	var o options
	flag.StringVar(&o.format, "format", "", "input format: gif, png or jpeg (default: from file extension)")
	flag.IntVar(&o.bits, "bits", 8, "bits per colour channel, 1-8")
	flag.IntVar(&o.width, "width", 40, "target width in pixels")
	flag.StringVar(&o.filter, "filter", "nearest", "resampling filter: nearest, bilinear, catmullrom, box, lanczos")
	flag.StringVar(&o.alphabet, "alphabet", "", `token alphabet: "default" or "safe" (no '"' or '\')`)
	flag.StringVar(&o.out, "o", "", "output file (default: stdout)")
	flag.BoolVar(&o.zstd, "zstd", false, "compress output with zstd")
	flag.BoolVar(&o.verbose, "v", false, "log encode timings to stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pixseq-encode [flags] <image | ->\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log, o, flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "pixseq-encode: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, o options, path string) error {
	opts, err := o.pipelineOptions(path)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	seq, err := pipeline.New(log).Encode(ctx, in, opts)
	if err != nil {
		return err
	}

	if o.out == "" {
		return writeSequence(os.Stdout, seq, o.zstd)
	}
	f, err := os.Create(o.out)
	if err != nil {
		return err
	}
	return writeAndClose(f, seq, o.zstd)
}

// writeAndClose writes v to wc and closes it. A failed Close is reported
// because some filesystems only surface write errors there.
func writeAndClose(wc io.WriteCloser, v any, compress bool) error {
	err := writeSequence(wc, v, compress)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	return err
}

// pipelineOptions routes the flags through pipeline.ParseQuery so the CLI
// and the network surfaces validate identically.
func (o options) pipelineOptions(path string) (pipeline.Options, error) {
	format := o.format
	if format == "" {
		format = formatFromExt(path)
	}
	q := url.Values{
		"format":    {format},
		"bit_depth": {fmt.Sprint(o.bits)},
		"max_width": {fmt.Sprint(o.width)},
		"filter":    {o.filter},
		"alphabet":  {o.alphabet},
	}
	return pipeline.ParseQuery(q, frames.FilterNearest)
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif":
		return raster.FormatGIF.String()
	case ".png":
		return raster.FormatPNG.String()
	case ".jpg", ".jpeg":
		return raster.FormatJPEG.String()
	}
	return ""
}

func writeSequence(w io.Writer, v any, compress bool) error {
	if !compress {
		return json.NewEncoder(w).Encode(v)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(v); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}
