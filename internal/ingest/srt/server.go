package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT uploads and registers them with the ingest
// registry for encoding.
type Server struct {
	log           *slog.Logger
	addr          string
	registry      *ingest.Registry
	defaultFilter frames.Filter
}

// NewServer creates an SRT server that listens on addr and registers
// incoming uploads with the given registry. If log is nil, slog.Default()
// is used.
func NewServer(addr string, registry *ingest.Registry, defaultFilter frames.Filter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:           log.With("component", "srt-server"),
		addr:          addr,
		registry:      registry,
		defaultFilter: defaultFilter,
	}
}

// Start begins accepting SRT uploads. It blocks until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if _, _, err := parseStreamID(req.StreamID, s.defaultFilter); err != nil {
			s.log.Warn("rejecting upload", "stream_id", req.StreamID, "error", err)
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key, opts, err := parseStreamID(conn.StreamID(), s.defaultFilter)
	if err != nil {
		s.log.Warn("invalid stream id", "stream_id", conn.StreamID(), "error", err)
		return
	}

	upload, writer, err := s.registry.Register(key, opts)
	if err != nil {
		s.log.Warn("upload refused", "key", key, "error", err)
		return
	}
	upload.SetRemoteAddr(conn.RemoteAddr().String())
	s.log.Info("upload", "key", key, "format", opts.Format, "bit_depth", opts.BitDepth,
		"max_width", opts.MaxWidth, "remote", conn.RemoteAddr())

	readErr := receive(ctx, conn, upload, writer)
	stats := upload.IngestStats()
	if readErr != nil {
		s.log.Debug("read ended", "key", key, "error", readErr)
		// Senders close the socket once the file is out; a truncated file
		// is caught by the decoder, so only an empty or cancelled upload
		// fails here.
		if ctx.Err() == nil && stats.BytesReceived > 0 {
			readErr = nil
		}
	}
	s.registry.Fail(key, readErr)
	s.log.Info("connection closed", "key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// receive copies socket reads into the upload pipe until the sender closes
// the connection. It returns nil on a clean EOF.
func receive(ctx context.Context, conn io.Reader, upload *ingest.Upload, writer io.Writer) error {
	buf := make([]byte, srtReadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if n > 0 {
			upload.RecordRead(n)
			if _, werr := writer.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
