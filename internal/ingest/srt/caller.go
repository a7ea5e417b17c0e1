package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/ingest"
	"github.com/zsiec/pixseq/internal/pipeline"
)

// dialTimeout bounds how long Pull waits for the remote handshake.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT sender to pull one upload from.
type PullRequest struct {
	Address string `json:"address"`
	Key     string `json:"key"`
	// StreamID is sent to the remote listener. Defaults to Key.
	StreamID string `json:"streamId,omitempty"`
	// Query holds the encode options, e.g. "format=png&bit_depth=8&max_width=32".
	Query string `json:"query"`
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller manages SRT pull connections, dialing remote SRT senders and
// streaming their bytes into the ingest registry.
type Caller struct {
	log           *slog.Logger
	registry      *ingest.Registry
	defaultFilter frames.Filter

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that uses the given registry to register
// pulled uploads. If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, defaultFilter frames.Filter, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:           log.With("component", "srt-caller"),
		registry:      registry,
		defaultFilter: defaultFilter,
		pulls:         make(map[string]*activePull),
	}
}

// Pull validates the request, then dials the remote SRT listener
// synchronously (with a timeout). On success the upload continues in a
// background goroutine.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if req.Address == "" {
		return errors.New("address is required")
	}
	key, opts, err := parseStreamID(req.Key+"?"+req.Query, c.defaultFilter)
	if err != nil {
		return err
	}
	req.Key = key

	c.mu.Lock()
	if _, exists := c.pulls[key]; exists {
		c.mu.Unlock()
		return fmt.Errorf("pull already active for key %q", key)
	}
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "key", key)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if req.StreamID == "" {
		req.StreamID = key
	}
	cfg.StreamID = req.StreamID

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return c.startPull(ctx, req, opts, res.conn)
	case <-timer.C:
		go drainDial(ch)
		return fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		go drainDial(ch)
		return ctx.Err()
	}
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// drainDial closes a connection that completed after Pull gave up on it.
func drainDial(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}

func (c *Caller) startPull(ctx context.Context, req PullRequest, opts pipeline.Options, conn *srtgo.Conn) error {
	pullCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if _, exists := c.pulls[req.Key]; exists {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("pull already active for key %q", req.Key)
	}
	c.pulls[req.Key] = &activePull{req: req, cancel: cancel}
	c.mu.Unlock()

	upload, writer, err := c.registry.Register(req.Key, opts)
	if err != nil {
		c.mu.Lock()
		delete(c.pulls, req.Key)
		c.mu.Unlock()
		cancel()
		conn.Close()
		return err
	}
	upload.SetRemoteAddr(req.Address)
	c.log.Info("connected", "address", req.Address, "key", req.Key)

	stop := context.AfterFunc(pullCtx, func() { conn.Close() })

	go func() {
		defer func() {
			stop()
			conn.Close()
			cancel()
			c.mu.Lock()
			delete(c.pulls, req.Key)
			c.mu.Unlock()
		}()

		readErr := receive(pullCtx, conn, upload, writer)
		stats := upload.IngestStats()
		if readErr != nil && pullCtx.Err() == nil && stats.BytesReceived > 0 {
			readErr = nil
		}
		c.registry.Fail(req.Key, readErr)
		c.log.Info("pull ended", "key", req.Key,
			"bytes", stats.BytesReceived, "reads", stats.ReadCount,
			"uptime_ms", stats.UptimeMs, "error", readErr)
	}()

	return nil
}

// Stop cancels an active pull. The partial upload fails with
// context.Canceled.
func (c *Caller) Stop(key string) error {
	c.mu.Lock()
	ap, ok := c.pulls[key]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no active pull for key %q", key)
	}

	ap.cancel()
	return nil
}

// ActivePulls returns the requests of all running pulls.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, ap := range c.pulls {
		out = append(out, ap.req)
	}
	return out
}
