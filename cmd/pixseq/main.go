package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pixseq/internal/api"
	"github.com/zsiec/pixseq/internal/certs"
	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/ingest"
	srtingest "github.com/zsiec/pixseq/internal/ingest/srt"
	"github.com/zsiec/pixseq/internal/jobs"
	"github.com/zsiec/pixseq/internal/pipeline"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(14*24*time.Hour, cfg.certHosts...)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		cfg:     cfg,
		jobs:    jobs.NewManager(nil),
		encoder: pipeline.New(nil),
	}

	slog.Info("pixseq starting",
		"version", version,
		"api", cfg.apiAddr,
		"h3", cfg.h3Addr,
		"http", cfg.httpAddr,
		"srt", cfg.srtAddr,
		"max_upload_bytes", cfg.maxUploadBytes,
		"default_filter", cfg.defaultFilter,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Create registry and SRT caller after errgroup so closures capture the
	// errgroup-derived context, ensuring uploads stop when any component fails.
	a.registry = ingest.NewRegistry(func(key string, input io.ReadCloser, opts pipeline.Options) {
		a.handleUpload(ctx, key, input, opts)
	})
	a.srtCaller = srtingest.NewCaller(a.registry, cfg.defaultFilter, nil)

	apiSrv, err := api.NewServer(api.ServerConfig{
		Addr:           cfg.h3Addr,
		Cert:           cert,
		Encoder:        a.encoder,
		Jobs:           a.jobs,
		MaxUploadBytes: cfg.maxUploadBytes,
		DefaultFilter:  cfg.defaultFilter,
		Uploads:        a.registry.Keys,
		SRTPull: func(_ context.Context, req api.SRTPullInfo) error {
			return a.srtCaller.Pull(ctx, srtingest.PullRequest(req))
		},
		SRTStop: a.srtCaller.Stop,
		SRTList: a.listSRTPulls,
	})
	if err != nil {
		slog.Error("failed to create API server", "error", err)
		os.Exit(1)
	}

	srtSrv := srtingest.NewServer(cfg.srtAddr, a.registry, cfg.defaultFilter, nil)

	httpsSrv := &http.Server{
		Addr:              cfg.apiAddr,
		Handler:           apiSrv.APIHandler(),
		TLSConfig:         cert.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	servers := []*http.Server{httpsSrv}

	var plainSrv *http.Server
	if cfg.httpAddr != "" {
		plainSrv = &http.Server{
			Addr:              cfg.httpAddr,
			Handler:           apiSrv.APIHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, plainSrv)
	}

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		slog.Info("HTTPS API server listening", "addr", cfg.apiAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	if plainSrv != nil {
		g.Go(func() error {
			slog.Info("HTTP API server listening", "addr", cfg.httpAddr)
			if err := plainSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	g.Go(func() error {
		a.pruneJobs(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type config struct {
	apiAddr        string
	h3Addr         string
	httpAddr       string
	srtAddr        string
	maxUploadBytes int64
	defaultFilter  frames.Filter
	jobTTL         time.Duration
	certHosts      []string
}

func loadConfig() (config, error) {
	c := config{
		apiAddr:  envOr("API_ADDR", ":4444"),
		h3Addr:   envOr("H3_ADDR", ":4443"),
		httpAddr: envOr("HTTP_ADDR", ""),
		srtAddr:  envOr("SRT_ADDR", ":6000"),
	}

	var err error
	if c.maxUploadBytes, err = strconv.ParseInt(envOr("MAX_UPLOAD_BYTES", strconv.Itoa(api.DefaultMaxUploadBytes)), 10, 64); err != nil || c.maxUploadBytes <= 0 {
		return c, fmt.Errorf("MAX_UPLOAD_BYTES must be a positive integer")
	}
	if c.defaultFilter, err = frames.ParseFilter(envOr("DEFAULT_FILTER", "nearest")); err != nil {
		return c, fmt.Errorf("DEFAULT_FILTER: %w", err)
	}
	if c.jobTTL, err = time.ParseDuration(envOr("JOB_TTL", "1h")); err != nil || c.jobTTL <= 0 {
		return c, fmt.Errorf("JOB_TTL must be a positive duration")
	}
	for _, h := range strings.Split(os.Getenv("CERT_HOSTS"), ",") {
		if h = strings.TrimSpace(h); h != "" {
			c.certHosts = append(c.certHosts, h)
		}
	}
	return c, nil
}

type app struct {
	cfg       config
	jobs      *jobs.Manager
	encoder   *pipeline.Encoder
	registry  *ingest.Registry
	srtCaller *srtingest.Caller
}

func (a *app) listSRTPulls() []api.SRTPullInfo {
	pulls := a.srtCaller.ActivePulls()
	out := make([]api.SRTPullInfo, len(pulls))
	for i, p := range pulls {
		out[i] = api.SRTPullInfo(p)
	}
	return out
}

// handleUpload buffers one SRT upload and encodes it into the job of the
// same key.
func (a *app) handleUpload(ctx context.Context, key string, input io.ReadCloser, opts pipeline.Options) {
	defer input.Close()

	job, created := a.jobs.Create(key)
	if !created {
		slog.Warn("rejecting upload for running job", "key", key)
		return
	}

	body, err := io.ReadAll(io.LimitReader(input, a.cfg.maxUploadBytes+1))
	if err == nil && int64(len(body)) > a.cfg.maxUploadBytes {
		err = fmt.Errorf("upload exceeds %d bytes", a.cfg.maxUploadBytes)
	}
	if err != nil {
		slog.Warn("upload failed", "key", key, "error", err)
		job.Finish(nil, err)
		return
	}

	job.SetEncoding()
	seq, err := a.encoder.Encode(ctx, bytes.NewReader(body), opts)
	if err != nil {
		slog.Warn("encode failed", "key", key, "error", err)
	}
	job.Finish(seq, err)
}

func (a *app) pruneJobs(ctx context.Context) {
	ticker := time.NewTicker(min(a.cfg.jobTTL, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.jobs.Prune(now.Add(-a.cfg.jobTTL))
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
