// Package api serves the encoder over HTTPS and HTTP/3: synchronous
// encodes, SRT job results, counters and SRT pull management.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/pixseq/internal/certs"
	"github.com/zsiec/pixseq/internal/frames"
	"github.com/zsiec/pixseq/internal/jobs"
	"github.com/zsiec/pixseq/internal/pipeline"
)

// DefaultMaxUploadBytes bounds an encode request body when the config
// leaves MaxUploadBytes unset.
const DefaultMaxUploadBytes = 32 << 20

// maxJobWait caps the wait query parameter on GET /api/jobs/{key}.
const maxJobWait = 60 * time.Second

// SRTPullInfo describes an SRT caller-mode pull, as accepted by POST and
// returned by GET /api/srt-pull.
type SRTPullInfo struct {
	Address  string `json:"address"`
	Key      string `json:"key"`
	StreamID string `json:"streamId,omitempty"`
	Query    string `json:"query"`
}

// SRTPullFunc initiates an SRT caller-mode pull from a remote address. ctx
// bounds the dial only; the pull itself outlives the request.
type SRTPullFunc func(ctx context.Context, req SRTPullInfo) error

// SRTStopFunc stops an active SRT pull by key.
type SRTStopFunc func(key string) error

// SRTListFunc returns all active SRT pulls.
type SRTListFunc func() []SRTPullInfo

// UploadLister returns the keys of SRT uploads still being received.
type UploadLister func() []string

// StatsResponse is the JSON body of GET /api/stats.
type StatsResponse struct {
	Encoder       pipeline.Stats `json:"encoder"`
	Jobs          int            `json:"jobs"`
	ActiveUploads int            `json:"activeUploads"`
}

// ServerConfig holds the configuration for Server.
type ServerConfig struct {
	// Addr is the HTTP/3 listen address.
	Addr           string
	Cert           *certs.CertInfo
	Encoder        *pipeline.Encoder
	Jobs           *jobs.Manager
	MaxUploadBytes int64
	DefaultFilter  frames.Filter
	Uploads        UploadLister
	SRTPull        SRTPullFunc
	SRTStop        SRTStopFunc
	SRTList        SRTListFunc
	Log            *slog.Logger
}

// Server is the HTTP API. APIHandler serves it over TCP; Start serves the
// same routes over HTTP/3.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	h3     *http3.Server
}

// NewServer creates a Server with the given configuration. It returns an
// error if required fields are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	if config.Encoder == nil {
		return nil, errors.New("api: Encoder is required")
	}
	if config.Jobs == nil {
		return nil, errors.New("api: Jobs is required")
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		config: config,
		log:    log.With("component", "api"),
	}
	s.h3 = &http3.Server{
		Addr:      config.Addr,
		TLSConfig: http3.ConfigureTLSConfig(config.Cert.TLSConfig()),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      true,
		},
	}
	s.h3.Handler = s.handler(false)
	return s, nil
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/encode", s.handleEncode)
	mux.HandleFunc("OPTIONS /api/encode", s.handleOptions("POST, OPTIONS"))
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{key...}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{key...}", s.handleDeleteJob)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/srt-pull", s.handleOptions("GET, POST, DELETE, OPTIONS"))
}

// APIHandler returns the handler for the HTTPS and plain HTTP listeners.
// Responses advertise the HTTP/3 endpoint through Alt-Svc.
func (s *Server) APIHandler() http.Handler {
	return s.handler(true)
}

func (s *Server) handler(altSvc bool) http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)

	var h http.Handler = corsMiddleware(mux)
	if altSvc {
		h = s.altSvcMiddleware(h)
	}
	return gzhttp.GzipHandler(h)
}

func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Fails until the HTTP/3 listener is up; the header is then omitted.
		_ = s.h3.SetQUICHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// errorStatus maps an encode error to an HTTP status.
func errorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case pipeline.IsInvalidInput(err):
		return http.StatusBadRequest
	case pipeline.IsBadData(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Start launches the HTTP/3 server and blocks until the context is
// cancelled or a fatal error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("HTTP/3 server listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type certHashResponse struct {
	Hash     string `json:"hash"`
	Addr     string `json:"addr"`
	NotAfter int64  `json:"notAfter"`
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	opts, err := pipeline.ParseQuery(r.URL.Query(), s.config.DefaultFilter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The image decoders drop the reader's error type, so the body is
	// buffered first to tell an oversized upload apart from a corrupt one.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			code = http.StatusBadRequest
		}
		writeError(w, code, fmt.Sprintf("reading upload: %v", err))
		return
	}

	seq, err := s.config.Encoder.Encode(r.Context(), bytes.NewReader(body), opts)
	if err != nil {
		code := errorStatus(err)
		if code == http.StatusInternalServerError {
			s.log.Error("encode failed", "error", err)
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, seq)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Jobs.List())
}

// handleGetJob returns a job with its Sequence. With ?wait=<duration> it
// blocks until the job finishes, the wait elapses or the client leaves.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	job, ok := s.config.Jobs.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a non-negative duration")
			return
		}
		timer := time.NewTimer(min(d, maxJobWait))
		defer timer.Stop()
		select {
		case <-job.Done():
		case <-timer.C:
		case <-r.Context().Done():
			return
		}
	}

	writeJSON(w, http.StatusOK, job.Info(true))
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.config.Jobs.Remove(key) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "key": key})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := StatsResponse{
		Encoder: s.config.Encoder.Stats(),
		Jobs:    len(s.config.Jobs.List()),
	}
	if s.config.Uploads != nil {
		resp.ActiveUploads = len(s.config.Uploads())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash:     s.config.Cert.FingerprintBase64(),
		Addr:     s.config.Addr,
		NotAfter: s.config.Cert.NotAfter.UnixMilli(),
	})
}

func (s *Server) handleOptions(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}
}

// SECURITY: The SRT pull endpoint dials arbitrary addresses, which could be
// used for SSRF if exposed to untrusted clients. Restrict it to operators
// or internal networks.
func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.config.SRTList == nil {
		writeJSON(w, http.StatusOK, []SRTPullInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.config.SRTList())
}

func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTPull == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req SRTPullInfo
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.Key == "" {
		writeError(w, http.StatusBadRequest, "address and key are required")
		return
	}
	if err := s.config.SRTPull(r.Context(), req); err != nil {
		code := http.StatusConflict
		if pipeline.IsInvalidInput(err) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "pulling", "key": req.Key})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.config.SRTStop == nil {
		writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key query parameter required")
		return
	}
	if err := s.config.SRTStop(key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "key": key})
}
