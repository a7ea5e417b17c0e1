// Package ingest manages uploads arriving over SRT, coupling the socket
// reader with the encode options it was opened with and handing the byte
// stream to the encoder.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/pixseq/internal/pipeline"
)

// ErrDuplicateKey is returned by Register while an upload with the same key
// is still being received.
var ErrDuplicateKey = errors.New("ingest: upload key already active")

// IngestStats captures connection-level metrics for an upload.
type IngestStats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Upload is one in-flight SRT upload. Bytes written to the internal pipe by
// the SRT receiver are read by the encoder.
type Upload struct {
	Key       string
	StartedAt time.Time
	Options   pipeline.Options
	input     *io.PipeReader
	pw        *io.PipeWriter
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the SRT
// receiver after each successful socket read.
func (u *Upload) RecordRead(n int) {
	u.bytesReceived.Add(int64(n))
	u.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the sender.
func (u *Upload) SetRemoteAddr(addr string) {
	u.remoteAddr.Store(addr)
}

// Done is closed when the upload is unregistered.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// IngestStats returns a snapshot of connection metrics.
func (u *Upload) IngestStats() IngestStats {
	addr, _ := u.remoteAddr.Load().(string)
	return IngestStats{
		BytesReceived: u.bytesReceived.Load(),
		ReadCount:     u.readCount.Load(),
		ConnectedAt:   u.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(u.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active uploads by key and dispatches each new upload to
// the onUpload callback. It is the rendezvous point between the SRT layer
// and the encoder.
type Registry struct {
	mu      sync.RWMutex
	uploads map[string]*Upload

	onUpload func(key string, input io.ReadCloser, opts pipeline.Options)
}

// NewRegistry creates a Registry. The onUpload callback is invoked
// asynchronously whenever an upload is registered. It owns input and must
// close it once it stops reading, or the SRT receiver blocks.
func NewRegistry(onUpload func(key string, input io.ReadCloser, opts pipeline.Options)) *Registry {
	return &Registry{
		uploads:  make(map[string]*Upload),
		onUpload: onUpload,
	}
}

// Register creates a new upload with the given key and options, returning
// the Upload and a Writer that the SRT receiver should write into.
func (r *Registry) Register(key string, opts pipeline.Options) (*Upload, io.Writer, error) {
	r.mu.Lock()
	if _, exists := r.uploads[key]; exists {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicateKey, key)
	}
	pr, pw := io.Pipe()
	upload := &Upload{
		Key:       key,
		StartedAt: time.Now(),
		Options:   opts,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}
	r.uploads[key] = upload
	r.mu.Unlock()

	if r.onUpload != nil {
		go r.onUpload(key, pr, opts)
	}

	return upload, pw, nil
}

// Unregister removes an upload by key, closing its pipe so the reader sees
// EOF, and signals Done.
func (r *Registry) Unregister(key string) {
	r.Fail(key, nil)
}

// Fail removes an upload by key like Unregister, but the reader sees err
// instead of EOF. A nil err is a clean end of upload.
func (r *Registry) Fail(key string, err error) {
	r.mu.Lock()
	upload, ok := r.uploads[key]
	if ok {
		delete(r.uploads, key)
	}
	r.mu.Unlock()

	if ok {
		upload.pw.CloseWithError(err)
		close(upload.done)
	}
}

// Get returns the Upload for the given key, or false if not found.
func (r *Registry) Get(key string) (*Upload, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.uploads[key]
	return u, ok
}

// Keys returns the keys of all active uploads.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.uploads))
	for k := range r.uploads {
		keys = append(keys, k)
	}
	return keys
}
