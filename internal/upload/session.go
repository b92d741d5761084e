// Package upload implements the HTTP chunked-PUT upload session of
// spec.md §4.9: a body reader pulling bytes from a content-view cursor,
// and an ACK reader decoding newline-delimited JSON frames off the
// response stream.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/logger"
)

// Body is the byte source a Session pulls from. It is implemented by
// internal/kvsstream, which correlates a contentview.Session cursor
// with the content store's byte arena; upload itself stays ignorant of
// either, avoiding a dependency cycle.
type Body interface {
	// Next blocks until at least one byte is available, end-of-stream
	// is reached, or ctx is done, then returns the next chunk. ok is
	// false on end-of-stream (including a cancelled ctx, per spec.md
	// §4.9's "interrupts the body reader, which returns end-of-stream
	// immediately").
	Next(ctx context.Context) (data []byte, ok bool, err error)
}

// Caller is the subset of service.Caller a Session needs, kept as an
// interface so tests can substitute a fake transport.
type Caller interface {
	PutMedia(ctx context.Context, endpoint, streamName string, startTimestamp float64, absolute, ackRequired bool, body io.Reader) (*http.Response, error)
}

// AckFrame is one newline-delimited JSON ACK record off PutMedia's
// response stream, per spec.md §6.
type AckFrame struct {
	EventType        string `json:"EventType"`
	FragmentTimecode uint64 `json:"FragmentTimecode"`
	FragmentNumber   string `json:"FragmentNumber,omitempty"`
	ErrorCode        string `json:"ErrorCode,omitempty"`
}

// Status mirrors the destination-lifecycle pattern used elsewhere in
// the port: a session is either idle, actively streaming, or stopped
// (cleanly or by error).
type Status int

const (
	StatusIdle Status = iota
	StatusStreaming
	StatusStopped
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStreaming:
		return "streaming"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Metrics tracks a session's running counters.
type Metrics struct {
	BytesSent    uint64
	AcksReceived uint64
	LastAckTime  time.Time
	ConnectTime  time.Time
}

// Config configures a Session. Endpoint (the data-plane base URL) and
// StreamName are passed to Caller.PutMedia on every Run; StreamName is
// also attached to the session's log lines.
type Config struct {
	Caller         Caller
	Endpoint       string
	StreamName     string
	StartTimestamp float64
	Absolute       bool
	AckRequired    bool
	Body           Body
	OnAck          func(AckFrame)
}

var handleCounter uint64

// nextHandle assigns the next upload_handle, monotonic per process per
// spec.md's UploadSession invariant.
func nextHandle() uint64 { return atomic.AddUint64(&handleCounter, 1) }

// Session streams one upload_handle's worth of HTTP chunked-PUT body
// and ACK traffic. Multiple sessions per stream may exist briefly
// during rotation (spec.md §4.9); only the caller's notion of "current"
// distinguishes them — Session itself has no opinion.
type Session struct {
	handle uint64
	cfg    Config

	mu        sync.RWMutex
	status    Status
	lastError error
	metrics   Metrics
}

// New builds a Session from cfg.
func New(cfg Config) *Session {
	return &Session{handle: nextHandle(), cfg: cfg, status: StatusIdle}
}

// Handle returns this session's monotonic upload_handle.
func (s *Session) Handle() uint64 { return s.handle }

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Metrics returns a copy of the session's running counters.
func (s *Session) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Session) setStatus(st Status, err error) {
	s.mu.Lock()
	s.status = st
	s.lastError = err
	s.mu.Unlock()
}

// Run opens the PUT, streams the body, and dispatches ACKs until ctx is
// cancelled, the body signals end-of-stream, or a transport error
// occurs. It blocks for the session's entire lifetime; callers run it
// in its own goroutine.
func (s *Session) Run(ctx context.Context) error {
	s.setStatus(StatusStreaming, nil)
	s.mu.Lock()
	s.metrics.ConnectTime = time.Now()
	s.mu.Unlock()

	body := &bodyReader{ctx: ctx, body: s.cfg.Body, onRead: s.recordBytesSent}
	resp, err := s.cfg.Caller.PutMedia(ctx, s.cfg.Endpoint, s.cfg.StreamName,
		s.cfg.StartTimestamp, s.cfg.Absolute, s.cfg.AckRequired, body)
	if err != nil {
		s.setStatus(StatusError, err)
		return err
	}
	defer resp.Body.Close()

	log := logger.WithUpload(logger.Logger(), s.handle, s.cfg.StreamName)
	log.Debug().Msg("upload session streaming")

	err = s.readAcks(ctx, resp.Body)
	if err != nil {
		s.setStatus(StatusError, err)
		return err
	}
	s.setStatus(StatusStopped, nil)
	return nil
}

func (s *Session) recordBytesSent(n int) {
	s.mu.Lock()
	s.metrics.BytesSent += uint64(n)
	s.mu.Unlock()
}

// readAcks decodes newline-delimited JSON ACK frames off r until EOF,
// a decode error, or ctx cancellation — pending ACKs for a cancelled
// session are discarded per spec.md §4.9, not surfaced as an error.
func (s *Session) readAcks(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var frame AckFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return kvserrors.New(kvserrors.ConnectionReset, "upload.Session.readAcks", err)
		}
		s.mu.Lock()
		s.metrics.AcksReceived++
		s.metrics.LastAckTime = time.Now()
		s.mu.Unlock()
		if s.cfg.OnAck != nil {
			s.cfg.OnAck(frame)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// bodyReader adapts a Body to io.Reader for http.NewRequestWithContext.
type bodyReader struct {
	ctx     context.Context
	body    Body
	pending []byte
	onRead  func(n int)
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		data, ok, err := r.body.Next(r.ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, io.EOF
		}
		r.pending = data
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	if r.onRead != nil {
		r.onRead(n)
	}
	return n, nil
}
