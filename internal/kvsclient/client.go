// Package kvsclient implements the Client of spec.md §4.8: it owns the
// content store, the service caller, and the collection of streams,
// enforces the global storage budget, and drives each stream's
// creation/readiness state through internal/statemachine.
package kvsclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alxayo/go-kvsproducer/internal/contentstore"
	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/hooks"
	"github.com/alxayo/go-kvsproducer/internal/kvsmodel"
	"github.com/alxayo/go-kvsproducer/internal/kvsstream"
	"github.com/alxayo/go-kvsproducer/internal/logger"
	"github.com/alxayo/go-kvsproducer/internal/service"
	"github.com/alxayo/go-kvsproducer/internal/statemachine"
	"github.com/alxayo/go-kvsproducer/internal/upload"
)

// ServiceCaller is the subset of service.Caller a Client needs, kept
// abstract so tests can substitute a fake control/data plane. *service.Caller
// satisfies it directly.
type ServiceCaller interface {
	DescribeStream(ctx context.Context, name string) (service.StreamDescription, error)
	CreateStream(ctx context.Context, name string, retentionHours uint32, contentType, kmsKeyID string) (string, error)
	GetDataEndpoint(ctx context.Context, name, api string, ttl time.Duration) (string, error)
	PutMedia(ctx context.Context, endpoint, streamName string, startTimestamp float64, absolute, ackRequired bool, body io.Reader) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	Caller ServiceCaller

	// StoreCapacity bounds the shared content store's arena size; every
	// stream's in-flight bytes draw from this single budget per
	// spec.md §4.8's "total_in_flight_bytes <= store_capacity".
	StoreCapacity uint32

	// ViewCapacity is the per-stream content-view entry-slot count.
	ViewCapacity int

	Callbacks *hooks.Callbacks

	// StalenessPollInterval controls how often CheckStale is polled for
	// every live stream; defaults to 1 second.
	StalenessPollInterval time.Duration

	Now func() time.Time
}

// StreamConfig configures one stream added to a Client.
type StreamConfig struct {
	Info           *kvsmodel.StreamInfo
	RetentionHours uint32
	KMSKeyID       string
}

// managedStream bundles a kvsstream.Stream with its driving state
// machine and current upload session, all owned by one Client.
type managedStream struct {
	name        string
	absolute    bool
	ackRequired bool
	stream      *kvsstream.Stream
	machine     *statemachine.StreamMachine
	cancel      context.CancelFunc

	mu       sync.Mutex
	body     *kvsstream.Body
	session  *upload.Session
	endpoint string
}

// Client owns the content store, the service caller, and every stream
// created through it, grounded in the teacher's internal/rtmp/server.Server
// (listener + connection registry + hook manager, Start/Stop lifecycle).
type Client struct {
	cfg   Config
	store *contentstore.Store

	mu      sync.RWMutex
	streams map[string]*managedStream
	wg      sync.WaitGroup

	machine *statemachine.ClientMachine

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Client. It does not contact the service; call Start to
// run the client-level state machine and begin accepting streams.
func New(cfg Config) *Client {
	if cfg.Callbacks == nil {
		cfg.Callbacks = &hooks.Callbacks{}
	}
	if cfg.StalenessPollInterval == 0 {
		cfg.StalenessPollInterval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	// This producer's service surface (spec.md §4.11) has no
	// client-level create/device/token calls — only per-stream
	// describe/create/get-endpoint/put-media — so the Client SM's
	// CREATE/CREATE_DEVICE/GET_TOKEN steps are structural no-ops here;
	// it still exists to preserve the NEW->READY sequence spec.md §4.10
	// names, and Run treats nil actions as immediate successes.
	return &Client{
		cfg:     cfg,
		store:   contentstore.New(cfg.StoreCapacity),
		streams: make(map[string]*managedStream),
		machine: statemachine.NewClientMachine(statemachine.ClientActions{}),
		stopCh:  make(chan struct{}),
	}
}

// Start drives the client-level state machine to READY. It must
// complete before AddStream is called.
func (c *Client) Start(ctx context.Context) error {
	return c.machine.Run(ctx)
}

// State reports the client-level state machine's current state.
func (c *Client) State() statemachine.ClientState {
	return c.machine.State()
}

// AddStream creates (or resumes) a stream, then starts its StreamMachine
// in its own goroutine: DESCRIBE -> {CREATE} -> GET_ENDPOINT -> READY ->
// STREAMING, per spec.md §4.10. It returns once the stream has been
// registered; readiness is asynchronous and surfaces through the
// OnStreamReady callback.
func (c *Client) AddStream(ctx context.Context, sc StreamConfig) (*kvsstream.Stream, error) {
	if err := sc.Info.Validate(); err != nil {
		return nil, kvserrors.New(kvserrors.InvalidArg, "kvsclient.AddStream", err)
	}

	c.mu.Lock()
	if _, exists := c.streams[sc.Info.StreamName]; exists {
		c.mu.Unlock()
		return nil, kvserrors.New(kvserrors.InvalidArg, "kvsclient.AddStream",
			fmt.Errorf("stream %q already added", sc.Info.StreamName))
	}
	c.mu.Unlock()

	st := kvsstream.New(sc.Info, c.store, c.cfg.ViewCapacity, c.cfg.Callbacks, c.cfg.Now)
	ms := &managedStream{
		name:        sc.Info.StreamName,
		absolute:    sc.Info.AbsoluteTimecode,
		ackRequired: sc.Info.FragmentACKRequired,
		stream:      st,
	}
	ms.machine = statemachine.NewStreamMachine(c.streamActions(sc, ms))

	c.mu.Lock()
	c.streams[sc.Info.StreamName] = ms
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	ms.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := ms.machine.Run(runCtx); err != nil {
			logger.WithStream(logger.Logger(), ms.name).Error().Err(err).Msg("stream machine terminated")
		}
	}()

	return st, nil
}

// streamActions binds a managedStream's StreamMachine to this Client's
// service caller and content pipeline, per spec.md §4.10/§4.11.
func (c *Client) streamActions(sc StreamConfig, ms *managedStream) statemachine.StreamActions {
	return statemachine.StreamActions{
		Describe: func(ctx context.Context) (bool, error) {
			_, err := c.cfg.Caller.DescribeStream(ctx, ms.name)
			if err != nil {
				if kind, ok := kvserrors.Kind(err); ok && kind == kvserrors.ResourceNotFound {
					return false, nil
				}
				return false, err
			}
			return true, nil
		},
		Create: func(ctx context.Context) error {
			_, err := c.cfg.Caller.CreateStream(ctx, ms.name, sc.RetentionHours, sc.Info.ContentType, sc.KMSKeyID)
			return err
		},
		GetEndpoint: func(ctx context.Context) error {
			endpoint, err := c.cfg.Caller.GetDataEndpoint(ctx, ms.name, "PUT_MEDIA", 5*time.Minute)
			if err != nil {
				return err
			}
			ms.mu.Lock()
			ms.endpoint = endpoint
			ms.mu.Unlock()
			return nil
		},
		PutStream: func(ctx context.Context) error {
			ms.stream.SetReady(true)
			return c.runUploadSession(ctx, ms)
		},
	}
}

// runUploadSession starts one upload.Session reading from ms.stream and
// blocks until it ends, per spec.md §4.9. A retriable ACK error is
// reported to the StreamMachine as a StreamEventStreamingError rather
// than returned from PutStream directly, so the machine's existing
// GET_ENDPOINT/GET_TOKEN reset loop handles reconnection.
func (c *Client) runUploadSession(ctx context.Context, ms *managedStream) error {
	ms.mu.Lock()
	endpoint := ms.endpoint
	body := ms.stream.NewBody(ms.stream.Checkpoint())
	ms.body = body
	ms.mu.Unlock()

	session := upload.New(upload.Config{
		Caller:         c.cfg.Caller,
		Endpoint:       endpoint,
		StreamName:     ms.name,
		StartTimestamp: float64(c.cfg.Now().UnixNano()) / 1e9,
		Absolute:       ms.absolute,
		AckRequired:    ms.ackRequired,
		Body:           body,
		OnAck: func(frame upload.AckFrame) {
			if ms.stream.ProcessAck(frame) {
				_ = body.Rollback()
				ms.machine.Dispatch(statemachine.StreamEvent{Kind: statemachine.StreamEventStreamingError})
			}
		},
	})

	ms.mu.Lock()
	ms.session = session
	ms.mu.Unlock()

	return session.Run(ctx)
}

// StreamByName returns the named stream's Stream handle, if one was
// added through this Client.
func (c *Client) StreamByName(name string) (*kvsstream.Stream, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms, ok := c.streams[name]
	if !ok {
		return nil, false
	}
	return ms.stream, true
}

// PollStaleness runs CheckStale for every live stream until ctx is done,
// on the interval configured in Config. The caller typically runs this
// in its own goroutine for the Client's lifetime.
func (c *Client) PollStaleness(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.StalenessPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := c.cfg.Now()
			c.mu.RLock()
			streams := make([]*managedStream, 0, len(c.streams))
			for _, ms := range c.streams {
				streams = append(streams, ms)
			}
			c.mu.RUnlock()
			for _, ms := range streams {
				ms.stream.CheckStale(now)
			}
		}
	}
}

// Close stops every stream's machine, waits for their goroutines to
// exit, and releases every stream's content-store allocations — the
// cancel-all-sessions/drain/release-buffers sequence of spec.md §5.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.RLock()
	streams := make([]*managedStream, 0, len(c.streams))
	for _, ms := range c.streams {
		streams = append(streams, ms)
	}
	c.mu.RUnlock()

	for _, ms := range streams {
		ms.machine.Dispatch(statemachine.StreamEvent{Kind: statemachine.StreamEventStop})
		if ms.cancel != nil {
			ms.cancel()
		}
	}
	c.wg.Wait()

	for _, ms := range streams {
		ms.stream.Close()
	}
}
