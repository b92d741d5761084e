package statemachine

import (
	"context"
	"sync"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

// StreamState is a state of the per-stream state machine.
type StreamState int

const (
	StreamNew StreamState = iota
	StreamDescribe
	StreamCreate
	StreamTagStream
	StreamGetEndpoint
	StreamGetToken
	StreamReady
	StreamPutStream // aka STREAMING
	StreamTerminated
	StreamStopped
)

func (s StreamState) String() string {
	switch s {
	case StreamNew:
		return "NEW"
	case StreamDescribe:
		return "DESCRIBE"
	case StreamCreate:
		return "CREATE"
	case StreamTagStream:
		return "TAG_STREAM"
	case StreamGetEndpoint:
		return "GET_ENDPOINT"
	case StreamGetToken:
		return "GET_TOKEN"
	case StreamReady:
		return "READY"
	case StreamPutStream:
		return "STREAMING"
	case StreamTerminated:
		return "TERMINATED"
	case StreamStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// StreamEventKind classifies an asynchronous event dispatched to a
// running StreamMachine from outside its worker goroutine (typically
// the upload session reporting a transport failure).
type StreamEventKind int

const (
	// StreamEventStreamingError reports a retriable error encountered
	// while STREAMING; the machine returns to GET_ENDPOINT (cache-aware)
	// and resumes once a fresh endpoint/token are in hand.
	StreamEventStreamingError StreamEventKind = iota
	// StreamEventStop requests a graceful stop.
	StreamEventStop
)

// StreamEvent is one item on a StreamMachine's event channel.
type StreamEvent struct {
	Kind StreamEventKind
	Err  error
}

// StreamActions supplies the service calls each Stream SM step performs.
// TagStream is optional: a nil value skips TAG_STREAM per spec.md §4.10.
// PutStream starts the upload session and blocks until it ends (normal
// EOS, ctx cancellation, or a fatal transport error) — it is the
// machine's STREAMING state for as long as it runs.
type StreamActions struct {
	Describe    func(ctx context.Context) (exists bool, err error)
	Create      func(ctx context.Context) error
	TagStream   func(ctx context.Context) error
	GetEndpoint func(ctx context.Context) error
	GetToken    func(ctx context.Context) error
	PutStream   func(ctx context.Context) error
}

// StreamMachine drives a single stream through
// NEW -> DESCRIBE -> {CREATE} -> {TAG_STREAM} -> GET_ENDPOINT ->
// GET_TOKEN -> READY -> STREAMING, looping STREAMING <-> GET_ENDPOINT on
// dispatched retriable errors until Stop or a fatal failure, per
// spec.md §4.10. One worker goroutine (the caller of Run) owns all state
// transitions; Dispatch is the only method safe to call concurrently
// from elsewhere.
type StreamMachine struct {
	mu        sync.Mutex
	state     StreamState
	resetting bool

	actions StreamActions
	events  chan StreamEvent
}

// NewStreamMachine builds a StreamMachine in state NEW. The event
// channel is bounded per spec's concurrency model; Dispatch never
// blocks past that capacity for the coalesced streaming-error case.
func NewStreamMachine(actions StreamActions) *StreamMachine {
	return &StreamMachine{actions: actions, events: make(chan StreamEvent, 8)}
}

// State returns the machine's current state.
func (m *StreamMachine) State() StreamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *StreamMachine) setState(s StreamState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Dispatch enqueues an asynchronous event for the running machine to
// process. Per spec.md §4.10's tie-break rule ("if the session is
// already restarting, the event is coalesced"), a second
// StreamEventStreamingError arriving while a reset is already in flight
// is dropped rather than queued a second time.
func (m *StreamMachine) Dispatch(ev StreamEvent) {
	m.mu.Lock()
	if ev.Kind == StreamEventStreamingError {
		if m.resetting {
			m.mu.Unlock()
			return
		}
		m.resetting = true
	}
	m.mu.Unlock()
	m.events <- ev
}

// Run drives the machine from NEW through setup to READY, then loops
// STREAMING until a Stop event or a fatal failure. It returns nil after
// a graceful Stop, or the fatal error that terminated the machine.
func (m *StreamMachine) Run(ctx context.Context) error {
	if err := m.runSetup(ctx); err != nil {
		m.setState(StreamTerminated)
		return err
	}
	m.setState(StreamReady)

	for {
		m.setState(StreamPutStream)
		putErr := m.actions.PutStream(ctx)
		if putErr != nil && kvserrors.IsFatal(putErr) {
			m.setState(StreamTerminated)
			return putErr
		}

		select {
		case ev := <-m.events:
			switch ev.Kind {
			case StreamEventStop:
				m.setState(StreamStopped)
				return nil
			case StreamEventStreamingError:
				m.mu.Lock()
				m.resetting = false
				m.mu.Unlock()
				if err := m.resumeFromEndpoint(ctx); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			m.setState(StreamTerminated)
			return ctx.Err()
		default:
			switch {
			case putErr == nil:
				// PutStream returned without a fatal error and without
				// any pending event (clean EOS from an explicit stop
				// elsewhere); treat as a graceful stop rather than
				// spinning.
				m.setState(StreamStopped)
				return nil
			default:
				// PutStream failed in a retriable way (e.g. the initial
				// dial never got far enough to read an ACK and dispatch
				// StreamEventStreamingError) without anyone resetting
				// the connection. Route through the same backed-off
				// GET_ENDPOINT/GET_TOKEN cycle a dispatched streaming
				// error takes, instead of busy-looping straight back
				// into PutStream.
				if err := m.resumeFromEndpoint(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// resumeFromEndpoint re-resolves the data-plane endpoint (and token, if
// configured) with backoff before the next PUT_STREAM attempt. It is the
// common recovery path for both an externally dispatched streaming error
// and a PutStream call that failed without ever dispatching one.
func (m *StreamMachine) resumeFromEndpoint(ctx context.Context) error {
	m.setState(StreamGetEndpoint)
	if err := runWithBackoff(ctx, m.actions.GetEndpoint); err != nil {
		m.setState(StreamTerminated)
		return err
	}
	m.setState(StreamGetToken)
	if m.actions.GetToken != nil {
		if err := runWithBackoff(ctx, m.actions.GetToken); err != nil {
			m.setState(StreamTerminated)
			return err
		}
	}
	return nil
}

func (m *StreamMachine) runSetup(ctx context.Context) error {
	m.setState(StreamDescribe)
	exists, err := m.actions.Describe(ctx)
	if err != nil {
		kind, ok := kvserrors.Kind(err)
		if !ok || kind != kvserrors.ResourceNotFound {
			return err
		}
		exists = false
	}

	if !exists {
		m.setState(StreamCreate)
		if err := runWithBackoff(ctx, m.actions.Create); err != nil {
			return err
		}
	}

	if m.actions.TagStream != nil {
		m.setState(StreamTagStream)
		if err := runWithBackoff(ctx, m.actions.TagStream); err != nil {
			return err
		}
	}

	m.setState(StreamGetEndpoint)
	if err := runWithBackoff(ctx, m.actions.GetEndpoint); err != nil {
		return err
	}

	m.setState(StreamGetToken)
	if m.actions.GetToken != nil {
		if err := runWithBackoff(ctx, m.actions.GetToken); err != nil {
			return err
		}
	}
	return nil
}
