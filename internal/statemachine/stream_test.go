package statemachine

import (
	"context"
	"errors"
	"testing"
	"time"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

func waitForState(t *testing.T, m *StreamMachine, want StreamState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, last seen %v", want, m.State())
}

func TestStreamMachineDispatchCoalescesStreamingErrorWhileResetting(t *testing.T) {
	m := NewStreamMachine(StreamActions{})
	m.Dispatch(StreamEvent{Kind: StreamEventStreamingError})
	m.Dispatch(StreamEvent{Kind: StreamEventStreamingError})
	if len(m.events) != 1 {
		t.Fatalf("expected second streaming-error event coalesced, channel has %d items", len(m.events))
	}
}

func TestStreamMachineSetupSkipsCreateWhenDescribeFindsIt(t *testing.T) {
	createCalled := false
	actions := StreamActions{
		Describe:    func(ctx context.Context) (bool, error) { return true, nil },
		Create:      func(ctx context.Context) error { createCalled = true; return nil },
		GetEndpoint: func(ctx context.Context) error { return nil },
		PutStream: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}
	m := NewStreamMachine(actions)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StreamPutStream)
	if createCalled {
		t.Fatalf("expected CREATE to be skipped when the stream already exists")
	}
	cancel()
	<-done
}

func TestStreamMachineSetupCreatesWhenDescribeReportsNotFound(t *testing.T) {
	createCalled := false
	actions := StreamActions{
		Describe: func(ctx context.Context) (bool, error) {
			return false, kvserrors.New(kvserrors.ResourceNotFound, "describe", errors.New("no such stream"))
		},
		Create:      func(ctx context.Context) error { createCalled = true; return nil },
		GetEndpoint: func(ctx context.Context) error { return nil },
		PutStream: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
	}
	m := NewStreamMachine(actions)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitForState(t, m, StreamPutStream)
	if !createCalled {
		t.Fatalf("expected CREATE to run when describe reports RESOURCE_NOT_FOUND")
	}
	cancel()
	<-done
}

func TestStreamMachineSetupFatalErrorTerminates(t *testing.T) {
	actions := StreamActions{
		Describe: func(ctx context.Context) (bool, error) {
			return false, kvserrors.New(kvserrors.ServiceCallNotAuthorized, "describe", errors.New("denied"))
		},
	}
	m := NewStreamMachine(actions)
	err := m.Run(context.Background())
	if err == nil {
		t.Fatalf("expected fatal setup error to propagate")
	}
	if m.State() != StreamTerminated {
		t.Fatalf("expected StreamTerminated, got %v", m.State())
	}
}

func TestStreamMachineStopDuringStreamingIsGraceful(t *testing.T) {
	putStreamDone := make(chan struct{})
	actions := StreamActions{
		Describe:    func(ctx context.Context) (bool, error) { return true, nil },
		GetEndpoint: func(ctx context.Context) error { return nil },
		PutStream: func(ctx context.Context) error {
			<-putStreamDone
			return nil
		},
	}
	m := NewStreamMachine(actions)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	waitForState(t, m, StreamPutStream)
	m.Dispatch(StreamEvent{Kind: StreamEventStop})
	close(putStreamDone)

	if err := <-done; err != nil {
		t.Fatalf("expected graceful stop, got err: %v", err)
	}
	if m.State() != StreamStopped {
		t.Fatalf("expected StreamStopped, got %v", m.State())
	}
}

func TestStreamMachineStreamingErrorReturnsToGetEndpointThenResumes(t *testing.T) {
	getEndpointCalls := 0
	putCalls := 0
	firstPutUnblock := make(chan struct{})
	secondPutUnblock := make(chan struct{})

	actions := StreamActions{
		Describe:    func(ctx context.Context) (bool, error) { return true, nil },
		GetEndpoint: func(ctx context.Context) error { getEndpointCalls++; return nil },
		PutStream: func(ctx context.Context) error {
			putCalls++
			if putCalls == 1 {
				<-firstPutUnblock
				return kvserrors.New(kvserrors.TransportTimeout, "putstream", errors.New("disconnect"))
			}
			<-secondPutUnblock
			return nil
		},
	}
	m := NewStreamMachine(actions)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	waitForState(t, m, StreamPutStream)
	m.Dispatch(StreamEvent{Kind: StreamEventStreamingError})
	close(firstPutUnblock)

	waitForState(t, m, StreamPutStream)
	if putCalls < 2 {
		t.Fatalf("expected a second PutStream call after the streaming-error reset, putCalls=%d", putCalls)
	}
	if getEndpointCalls != 2 {
		t.Fatalf("expected GET_ENDPOINT called once at setup and once on reset, got %d", getEndpointCalls)
	}

	m.Dispatch(StreamEvent{Kind: StreamEventStop})
	close(secondPutUnblock)

	if err := <-done; err != nil {
		t.Fatalf("expected graceful stop after reset, got err: %v", err)
	}
	if m.State() != StreamStopped {
		t.Fatalf("expected StreamStopped, got %v", m.State())
	}
}

// TestStreamMachineRetriablePutStreamErrorWithoutEventBacksOff covers a
// PutStream failure that returns directly, retriable but non-fatal,
// without anyone ever dispatching StreamEventStreamingError first — e.g.
// a connection failure on the initial dial before any ACK is read. The
// machine must still resolve the endpoint again before retrying
// PutStream, rather than busy-looping straight back into it.
func TestStreamMachineRetriablePutStreamErrorWithoutEventBacksOff(t *testing.T) {
	getEndpointCalls := 0
	putCalls := 0
	secondPutUnblock := make(chan struct{})

	actions := StreamActions{
		Describe:    func(ctx context.Context) (bool, error) { return true, nil },
		GetEndpoint: func(ctx context.Context) error { getEndpointCalls++; return nil },
		PutStream: func(ctx context.Context) error {
			putCalls++
			if putCalls == 1 {
				return kvserrors.New(kvserrors.TransportTimeout, "putstream", errors.New("dial failed"))
			}
			<-secondPutUnblock
			return nil
		},
	}
	m := NewStreamMachine(actions)
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	waitForState(t, m, StreamPutStream)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && putCalls < 2 {
		time.Sleep(time.Millisecond)
	}
	if putCalls < 2 {
		t.Fatalf("expected a second PutStream call after the unreported retriable failure, putCalls=%d", putCalls)
	}
	if getEndpointCalls != 2 {
		t.Fatalf("expected GET_ENDPOINT called once at setup and once more before retrying PutStream, got %d", getEndpointCalls)
	}

	m.Dispatch(StreamEvent{Kind: StreamEventStop})
	close(secondPutUnblock)

	if err := <-done; err != nil {
		t.Fatalf("expected graceful stop, got err: %v", err)
	}
	if m.State() != StreamStopped {
		t.Fatalf("expected StreamStopped, got %v", m.State())
	}
}

func TestStreamStateString(t *testing.T) {
	states := []StreamState{StreamNew, StreamDescribe, StreamCreate, StreamTagStream,
		StreamGetEndpoint, StreamGetToken, StreamReady, StreamPutStream, StreamTerminated, StreamStopped}
	for _, s := range states {
		if s.String() == "UNKNOWN" {
			t.Fatalf("unexpected UNKNOWN string for state %d", s)
		}
	}
}
