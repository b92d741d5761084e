// Package statemachine implements the Client and Stream finite-state
// machines of spec.md §4.10: explicit states sequenced by a single
// worker goroutine per owner, never by concurrent calls, per the
// DESIGN NOTES §9 resolution of the source's async-callback chaining.
package statemachine

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

// ClientState is a state of the Client state machine.
type ClientState int

const (
	ClientNew ClientState = iota
	ClientCreate
	ClientCreateDevice
	ClientGetToken
	ClientReady
	ClientFailed
)

func (s ClientState) String() string {
	switch s {
	case ClientNew:
		return "NEW"
	case ClientCreate:
		return "CREATE"
	case ClientCreateDevice:
		return "CREATE_DEVICE"
	case ClientGetToken:
		return "GET_TOKEN"
	case ClientReady:
		return "READY"
	case ClientFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ClientActions supplies the service calls each Client SM step performs.
// A nil action is treated as an immediate no-op success, letting tests
// exercise a subset of steps.
type ClientActions struct {
	Create       func(ctx context.Context) error
	CreateDevice func(ctx context.Context) error
	GetToken     func(ctx context.Context) error
}

// ClientMachine drives a Client through NEW -> CREATE -> CREATE_DEVICE ->
// GET_TOKEN -> READY, per spec.md §4.10. It has a single owner: Run is
// meant to be called from one goroutine (the client's worker); State()
// is safe to read concurrently from anywhere else.
type ClientMachine struct {
	mu      sync.Mutex
	state   ClientState
	actions ClientActions
}

// NewClientMachine builds a ClientMachine in state NEW.
func NewClientMachine(actions ClientActions) *ClientMachine {
	return &ClientMachine{actions: actions}
}

// State returns the machine's current state.
func (m *ClientMachine) State() ClientState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ClientMachine) setState(s ClientState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run sequences every step to completion, retrying retriable failures
// with backoff and terminating to ClientFailed on the first fatal one.
// Returns nil once the machine reaches ClientReady.
func (m *ClientMachine) Run(ctx context.Context) error {
	steps := []struct {
		state  ClientState
		action func(ctx context.Context) error
	}{
		{ClientCreate, m.actions.Create},
		{ClientCreateDevice, m.actions.CreateDevice},
		{ClientGetToken, m.actions.GetToken},
	}
	for _, step := range steps {
		m.setState(step.state)
		if step.action == nil {
			continue
		}
		if err := runWithBackoff(ctx, step.action); err != nil {
			m.setState(ClientFailed)
			return err
		}
	}
	m.setState(ClientReady)
	return nil
}

// runWithBackoff wraps a single SM step's action with retry-go backoff,
// retrying only kinds spec.md §7 classifies as retriable (transport,
// throttling, 5xx, 408); every other failure surfaces immediately as
// fatal, matching the SM's "fatal codes terminate the machine" rule.
func runWithBackoff(ctx context.Context, action func(ctx context.Context) error) error {
	return retry.Do(
		func() error { return action(ctx) },
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return kvserrors.IsRetriable(err) }),
	)
}
