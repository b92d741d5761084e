// Package credentials implements the duck-typed credential-provider
// capability of spec.md §4.9/§6: {get_credentials() -> access_key,
// secret_key, session_token?, expiration}. File/env/IoT backends are
// explicit Non-goals; only a StaticProvider (fixed creds, for tests) and
// a RotatingProvider (refresh-on-expiry wrapper) live here.
package credentials

import (
	"context"
	"sync"
	"time"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

// Credentials is a time-limited credential set, signed requests use
// these fields directly for SigV4.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Expiration   time.Time
}

// Expired reports whether now is at or past c.Expiration.
func (c Credentials) Expired(now time.Time) bool {
	return !now.Before(c.Expiration)
}

// Provider is the capability every credential backend implements. The
// core requires only thread-safe read access and a refresh-on-expiry
// contract per spec.md §6 — it never assumes a concrete backend.
type Provider interface {
	GetCredentials(ctx context.Context) (Credentials, error)
}

// StaticProvider always returns the same fixed Credentials, for tests
// and fixed-IAM-user deployments that never rotate.
type StaticProvider struct {
	creds Credentials
}

// NewStaticProvider wraps a fixed credential set.
func NewStaticProvider(creds Credentials) *StaticProvider {
	return &StaticProvider{creds: creds}
}

func (p *StaticProvider) GetCredentials(ctx context.Context) (Credentials, error) {
	return p.creds, nil
}

// RotatingProvider wraps another Provider, caching its result until
// now+grace >= expiration per spec.md §4.9's signing rule, at which
// point it calls through to refresh. now is resolved via an injectable
// clock (defaulting to time.Now) since spec.md §4.9 requires
// implementations to use wall-clock time from a provided time function
// rather than assume a global clock, so the refresh boundary stays
// deterministically testable.
type RotatingProvider struct {
	mu       sync.Mutex
	upstream Provider
	grace    time.Duration
	now      func() time.Time

	cached    Credentials
	haveCache bool
}

// NewRotatingProvider wraps upstream, refreshing whenever now+grace
// would reach or pass the cached credentials' expiration. A nil now
// defaults to time.Now.
func NewRotatingProvider(upstream Provider, grace time.Duration, now func() time.Time) *RotatingProvider {
	if now == nil {
		now = time.Now
	}
	return &RotatingProvider{upstream: upstream, grace: grace, now: now}
}

func (p *RotatingProvider) GetCredentials(ctx context.Context) (Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveCache {
		now := p.now()
		if now.Add(p.grace).Before(p.cached.Expiration) {
			return p.cached, nil
		}
	}

	fresh, err := p.upstream.GetCredentials(ctx)
	if err != nil {
		return Credentials{}, kvserrors.New(kvserrors.InvalidCredentials, "credentials.RotatingProvider.GetCredentials", err)
	}
	p.cached = fresh
	p.haveCache = true
	return fresh, nil
}
