// Package local is the self-hosted identity provider: bcrypt credentials in
// PostgreSQL, login throttling in Redis, and an ordered auth-state stream.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
	"scms-access-service/internal/provider"
)

// CredentialStore is the slice of the credential repository the provider
// needs. Satisfied by postgres.CredentialRepository.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*identity.Credential, error)
	Create(ctx context.Context, cred *identity.Credential) error
}

// LoginLimiter throttles repeated sign-in attempts. Satisfied by
// session.RateLimiter.
type LoginLimiter interface {
	CheckLoginAttempt(ctx context.Context, email string) (bool, int64, error)
	ResetLoginAttempts(ctx context.Context, email string) error
}

type Provider struct {
	creds   CredentialStore
	limiter LoginLimiter
	logger  *zap.Logger

	// mu guards current and subs. Notifications are dispatched while
	// holding it, which serializes delivery: subscribers observe state
	// changes in the order they happened.
	mu      sync.Mutex
	current *provider.Identity
	subs    map[int]provider.StateChangeFunc
	nextSub int
}

func NewProvider(creds CredentialStore, limiter LoginLimiter, logger *zap.Logger) *Provider {
	return &Provider{
		creds:   creds,
		limiter: limiter,
		logger:  logger,
		subs:    make(map[int]provider.StateChangeFunc),
	}
}

// SignIn verifies the credentials and, on success, publishes the signed-in
// identity to subscribers. Failures are classified into the fixed taxonomy:
// InvalidCredentials, RateLimited, NetworkError.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*provider.Identity, error) {
	if p.limiter != nil {
		allowed, _, err := p.limiter.CheckLoginAttempt(ctx, email)
		if err != nil {
			p.logger.Error("rate limiter unavailable", zap.Error(err))
			return nil, xerrors.Wrap(xerrors.ErrNetwork, "rate limiter")
		}
		if !allowed {
			return nil, xerrors.ErrRateLimited
		}
	}

	cred, err := p.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, classifyLookupErr(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, xerrors.ErrInvalidCredentials
	}

	if p.limiter != nil {
		if err := p.limiter.ResetLoginAttempts(ctx, email); err != nil {
			p.logger.Warn("failed to reset login attempts", zap.Error(err))
		}
	}

	ident := &provider.Identity{ID: cred.ID, Email: cred.Email}
	p.setCurrent(ident)
	return ident, nil
}

// SignOut clears the signed-in identity and notifies subscribers.
func (p *Provider) SignOut(ctx context.Context) error {
	p.setCurrent(nil)
	return nil
}

// Register creates a credential and signs the new identity in. The email
// must be unused.
func (p *Provider) Register(ctx context.Context, email, password string) (*provider.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, xerrors.Wrap(err, "failed to hash password")
	}

	cred := &identity.Credential{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: string(hash),
	}

	if err := p.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEntry) {
			return nil, xerrors.ErrDuplicateEntry
		}
		return nil, classifyLookupErr(err)
	}

	ident := &provider.Identity{ID: cred.ID, Email: cred.Email}
	p.setCurrent(ident)
	return ident, nil
}

// Subscribe registers fn and immediately delivers the current state. The
// returned unsubscribe is idempotent.
func (p *Provider) Subscribe(fn provider.StateChangeFunc) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	current := p.current
	p.mu.Unlock()

	// Initial delivery mirrors every later notification: the subscriber
	// always learns the state it attached under.
	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) setCurrent(ident *provider.Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = ident
	for _, fn := range p.subs {
		fn(ident)
	}
}

// classifyLookupErr maps store failures onto the provider error taxonomy.
// A missing credential is indistinguishable from a wrong password.
func classifyLookupErr(err error) error {
	switch {
	case errors.Is(err, xerrors.ErrNotFound):
		return xerrors.ErrInvalidCredentials
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return xerrors.Wrap(xerrors.ErrNetwork, "identity store")
	default:
		// Anything else from the store is a backend reachability problem
		// from the caller's point of view.
		return xerrors.Wrap(xerrors.ErrNetwork, err.Error())
	}
}
