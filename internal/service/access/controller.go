// Package access owns the process-wide dashboard session: who is signed in,
// with what role, and what navigation that admits.
package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
	"scms-access-service/internal/pkg/rbac"
	"scms-access-service/internal/provider"
	"scms-access-service/internal/service/audit"
	"scms-access-service/internal/store"
)

// Snapshot is an immutable view of the session at one point in time.
type Snapshot struct {
	State identity.SessionState `json:"state"`
	User  *identity.User        `json:"user,omitempty"`
}

// Controller is the session and access controller. It is the only writer of
// session state; everything else reads snapshots.
type Controller struct {
	provider  provider.IdentityProvider
	registrar provider.Registrar
	profiles  store.ProfileStore
	audit     *audit.Recorder
	logger    *zap.Logger

	// loginMu serializes Login, Register and Logout against each other. A
	// second login issued before the first resolves waits its turn.
	loginMu sync.Mutex

	// mu guards snap, directory and committedSeq.
	mu           sync.RWMutex
	snap         Snapshot
	directory    []identity.Profile
	committedSeq uint64

	// eventSeq hands out commit sequence numbers. Last event wins: a commit
	// whose sequence is older than the committed one is discarded, so a slow
	// profile fetch can never overwrite a newer session.
	eventSeq atomic.Uint64

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
	closed  bool

	unsubscribe func()
	closeOnce   sync.Once
}

// New builds a controller in the pending state. Call Initialize to attach it
// to the identity provider.
func New(p provider.IdentityProvider, reg provider.Registrar, profiles store.ProfileStore, rec *audit.Recorder, logger *zap.Logger) *Controller {
	return &Controller{
		provider:  p,
		registrar: reg,
		profiles:  profiles,
		audit:     rec,
		logger:    logger,
		snap:      Snapshot{State: identity.StatePending},
		subs:      make(map[int]chan Snapshot),
	}
}

// Initialize subscribes to provider state changes for the lifetime of the
// process. The provider delivers the current state immediately, which moves
// the session out of pending. Close releases the subscription exactly once.
func (c *Controller) Initialize(ctx context.Context) {
	c.unsubscribe = c.provider.Subscribe(func(ident *provider.Identity) {
		c.handleStateChange(ctx, ident)
	})
}

// Close releases the provider subscription and all snapshot subscribers.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.subMu.Lock()
		c.closed = true
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.subMu.Unlock()
	})
}

// handleStateChange resolves a provider event into a session commit.
// Failures here degrade the session rather than surfacing to callers: this
// path is passive observation, and it must never crash the view layer.
func (c *Controller) handleStateChange(ctx context.Context, ident *provider.Identity) {
	seq := c.eventSeq.Add(1)

	if ident == nil {
		c.commit(seq, Snapshot{State: identity.StateUnauthenticated}, nil)
		return
	}

	prof, err := c.profiles.Get(ctx, ident.ID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			c.logger.Error("no profile document for identity", zap.String("id", ident.ID))
		} else {
			c.logger.Error("failed to fetch profile", zap.String("id", ident.ID), zap.Error(err))
		}
		c.commit(seq, Snapshot{State: identity.StateUnauthenticated}, nil)
		return
	}

	if !prof.Role.Valid() {
		c.logger.Error("invalid user role",
			zap.String("id", ident.ID),
			zap.String("role", string(prof.Role)),
		)
		c.commit(seq, Snapshot{State: identity.StateUnauthenticated}, nil)
		return
	}

	user := resolveUser(ident, prof)
	c.commit(seq, Snapshot{State: identity.StateAuthenticated, User: user}, c.loadDirectory(ctx, prof.Role))
}

// Login runs the interactive login sequence and returns the resolved role so
// the caller can route to the right dashboard. The session is never left
// authenticated with a missing or invalid profile: those paths sign the
// provider session back out before failing.
func (c *Controller) Login(ctx context.Context, email, password string) (rbac.Role, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	ident, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return "", classifyLoginErr(err)
	}

	prof, err := c.profiles.Get(ctx, ident.ID)
	if err != nil {
		c.compensateSignOut(ctx, ident.ID)
		if errors.Is(err, xerrors.ErrNotFound) {
			return "", xerrors.ErrAccountIncomplete
		}
		return "", classifyLoginErr(err)
	}

	if !prof.Role.Valid() {
		c.compensateSignOut(ctx, ident.ID)
		return "", xerrors.ErrInvalidRole
	}

	// Audit is a side channel: a failed write is logged inside the recorder
	// and must not fail the login.
	_ = c.audit.Record(ctx, identity.ActionLogin, ident.ID, ident.Email, prof.Role)

	user := resolveUser(ident, prof)
	seq := c.eventSeq.Add(1)
	c.commit(seq, Snapshot{State: identity.StateAuthenticated, User: user}, c.loadDirectory(ctx, prof.Role))

	return prof.Role, nil
}

// Register creates a manager account and signs it in. The admin role is
// provisioned out-of-band and never assigned here.
func (c *Controller) Register(ctx context.Context, req *identity.RegisterRequest) (rbac.Role, error) {
	if c.registrar == nil {
		return "", xerrors.ErrUnexpected
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	ident, err := c.registrar.Register(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, xerrors.ErrDuplicateEntry) {
			return "", xerrors.ErrDuplicateEntry
		}
		return "", classifyLoginErr(err)
	}

	prof := &identity.Profile{
		ID:       ident.ID,
		Username: req.Username,
		Email:    req.Email,
		Role:     rbac.RoleManager,
	}

	if err := c.profiles.Set(ctx, ident.ID, prof); err != nil {
		c.compensateSignOut(ctx, ident.ID)
		return "", classifyLoginErr(err)
	}

	// Re-read so the committed session carries the store-assigned creation
	// timestamp.
	if stored, err := c.profiles.Get(ctx, ident.ID); err == nil {
		prof = stored
	}

	_ = c.audit.Record(ctx, identity.ActionLogin, ident.ID, ident.Email, prof.Role)

	user := resolveUser(ident, prof)
	seq := c.eventSeq.Add(1)
	c.commit(seq, Snapshot{State: identity.StateAuthenticated, User: user}, nil)

	return prof.Role, nil
}

// Logout records the logout, signs the provider session out and clears the
// session. A failed audit write propagates to the caller, but the provider
// sign-out is attempted regardless: logout must not get stuck because
// telemetry failed.
func (c *Controller) Logout(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap.State != identity.StateAuthenticated {
		return nil
	}

	auditErr := c.audit.Record(ctx, identity.ActionLogout, snap.User.ID, snap.User.Email, snap.User.Role)

	signOutErr := c.provider.SignOut(ctx)

	seq := c.eventSeq.Add(1)
	c.commit(seq, Snapshot{State: identity.StateUnauthenticated}, nil)

	if signOutErr != nil {
		return xerrors.Wrap(signOutErr, "failed to sign out")
	}
	return auditErr
}

// HasPermission is a pure query over the current session: false when not
// authenticated, otherwise membership in the role's fixed permission set.
func (c *Controller) HasPermission(p rbac.Permission) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.snap.State != identity.StateAuthenticated {
		return false
	}
	return rbac.Allowed(c.snap.User.Role, p)
}

// Guard decides whether a navigation to path is admitted. Admission requires
// both: the path lies in the session role's area (explicit area table, not
// prefix guessing), and the role holds every required permission. Anything
// else redirects to the role's home, or to login when unauthenticated.
func (c *Controller) Guard(required []rbac.Permission, path string) identity.GuardResponse {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if snap.State != identity.StateAuthenticated {
		return identity.GuardResponse{RedirectTo: rbac.LoginPath}
	}

	role := snap.User.Role
	if rbac.InArea(role, path) {
		for _, p := range required {
			if !rbac.Allowed(role, p) {
				return identity.GuardResponse{RedirectTo: role.Home()}
			}
		}
		return identity.GuardResponse{Admit: true}
	}

	// Wrong area: send the user to their own home. Role.Home falls back to
	// the public home for a role outside the closed set, which is
	// unreachable for an authenticated session but handled all the same.
	return identity.GuardResponse{RedirectTo: role.Home()}
}

// Session returns the current snapshot. The user value is a copy.
func (c *Controller) Session() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.snap
	if snap.User != nil {
		user := *snap.User
		snap.User = &user
	}
	return snap
}

// Directory returns the admin-only user directory as last refreshed. Empty
// for non-admin sessions.
func (c *Controller) Directory() []identity.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]identity.Profile, len(c.directory))
	copy(out, c.directory)
	return out
}

// Subscribe returns an ordered stream of session snapshots and a cancel
// function. The channel is buffered; a consumer that falls behind loses
// intermediate snapshots rather than blocking the controller.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Snapshot, 8)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// commit applies a session transition if it is still the newest one. The
// stale check runs at the point of commit, not dispatch, so in-flight
// fetches from superseded events are discarded, never applied.
func (c *Controller) commit(seq uint64, snap Snapshot, directory []identity.Profile) {
	c.mu.Lock()
	if seq < c.committedSeq {
		c.mu.Unlock()
		return
	}
	c.committedSeq = seq
	c.snap = snap
	c.directory = directory
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Controller) publish(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// loadDirectory refreshes the user directory for admin sessions. The
// directory is a derived cache: a fetch failure logs and yields an empty
// directory, never a session failure.
func (c *Controller) loadDirectory(ctx context.Context, role rbac.Role) []identity.Profile {
	if role != rbac.RoleAdmin {
		return nil
	}

	profiles, err := c.profiles.GetAll(ctx)
	if err != nil {
		c.logger.Error("failed to fetch user directory", zap.Error(err))
		return nil
	}
	return profiles
}

// compensateSignOut undoes a provider sign-in whose identity turned out not
// to be trustworthy.
func (c *Controller) compensateSignOut(ctx context.Context, id string) {
	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.Error("failed to sign out untrusted identity",
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

func resolveUser(ident *provider.Identity, prof *identity.Profile) *identity.User {
	username := prof.Username
	if username == "" {
		username = ident.Email
	}
	return &identity.User{
		ID:        ident.ID,
		Email:     ident.Email,
		Username:  username,
		Role:      prof.Role,
		CreatedAt: prof.CreatedAt,
	}
}

// classifyLoginErr keeps known failure kinds and folds everything else into
// the catch-all, so no failure is ever silently swallowed or left unmapped.
func classifyLoginErr(err error) error {
	switch {
	case errors.Is(err, xerrors.ErrInvalidCredentials),
		errors.Is(err, xerrors.ErrRateLimited),
		errors.Is(err, xerrors.ErrNetwork),
		errors.Is(err, xerrors.ErrAccountIncomplete),
		errors.Is(err, xerrors.ErrInvalidRole),
		errors.Is(err, xerrors.ErrDuplicateEntry):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.ErrNetwork, "request timed out")
	default:
		return xerrors.Wrap(xerrors.ErrUnexpected, err.Error())
	}
}
