package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scms-access-service/internal/domain/identity"
	xerrors "scms-access-service/internal/pkg/errors"
	"scms-access-service/internal/pkg/rbac"
	"scms-access-service/internal/provider"
	"scms-access-service/internal/service/audit"
)

// ---------- fakes ----------

type fakeProvider struct {
	mu           sync.Mutex
	current      *provider.Identity
	subs         []provider.StateChangeFunc
	signInFn     func(email, password string) (*provider.Identity, error)
	signOutErr   error
	signOutCalls int
}

func (f *fakeProvider) SignIn(ctx context.Context, email, password string) (*provider.Identity, error) {
	ident, err := f.signInFn(email, password)
	if err != nil {
		return nil, err
	}
	f.emit(ident)
	return ident, nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.signOutCalls++
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.emit(nil)
	return nil
}

func (f *fakeProvider) Subscribe(fn provider.StateChangeFunc) func() {
	f.mu.Lock()
	f.subs = append(f.subs, fn)
	current := f.current
	f.mu.Unlock()
	fn(current)
	return func() {}
}

func (f *fakeProvider) emit(ident *provider.Identity) {
	f.mu.Lock()
	f.current = ident
	subs := append([]provider.StateChangeFunc(nil), f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ident)
	}
}

func (f *fakeProvider) signOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

type fakeRegistrar struct {
	fakeProvider
	registerFn func(email, password string) (*provider.Identity, error)
}

func (f *fakeRegistrar) Register(ctx context.Context, email, password string) (*provider.Identity, error) {
	ident, err := f.registerFn(email, password)
	if err != nil {
		return nil, err
	}
	f.emit(ident)
	return ident, nil
}

type fakeProfiles struct {
	mu       sync.Mutex
	docs     map[string]identity.Profile
	getErr   error
	allErr   error
	getHook  func(id string)
	setCalls int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{docs: make(map[string]identity.Profile)}
}

func (f *fakeProfiles) Get(ctx context.Context, id string) (*identity.Profile, error) {
	if f.getHook != nil {
		f.getHook(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.docs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProfiles) GetAll(ctx context.Context) ([]identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	out := make([]identity.Profile, 0, len(f.docs))
	for _, p := range f.docs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProfiles) Set(ctx context.Context, id string, p *identity.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	stored := *p
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	f.docs[id] = stored
	return nil
}

type fakeAuditStore struct {
	mu      sync.Mutex
	records []identity.AuditRecord
	err     error
}

func (f *fakeAuditStore) Append(ctx context.Context, rec *identity.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeAuditStore) all() []identity.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.AuditRecord(nil), f.records...)
}

// ---------- helpers ----------

func newController(fp provider.IdentityProvider, reg provider.Registrar, profiles *fakeProfiles, auditStore *fakeAuditStore) *Controller {
	logger := zap.NewNop()
	return New(fp, reg, profiles, audit.NewRecorder(auditStore, logger), logger)
}

func adminProfile(id string) identity.Profile {
	return identity.Profile{ID: id, Username: "boss", Email: "boss@x.com", Role: rbac.RoleAdmin, CreatedAt: time.Now()}
}

func managerProfile(id string) identity.Profile {
	return identity.Profile{ID: id, Username: "mgr", Email: "b@x.com", Role: rbac.RoleManager, CreatedAt: time.Now()}
}

// ---------- passive state-change resolution ----------

func TestInitializeWithoutIdentity(t *testing.T) {
	fp := &fakeProvider{}
	profiles := newFakeProfiles()
	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	assert.Equal(t, identity.StatePending, c.Session().State)

	c.Initialize(context.Background())

	snap := c.Session()
	assert.Equal(t, identity.StateUnauthenticated, snap.State)
	assert.Nil(t, snap.User)
	assert.Empty(t, c.Directory())
}

func TestStateChangeResolvesAdminAndDirectory(t *testing.T) {
	fp := &fakeProvider{current: &provider.Identity{ID: "uid9", Email: "boss@x.com"}}
	profiles := newFakeProfiles()
	profiles.docs["uid9"] = adminProfile("uid9")
	profiles.docs["uid10"] = managerProfile("uid10")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	snap := c.Session()
	require.Equal(t, identity.StateAuthenticated, snap.State)
	assert.Equal(t, rbac.RoleAdmin, snap.User.Role)
	assert.Equal(t, "uid9", snap.User.ID)
	assert.Len(t, c.Directory(), 2)
}

func TestStateChangeMissingProfileStaysUnauthenticated(t *testing.T) {
	fp := &fakeProvider{current: &provider.Identity{ID: "ghost", Email: "g@x.com"}}
	c := newController(fp, nil, newFakeProfiles(), &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	assert.Equal(t, identity.StateUnauthenticated, c.Session().State)
}

func TestStateChangeInvalidRoleStaysUnauthenticated(t *testing.T) {
	fp := &fakeProvider{current: &provider.Identity{ID: "uid1", Email: "u@x.com"}}
	profiles := newFakeProfiles()
	profiles.docs["uid1"] = identity.Profile{ID: "uid1", Email: "u@x.com", Role: "superuser"}

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	snap := c.Session()
	assert.Equal(t, identity.StateUnauthenticated, snap.State)
	assert.Nil(t, snap.User)
}

func TestStateChangeClearsDirectoryOnSignOut(t *testing.T) {
	fp := &fakeProvider{current: &provider.Identity{ID: "uid9", Email: "boss@x.com"}}
	profiles := newFakeProfiles()
	profiles.docs["uid9"] = adminProfile("uid9")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())
	require.NotEmpty(t, c.Directory())

	fp.emit(nil)

	assert.Equal(t, identity.StateUnauthenticated, c.Session().State)
	assert.Empty(t, c.Directory())
}

// ---------- login ----------

func TestLoginManager(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid7", Email: "b@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")
	auditStore := &fakeAuditStore{}

	c := newController(fp, nil, profiles, auditStore)
	defer c.Close()

	role, err := c.Login(context.Background(), "b@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, role)

	snap := c.Session()
	require.Equal(t, identity.StateAuthenticated, snap.State)
	assert.Equal(t, rbac.RoleManager, snap.User.Role)

	records := auditStore.all()
	require.Len(t, records, 1)
	assert.Equal(t, identity.ActionLogin, records[0].Action)
	assert.Equal(t, "uid7", records[0].UserID)
	assert.Equal(t, rbac.RoleManager, records[0].Role)

	// Directory is admin-only
	assert.Empty(t, c.Directory())
}

func TestLoginAdminPopulatesDirectory(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid9", Email: "boss@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid9"] = adminProfile("uid9")
	profiles.docs["uid10"] = managerProfile("uid10")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	role, err := c.Login(context.Background(), "boss@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)
	assert.Len(t, c.Directory(), 2)
}

func TestLoginMissingProfileCompensates(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid123", Email: "a@x.com"}, nil
	}}
	auditStore := &fakeAuditStore{}

	c := newController(fp, nil, newFakeProfiles(), auditStore)
	defer c.Close()

	_, err := c.Login(context.Background(), "a@x.com", "pw")
	assert.ErrorIs(t, err, xerrors.ErrAccountIncomplete)

	// Provider session was invalidated, nothing was audited, and the
	// session never became authenticated.
	assert.Equal(t, 1, fp.signOuts())
	assert.Empty(t, auditStore.all())
	assert.NotEqual(t, identity.StateAuthenticated, c.Session().State)
}

func TestLoginInvalidRoleCompensates(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid5", Email: "c@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid5"] = identity.Profile{ID: "uid5", Email: "c@x.com", Role: "intern"}

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	_, err := c.Login(context.Background(), "c@x.com", "pw")
	assert.ErrorIs(t, err, xerrors.ErrInvalidRole)
	assert.Equal(t, 1, fp.signOuts())
	assert.NotEqual(t, identity.StateAuthenticated, c.Session().State)
}

func TestLoginFailureKinds(t *testing.T) {
	cases := []struct {
		name     string
		signInErr error
		want     error
	}{
		{"invalid credentials", xerrors.ErrInvalidCredentials, xerrors.ErrInvalidCredentials},
		{"rate limited", xerrors.ErrRateLimited, xerrors.ErrRateLimited},
		{"network", xerrors.ErrNetwork, xerrors.ErrNetwork},
		{"unknown becomes unexpected", errors.New("boom"), xerrors.ErrUnexpected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
				return nil, tc.signInErr
			}}
			c := newController(fp, nil, newFakeProfiles(), &fakeAuditStore{})
			defer c.Close()

			_, err := c.Login(context.Background(), "x@x.com", "pw")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoginAuditFailureDoesNotFailLogin(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid7", Email: "b@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")

	c := newController(fp, nil, profiles, &fakeAuditStore{err: errors.New("audit backend down")})
	defer c.Close()

	role, err := c.Login(context.Background(), "b@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, role)
	assert.Equal(t, identity.StateAuthenticated, c.Session().State)
}

func TestLoginDirectoryFetchFailureDegradesQuietly(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid9", Email: "boss@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid9"] = adminProfile("uid9")
	profiles.allErr = errors.New("directory unavailable")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	role, err := c.Login(context.Background(), "boss@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, role)
	assert.Equal(t, identity.StateAuthenticated, c.Session().State)
	assert.Empty(t, c.Directory())
}

func TestUsernameFallsBackToEmail(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid8", Email: "noname@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid8"] = identity.Profile{ID: "uid8", Email: "noname@x.com", Role: rbac.RoleManager}

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	_, err := c.Login(context.Background(), "noname@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "noname@x.com", c.Session().User.Username)
}

// ---------- registration ----------

func TestRegisterCreatesManagerAccount(t *testing.T) {
	reg := &fakeRegistrar{}
	reg.registerFn = func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "new1", Email: email}, nil
	}
	profiles := newFakeProfiles()
	auditStore := &fakeAuditStore{}

	c := newController(reg, reg, profiles, auditStore)
	defer c.Close()

	role, err := c.Register(context.Background(), &identity.RegisterRequest{
		Username: "newbie", Email: "n@x.com", Password: "longenough",
	})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, role)

	stored, err := profiles.Get(context.Background(), "new1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, stored.Role)
	assert.Equal(t, "newbie", stored.Username)

	snap := c.Session()
	require.Equal(t, identity.StateAuthenticated, snap.State)
	assert.Equal(t, rbac.RoleManager, snap.User.Role)

	records := auditStore.all()
	require.Len(t, records, 1)
	assert.Equal(t, identity.ActionLogin, records[0].Action)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	reg := &fakeRegistrar{}
	reg.registerFn = func(email, password string) (*provider.Identity, error) {
		return nil, xerrors.ErrDuplicateEntry
	}

	c := newController(reg, reg, newFakeProfiles(), &fakeAuditStore{})
	defer c.Close()

	_, err := c.Register(context.Background(), &identity.RegisterRequest{
		Username: "dupe", Email: "d@x.com", Password: "longenough",
	})
	assert.ErrorIs(t, err, xerrors.ErrDuplicateEntry)
}

// ---------- logout ----------

func loginAsManager(t *testing.T, c *Controller) {
	t.Helper()
	_, err := c.Login(context.Background(), "b@x.com", "pw")
	require.NoError(t, err)
}

func TestLogoutRecordsAuditAndClearsSession(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid7", Email: "b@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")
	auditStore := &fakeAuditStore{}

	c := newController(fp, nil, profiles, auditStore)
	defer c.Close()
	loginAsManager(t, c)

	require.NoError(t, c.Logout(context.Background()))

	records := auditStore.all()
	require.Len(t, records, 2)
	assert.Equal(t, identity.ActionLogout, records[1].Action)
	assert.Equal(t, rbac.RoleManager, records[1].Role)

	assert.Equal(t, identity.StateUnauthenticated, c.Session().State)
	for _, p := range rbac.PermissionsFor(rbac.RoleManager) {
		assert.False(t, c.HasPermission(p))
	}
}

func TestLogoutAuditFailureStillSignsOut(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid7", Email: "b@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")
	auditStore := &fakeAuditStore{}

	c := newController(fp, nil, profiles, auditStore)
	defer c.Close()
	loginAsManager(t, c)

	auditStore.mu.Lock()
	auditStore.err = errors.New("telemetry down")
	auditStore.mu.Unlock()

	err := c.Logout(context.Background())
	assert.ErrorIs(t, err, xerrors.ErrAuditFailed)

	// Sign-out was still attempted and the session is cleared.
	assert.Equal(t, 1, fp.signOuts())
	assert.Equal(t, identity.StateUnauthenticated, c.Session().State)
}

func TestLogoutWhenUnauthenticatedIsNoOp(t *testing.T) {
	fp := &fakeProvider{}
	c := newController(fp, nil, newFakeProfiles(), &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	assert.NoError(t, c.Logout(context.Background()))
	assert.Zero(t, fp.signOuts())
}

// ---------- permissions and guard ----------

func TestHasPermission(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid7", Email: "b@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	// Unauthenticated: false for every token.
	assert.False(t, c.HasPermission(rbac.PermRead))
	assert.False(t, c.HasPermission(rbac.PermManageUsers))

	loginAsManager(t, c)

	assert.True(t, c.HasPermission(rbac.PermRead))
	assert.True(t, c.HasPermission(rbac.PermManageInventory))
	assert.False(t, c.HasPermission(rbac.PermDelete))
	assert.False(t, c.HasPermission(rbac.PermManageUsers))

	// Pure query: repeated calls agree.
	for i := 0; i < 3; i++ {
		assert.True(t, c.HasPermission(rbac.PermWrite))
	}
}

func TestGuardUnauthenticatedRedirectsToLogin(t *testing.T) {
	c := newController(&fakeProvider{}, nil, newFakeProfiles(), &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	dec := c.Guard(nil, "/manager/inventory")
	assert.False(t, dec.Admit)
	assert.Equal(t, rbac.LoginPath, dec.RedirectTo)
}

func TestGuardAdmin(t *testing.T) {
	fp := &fakeProvider{current: &provider.Identity{ID: "uid9", Email: "boss@x.com"}}
	profiles := newFakeProfiles()
	profiles.docs["uid9"] = adminProfile("uid9")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	// Any path under the admin area is admitted.
	assert.True(t, c.Guard(nil, "/admin").Admit)
	assert.True(t, c.Guard(nil, "/admin/users").Admit)
	assert.True(t, c.Guard([]rbac.Permission{rbac.PermManageUsers}, "/admin/users").Admit)

	// A manager-area path redirects to the admin home, never to login.
	dec := c.Guard(nil, "/manager/forecast")
	assert.False(t, dec.Admit)
	assert.Equal(t, rbac.AdminHome, dec.RedirectTo)
}

func TestGuardManager(t *testing.T) {
	fp := &fakeProvider{current: &provider.Identity{ID: "uid7", Email: "b@x.com"}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()
	c.Initialize(context.Background())

	assert.True(t, c.Guard(nil, "/manager/suppliers").Admit)

	dec := c.Guard(nil, "/admin")
	assert.False(t, dec.Admit)
	assert.Equal(t, rbac.ManagerHome, dec.RedirectTo)

	// In the right area but lacking a required permission: home, not admit.
	dec = c.Guard([]rbac.Permission{rbac.PermManageUsers}, "/manager/suppliers")
	assert.False(t, dec.Admit)
	assert.Equal(t, rbac.ManagerHome, dec.RedirectTo)

	// Required permissions the role holds are honored.
	assert.True(t, c.Guard([]rbac.Permission{rbac.PermManageSuppliers}, "/manager/suppliers").Admit)
}

// ---------- ordering and streaming ----------

func TestLastEventWinsAtCommit(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.docs["old"] = identity.Profile{ID: "old", Email: "old@x.com", Role: rbac.RoleManager}
	profiles.docs["new"] = identity.Profile{ID: "new", Email: "new@x.com", Role: rbac.RoleManager}

	entered := make(chan struct{})
	release := make(chan struct{})
	var hookOnce sync.Once
	profiles.getHook = func(id string) {
		if id == "old" {
			hookOnce.Do(func() { close(entered) })
			<-release
		}
	}

	c := newController(&fakeProvider{}, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	done := make(chan struct{})
	go func() {
		c.handleStateChange(context.Background(), &provider.Identity{ID: "old", Email: "old@x.com"})
		close(done)
	}()

	<-entered
	// A newer event resolves and commits while the older fetch is stuck.
	c.handleStateChange(context.Background(), &provider.Identity{ID: "new", Email: "new@x.com"})
	require.Equal(t, "new", c.Session().User.ID)

	close(release)
	<-done

	// The stale result was discarded at commit, not applied.
	assert.Equal(t, "new", c.Session().User.ID)
}

func TestSubscribeStreamsTransitions(t *testing.T) {
	fp := &fakeProvider{signInFn: func(email, password string) (*provider.Identity, error) {
		return &provider.Identity{ID: "uid7", Email: "b@x.com"}, nil
	}}
	profiles := newFakeProfiles()
	profiles.docs["uid7"] = managerProfile("uid7")

	c := newController(fp, nil, profiles, &fakeAuditStore{})
	defer c.Close()

	ch, cancel := c.Subscribe()
	defer cancel()

	loginAsManager(t, c)
	waitForState(t, ch, identity.StateAuthenticated)

	require.NoError(t, c.Logout(context.Background()))
	waitForState(t, ch, identity.StateUnauthenticated)
}

// waitForState reads snapshots until the wanted state arrives. Interactive
// operations publish alongside the provider's own state-change event, so a
// transition may surface as more than one snapshot.
func waitForState(t *testing.T, ch <-chan Snapshot, want identity.SessionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			require.True(t, ok, "snapshot stream closed while waiting for %s", want)
			if snap.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for session state %s", want)
		}
	}
}

func TestSubscribeCancelCloses(t *testing.T) {
	c := newController(&fakeProvider{}, nil, newFakeProfiles(), &fakeAuditStore{})
	defer c.Close()

	ch, cancel := c.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)
}
