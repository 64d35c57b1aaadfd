package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- helpers ---

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type fakeReporter struct {
	mu     sync.Mutex
	errors []error
}

func (r *fakeReporter) CaptureError(_ context.Context, err error, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *fakeReporter) Flush(time.Duration) bool { return true }

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func testConfig() *config.Config {
	var cfg config.Config
	cfg.LoadDefaults()
	cfg.SecretKey = "test-secret"
	return &cfg
}

func newTestService(t *testing.T, st store.Store, cfg *config.Config) (*UserService, *fakeReporter) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	rep := &fakeReporter{}
	svc, err := NewUserService(st, cfg, nopLogger{}, rep)
	require.NoError(t, err)
	svc.passwords = auth.NewBcryptHasher(bcrypt.MinCost)
	return svc, rep
}

func register(t *testing.T, svc *UserService, username, password string) int64 {
	t.Helper()
	require.NoError(t, svc.Register(context.Background(), UserDraft{
		Username: username, Password: password, FirstName: "First", LastName: "Last",
	}))
	list, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	for _, u := range list {
		if u.Username == username {
			return u.ID
		}
	}
	t.Fatalf("user %q not found after register", username)
	return 0
}

func storedToken(t *testing.T, svc *UserService, userID int64, token string) models.RefreshToken {
	t.Helper()
	u, err := svc.GetByID(context.Background(), userID)
	require.NoError(t, err)
	rt := u.FindRefreshToken(token)
	require.NotNil(t, rt, "token not stored")
	return *rt
}

// --- Authenticate ---

func TestAuthenticate_IssuesActiveSevenDayToken(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	res, err := svc.Authenticate(context.Background(), "alice", "pw1", "10.0.0.1")
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, id, res.User.ID)
	assert.True(t, res.RefreshToken.IsActive(time.Now()))
	assert.Equal(t, 7*24*time.Hour, res.RefreshToken.Expires.Sub(res.RefreshToken.Created))
	assert.Equal(t, "10.0.0.1", res.RefreshToken.CreatedByIP)

	gotID, err := svc.Signer().Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	stored := storedToken(t, svc, id, res.RefreshToken.Token)
	assert.True(t, stored.IsActive(time.Now()))
}

func TestAuthenticate_AppendsTokenPerLogin(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	a, err := svc.Authenticate(context.Background(), "alice", "pw1", "10.0.0.1")
	require.NoError(t, err)
	b, err := svc.Authenticate(context.Background(), "alice", "pw1", "10.0.0.2")
	require.NoError(t, err)
	assert.NotEqual(t, a.RefreshToken.Token, b.RefreshToken.Token)

	tokens, err := svc.RefreshTokens(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.True(t, tokens[0].IsActive(time.Now()), "a second login does not revoke the first session")
}

func TestAuthenticate_SameErrorForUnknownUserAndWrongPassword(t *testing.T) {
	svc, rep := newTestService(t, store.NewMemoryStore(), nil)
	register(t, svc, "alice", "pw1")

	_, errWrong := svc.Authenticate(context.Background(), "alice", "nope", "ip")
	_, errUnknown := svc.Authenticate(context.Background(), "mallory", "pw1", "ip")

	require.ErrorIs(t, errWrong, common.ErrInvalidCredentials)
	require.ErrorIs(t, errUnknown, common.ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
	assert.Zero(t, rep.count(), "rejected logins are not reported")

	list, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list[0].RefreshTokens, "a failed login issues nothing")
}

// --- RefreshToken ---

func TestRefreshToken_RotatesAndLinks(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "10.0.0.1")
	require.NoError(t, err)
	r1 := login.RefreshToken.Token

	res, err := svc.RefreshToken(context.Background(), r1, "10.0.0.2")
	require.NoError(t, err)
	r2 := res.RefreshToken.Token
	assert.NotEqual(t, r1, r2)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "10.0.0.2", res.RefreshToken.CreatedByIP)

	old := storedToken(t, svc, id, r1)
	assert.True(t, old.IsRevoked())
	assert.Equal(t, r2, old.ReplacedByToken)
	assert.Equal(t, "10.0.0.2", old.RevokedByIP)

	assert.True(t, storedToken(t, svc, id, r2).IsActive(time.Now()))

	_, err = svc.RefreshToken(context.Background(), r1, "10.0.0.2")
	assert.ErrorIs(t, err, common.ErrTokenInactive)
}

func TestRefreshToken_UnknownToken(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)

	_, err := svc.RefreshToken(context.Background(), "does-not-exist", "ip")
	assert.ErrorIs(t, err, common.ErrTokenNotFound)

	_, err = svc.RefreshToken(context.Background(), "", "ip")
	assert.ErrorIs(t, err, common.ErrTokenNotFound)
}

func TestRefreshToken_ExpiredTokenIsInactive(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)

	later := login.RefreshToken.Expires.Add(time.Second)
	svc.now = func() time.Time { return later }

	_, err = svc.RefreshToken(context.Background(), login.RefreshToken.Token, "ip")
	assert.ErrorIs(t, err, common.ErrTokenInactive)

	stored := storedToken(t, svc, id, login.RefreshToken.Token)
	assert.False(t, stored.IsRevoked(), "expiry alone does not revoke")
}

func TestRefreshToken_AtExactExpiryIsInactive(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)

	svc.now = func() time.Time { return login.RefreshToken.Expires }
	_, err = svc.RefreshToken(context.Background(), login.RefreshToken.Token, "ip")
	assert.ErrorIs(t, err, common.ErrTokenInactive)
}

func TestRefreshToken_ConcurrentSingleWinner(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		inactive  int
		other     []error
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.RefreshToken(context.Background(), login.RefreshToken.Token, "ip")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, common.ErrTokenInactive):
				inactive++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, inactive)

	tokens, err := svc.RefreshTokens(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, tokens, 2, "exactly one successor was issued")
}

func TestRefreshToken_ReuseRevokesDescendantsWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.RevokeDescendantsOnReuse = true
	svc, _ := newTestService(t, store.NewMemoryStore(), cfg)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)
	r1 := login.RefreshToken.Token

	second, err := svc.RefreshToken(context.Background(), r1, "ip")
	require.NoError(t, err)
	third, err := svc.RefreshToken(context.Background(), second.RefreshToken.Token, "ip")
	require.NoError(t, err)
	r3 := third.RefreshToken.Token

	// an unrelated session must survive
	other, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), r1, "6.6.6.6")
	require.ErrorIs(t, err, common.ErrTokenInactive)

	leaf := storedToken(t, svc, id, r3)
	assert.True(t, leaf.IsRevoked(), "the live descendant is revoked")
	assert.Equal(t, "6.6.6.6", leaf.RevokedByIP)
	assert.Empty(t, leaf.ReplacedByToken)

	assert.True(t, storedToken(t, svc, id, other.RefreshToken.Token).IsActive(time.Now()))

	_, err = svc.RefreshToken(context.Background(), r3, "ip")
	assert.ErrorIs(t, err, common.ErrTokenInactive)
}

func TestRefreshToken_ReuseKeepsDescendantsByDefault(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)
	next, err := svc.RefreshToken(context.Background(), login.RefreshToken.Token, "ip")
	require.NoError(t, err)

	_, err = svc.RefreshToken(context.Background(), login.RefreshToken.Token, "ip")
	require.ErrorIs(t, err, common.ErrTokenInactive)

	assert.True(t, storedToken(t, svc, id, next.RefreshToken.Token).IsActive(time.Now()))
}

// --- RevokeToken ---

func TestRevokeToken(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)
	tok := login.RefreshToken.Token

	ok, err := svc.RevokeToken(context.Background(), tok, "10.0.0.3")
	require.NoError(t, err)
	assert.True(t, ok)

	stored := storedToken(t, svc, id, tok)
	assert.True(t, stored.IsRevoked())
	assert.Equal(t, "10.0.0.3", stored.RevokedByIP)
	assert.Empty(t, stored.ReplacedByToken)

	ok, err = svc.RevokeToken(context.Background(), tok, "ip")
	require.NoError(t, err)
	assert.False(t, ok, "already revoked")

	ok, err = svc.RevokeToken(context.Background(), "unknown", "ip")
	require.NoError(t, err)
	assert.False(t, ok, "unknown")

	ok, err = svc.RevokeToken(context.Background(), "", "ip")
	require.NoError(t, err)
	assert.False(t, ok, "empty")
}

func TestRevokeToken_ExpiredReportsFalse(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)

	svc.now = func() time.Time { return login.RefreshToken.Expires.Add(time.Hour) }
	ok, err := svc.RevokeToken(context.Background(), login.RefreshToken.Token, "ip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeUserToken_OnlyOwnTokens(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	aliceID := register(t, svc, "alice", "pw1")
	bobID := register(t, svc, "bob", "pw2")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)
	tok := login.RefreshToken.Token

	ok, err := svc.RevokeUserToken(context.Background(), bobID, tok, "ip")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, storedToken(t, svc, aliceID, tok).IsActive(time.Now()))

	ok, err = svc.RevokeUserToken(context.Background(), 0, tok, "ip")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.RevokeUserToken(context.Background(), aliceID, tok, "ip")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, storedToken(t, svc, aliceID, tok).IsRevoked())
}

// --- Register ---

func TestRegister_CreateStartsWithEmptyTokens(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	u, err := svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "First", u.FirstName)
	assert.Empty(t, u.RefreshTokens)
	assert.NotEqual(t, "pw1", u.PasswordHash, "password is stored hashed")
}

func TestRegister_UpdateKeepsUsernameAndTokens(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	require.NoError(t, err)

	err = svc.Register(context.Background(), UserDraft{
		ID: id, Username: "ignored", Password: "pw2", FirstName: "Alicia", LastName: "Smith",
	})
	require.NoError(t, err)

	u, err := svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "Alicia", u.FirstName)
	assert.Equal(t, "Smith", u.LastName)
	require.Len(t, u.RefreshTokens, 1)
	assert.Equal(t, login.RefreshToken.Token, u.RefreshTokens[0].Token)

	_, err = svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = svc.Authenticate(context.Background(), "alice", "pw2", "ip")
	assert.NoError(t, err)
}

func TestRegister_Failures(t *testing.T) {
	svc, rep := newTestService(t, store.NewMemoryStore(), nil)
	register(t, svc, "alice", "pw1")

	tests := []struct {
		name  string
		draft UserDraft
		want  error
	}{
		{"duplicate username", UserDraft{Username: "alice", Password: "x"}, common.ErrorAlreadyExists},
		{"missing username", UserDraft{Username: "  ", Password: "x"}, common.ErrorValidation},
		{"missing password", UserDraft{Username: "bob"}, common.ErrorValidation},
		{"password over bcrypt limit", UserDraft{Username: "bob", Password: strings.Repeat("x", 73)}, common.ErrorValidation},
		{"update of missing user", UserDraft{ID: 99, Password: "x"}, common.ErrorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Register(context.Background(), tt.draft)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	list, err := svc.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1, "failed registrations leave no partial state")
	assert.Zero(t, rep.count())
}

// --- reads ---

func TestGetByID_NotFound(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)

	_, err := svc.GetByID(context.Background(), 42)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = svc.RefreshTokens(context.Background(), 42)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRefreshTokens_EmptyHistoryIsNotNil(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	id := register(t, svc, "alice", "pw1")

	tokens, err := svc.RefreshTokens(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, tokens)
	assert.Empty(t, tokens)
}

// --- persistence failures ---

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) InTx(context.Context, func(context.Context, store.Tx) error) error {
	return f.err
}

func (f failingStore) List(context.Context) ([]*models.User, error) { return nil, f.err }

func TestPersistenceFailuresAreWrappedAndReported(t *testing.T) {
	boom := errors.New("connection reset")
	svc, rep := newTestService(t, failingStore{Store: store.NewMemoryStore(), err: boom}, nil)

	_, err := svc.Authenticate(context.Background(), "alice", "pw1", "ip")
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.ErrorIs(t, err, boom)

	_, err = svc.RefreshToken(context.Background(), "tok", "ip")
	assert.ErrorIs(t, err, common.ErrPersistence)

	ok, err := svc.RevokeToken(context.Background(), "tok", "ip")
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.False(t, ok)

	err = svc.Register(context.Background(), UserDraft{Username: "bob", Password: "pw"})
	assert.ErrorIs(t, err, common.ErrPersistence)

	_, err = svc.GetAll(context.Background())
	assert.ErrorIs(t, err, common.ErrPersistence)

	assert.Equal(t, 5, rep.count())
}

func TestCanceledContextIsNotReported(t *testing.T) {
	svc, rep := newTestService(t, failingStore{Store: store.NewMemoryStore(), err: context.Canceled}, nil)

	_, err := svc.RefreshToken(context.Background(), "tok", "ip")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, common.ErrPersistence)
	assert.Zero(t, rep.count())
}

func TestNewUserService_UnknownHasher(t *testing.T) {
	cfg := testConfig()
	cfg.PasswordHasher = "plaintext"

	_, err := NewUserService(store.NewMemoryStore(), cfg, nopLogger{}, &fakeReporter{})
	assert.Error(t, err)
}

// --- end to end ---

func TestAliceScenario(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore(), nil)
	ctx := context.Background()
	id := register(t, svc, "alice", "pw1")

	login, err := svc.Authenticate(ctx, "alice", "pw1", "10.0.0.1")
	require.NoError(t, err)
	a1, r1 := login.AccessToken, login.RefreshToken.Token
	require.NotEmpty(t, a1)

	refreshed, err := svc.RefreshToken(ctx, r1, "10.0.0.2")
	require.NoError(t, err)
	a2, r2 := refreshed.AccessToken, refreshed.RefreshToken.Token
	require.NotEmpty(t, a2)

	old := storedToken(t, svc, id, r1)
	assert.False(t, old.IsActive(time.Now()))
	assert.Equal(t, r2, old.ReplacedByToken)

	_, err = svc.RefreshToken(ctx, r1, "10.0.0.2")
	require.ErrorIs(t, err, common.ErrTokenInactive)

	ok, err := svc.RevokeToken(ctx, r2, "10.0.0.3")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.RefreshToken(ctx, r2, "10.0.0.3")
	require.ErrorIs(t, err, common.ErrTokenInactive)
}

func TestRevokeChain(t *testing.T) {
	now := time.Now()
	live := func(tok, next string) models.RefreshToken {
		rt := models.RefreshToken{Token: tok, Expires: now.Add(time.Hour)}
		if next != "" {
			rt.Revoke(now.Add(-time.Minute), "ip", next)
		}
		return rt
	}

	u := &models.User{RefreshTokens: []models.RefreshToken{
		live("a", "b"), live("b", "c"), live("c", ""), live("x", ""),
	}}
	assert.Equal(t, 1, revokeChain(u, "b", now, "evil"))
	assert.True(t, u.FindRefreshToken("c").IsRevoked())
	assert.False(t, u.FindRefreshToken("x").IsRevoked())

	loop := &models.User{RefreshTokens: []models.RefreshToken{live("p", "q"), live("q", "p")}}
	assert.Equal(t, 0, revokeChain(loop, "q", now, "ip"))
}
