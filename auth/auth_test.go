package auth

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/types"
)

type recordingMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *recordingMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[email] = link
	return nil
}

type fakeVerifier struct {
	claims map[string]*idClaims
}

func (f *fakeVerifier) Verify(ctx context.Context, rawIDToken string) (*idClaims, error) {
	c, ok := f.claims[rawIDToken]
	if !ok {
		return nil, errors.New("bad signature")
	}
	return c, nil
}

func newAuthenticator(t *testing.T) (*Authenticator, *persistence.GormPersist, *recordingMailer) {
	t.Helper()
	cfg := config.Default()
	cfg.PersistenceConfig.DSN = filepath.Join(t.TempDir(), "adda.db")
	cfg.AuthConfig.JWTSecret = "test-secret"
	cfg.AdminUsers = []string{"boss@example.com"}
	store, err := persistence.NewGormPersister(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	mailer := &recordingMailer{links: make(map[string]string)}
	a, err := NewAuthenticator(cfg, store, mailer)
	require.NoError(t, err)
	return a, store, mailer
}

func TestNewAuthenticatorNeedsSecret(t *testing.T) {
	_, err := NewAuthenticator(config.Default(), nil, nil)
	assert.Error(t, err)
}

func TestSignUpAndSignIn(t *testing.T) {
	a, store, _ := newAuthenticator(t)
	ctx := context.Background()

	session, err := a.SignUp(ctx, SignUpRequest{Email: " Mina@Example.com ", Password: "secret1", Name: "Mina"})
	require.NoError(t, err)
	assert.Equal(t, "mina@example.com", session.Identity.Email)

	profile, err := store.GetProfile(ctx, session.Identity.UserId)
	require.NoError(t, err)
	assert.Equal(t, "Mina", profile.Name)
	assert.Equal(t, types.RoleGeneral, profile.Role)

	identity, err := a.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Identity.UserId, identity.UserId)

	_, err = a.SignUp(ctx, SignUpRequest{Email: "mina@example.com", Password: "secret2"})
	assert.True(t, errors.Is(err, types.ErrEmailTaken))

	_, err = a.SignIn(ctx, "mina@example.com", "wrong-password")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, err = a.SignIn(ctx, "nobody@example.com", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	again, err := a.SignIn(ctx, "MINA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, session.Identity.UserId, again.Identity.UserId)
}

func TestSignUpValidation(t *testing.T) {
	a, _, _ := newAuthenticator(t)
	ctx := context.Background()
	_, err := a.SignUp(ctx, SignUpRequest{Email: "not-an-email", Password: "secret1"})
	assert.True(t, errors.Is(err, types.ErrValidation))
	_, err = a.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "123"})
	assert.True(t, errors.Is(err, types.ErrValidation))
	_, err = a.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "secret1", Name: strings.Repeat("n", 61)})
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestSignUpGeneratesNameAndAdminRole(t *testing.T) {
	a, store, _ := newAuthenticator(t)
	ctx := context.Background()
	session, err := a.SignUp(ctx, SignUpRequest{Email: "boss@example.com", Password: "secret1"})
	require.NoError(t, err)
	profile, err := store.GetProfile(ctx, session.Identity.UserId)
	require.NoError(t, err)
	assert.NotEmpty(t, profile.Name)
	assert.True(t, profile.IsAdmin())
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	a, _, _ := newAuthenticator(t)
	_, err := a.Verify("garbage")
	assert.True(t, errors.Is(err, types.ErrForbidden))

	other, err := signToken([]byte("other-secret"), Identity{UserId: "u"}, a.now(), a.cfg.TokenTTL)
	require.NoError(t, err)
	_, err = a.Verify(other.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	expired, err := signToken(a.secret, Identity{UserId: "u"}, a.now().Add(-2*a.cfg.TokenTTL), a.cfg.TokenTTL)
	require.NoError(t, err)
	_, err = a.Verify(expired.Token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestAuthStateListeners(t *testing.T) {
	a, _, _ := newAuthenticator(t)
	ctx := context.Background()
	events := make([]Event, 0)
	unsubscribe := a.OnAuthStateChange(func(event Event, session *Session) {
		events = append(events, event)
	})

	session, err := a.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, session, a.CurrentSession())
	a.SignOut()
	assert.Nil(t, a.CurrentSession())
	assert.Equal(t, []Event{EventSignedIn, EventSignedOut}, events)

	unsubscribe()
	_, err = a.SignIn(ctx, "a@example.com", "secret1")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestPasswordReset(t *testing.T) {
	a, _, mailer := newAuthenticator(t)
	ctx := context.Background()
	_, err := a.SignUp(ctx, SignUpRequest{Email: "a@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, a.RequestPasswordReset(ctx, "nobody@example.com"))
	assert.Empty(t, mailer.links)

	require.NoError(t, a.RequestPasswordReset(ctx, "A@example.com"))
	link, ok := mailer.links["a@example.com"]
	require.True(t, ok)
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	require.NoError(t, a.ResetPassword(ctx, token, "secret2"))
	_, err = a.SignIn(ctx, "a@example.com", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, err = a.SignIn(ctx, "a@example.com", "secret2")
	require.NoError(t, err)

	err = a.ResetPassword(ctx, token, "secret3")
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestSignInWithIDToken(t *testing.T) {
	a, store, _ := newAuthenticator(t)
	ctx := context.Background()
	verified := true
	a.verifiers["google"] = &fakeVerifier{claims: map[string]*idClaims{
		"good":       {Email: "Ravi@example.com", EmailVerified: &verified, Name: "Ravi", Picture: "https://example.com/r.png"},
		"unverified": {Email: "x@example.com", EmailVerified: new(bool)},
	}}

	_, err := a.SignInWithIDToken(ctx, "unknown", "good")
	assert.True(t, errors.Is(err, types.ErrValidation))
	_, err = a.SignInWithIDToken(ctx, "google", "forged")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, err = a.SignInWithIDToken(ctx, "google", "unverified")
	assert.True(t, errors.Is(err, types.ErrForbidden))

	first, err := a.SignInWithIDToken(ctx, "google", "good")
	require.NoError(t, err)
	assert.Equal(t, "google", first.Identity.Provider)
	profile, err := store.GetProfile(ctx, first.Identity.UserId)
	require.NoError(t, err)
	assert.Equal(t, "Ravi", profile.Name)
	assert.Equal(t, "https://example.com/r.png", profile.AvatarUrl)

	second, err := a.SignInWithIDToken(ctx, "google", "good")
	require.NoError(t, err)
	assert.Equal(t, first.Identity.UserId, second.Identity.UserId)

	// OIDC accounts have no password
	_, err = a.SignIn(ctx, "ravi@example.com", "")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestEnsureAdmins(t *testing.T) {
	a, store, _ := newAuthenticator(t)
	ctx := context.Background()
	session, err := a.SignUp(ctx, SignUpRequest{Email: "mod@example.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, a.EnsureAdmins(ctx, []string{"missing@example.com", "mod@example.com"}))
	profile, err := store.GetProfile(ctx, session.Identity.UserId)
	require.NoError(t, err)
	assert.True(t, profile.IsAdmin())
}
