package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/types"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", types.ErrForbidden)

// Event names a change of the process' current session.
type Event string

const (
	EventSignedIn  Event = "signed_in"
	EventSignedOut Event = "signed_out"
)

// StateListener is called with the new session (nil after sign-out).
type StateListener func(event Event, session *Session)

type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"max=60"`
}

// Authenticator signs users up and in, issues and verifies session tokens and handles password resets. It also
// keeps the current session of the process, which long-lived clients (the admin tool) observe through
// OnAuthStateChange.
type Authenticator struct {
	cfg    config.AuthConfig
	admins func(email string) bool
	store  persistence.Persister
	mailer Mailer
	secret []byte
	now    func() time.Time
	logger hclog.Logger

	mu        sync.Mutex
	verifiers map[string]idTokenVerifier
	current   *Session
	listeners map[int]StateListener
	nextId    int
}

func NewAuthenticator(cfg *config.Config, store persistence.Persister, mailer Mailer) (*Authenticator, error) {
	if cfg.AuthConfig.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is not configured")
	}
	if mailer == nil {
		mailer = NewLogMailer()
	}
	a := Authenticator{
		cfg:       cfg.AuthConfig,
		admins:    cfg.IsAdminEmail,
		store:     store,
		mailer:    mailer,
		secret:    []byte(cfg.AuthConfig.JWTSecret),
		now:       time.Now,
		logger:    globals.AppLogger.Named("auth"),
		verifiers: make(map[string]idTokenVerifier),
		listeners: make(map[int]StateListener),
	}
	return &a, nil
}

func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// SignUp creates the account and its profile and signs the new user in. Users without a name get a generated one.
func (a *Authenticator) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	err := types.ValidateStruct(&req)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, types.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	profile, err := a.createUser(ctx, req.Email, req.Name, "", string(hash))
	if err != nil {
		return nil, err
	}
	return a.startSession(Identity{UserId: profile.Id, Email: req.Email})
}

func (a *Authenticator) createUser(ctx context.Context, email, name, provider, passwordHash string) (*types.Profile, error) {
	_, err := a.store.GetAccountByEmail(ctx, email)
	if err == nil {
		return nil, types.ErrEmailTaken
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if name == "" {
		name = goname.New(goname.FantasyMap).FirstLast()
	}
	profile := &types.Profile{Id: uuid.NewString(), Name: name, Role: types.RoleGeneral}
	if a.admins(email) {
		profile.Role = types.RoleAdmin
	}
	err = a.store.CreateUser(ctx, profile, &types.Account{Email: email, Provider: provider, PasswordHash: passwordHash})
	if err != nil {
		return nil, err
	}
	a.logger.Info("user signed up", "id", profile.Id, "provider", provider, "role", profile.Role)
	return profile, nil
}

// SignIn checks email and password. Unknown emails and wrong passwords fail the same way.
func (a *Authenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	account, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if account.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	return a.startSession(Identity{UserId: account.UserId, Email: account.Email})
}

// SignInWithIDToken verifies an ID token of a configured OIDC provider. The first sign-in creates the account.
func (a *Authenticator) SignInWithIDToken(ctx context.Context, provider, rawIDToken string) (*Session, error) {
	verifier, err := a.verifierFor(ctx, provider)
	if err != nil {
		return nil, err
	}
	claims, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		a.logger.Warn("could not verify id token", "provider", provider, "error", err)
		return nil, ErrInvalidCredentials
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" || (claims.EmailVerified != nil && !*claims.EmailVerified) {
		return nil, fmt.Errorf("id token has no verified email: %w", types.ErrForbidden)
	}
	account, err := a.store.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		return a.startSession(Identity{UserId: account.UserId, Email: email, Provider: provider})
	case !errors.Is(err, types.ErrNotFound):
		return nil, err
	}
	profile, err := a.createUser(ctx, email, claims.Name, provider, "")
	if err != nil {
		return nil, err
	}
	if claims.Picture != "" {
		picture := claims.Picture
		_, err = a.store.UpdateProfile(ctx, profile.Id, types.ProfileUpdate{AvatarUrl: &picture})
		if err != nil {
			a.logger.Warn("could not store avatar from id token", "id", profile.Id, "error", err)
		}
	}
	return a.startSession(Identity{UserId: profile.Id, Email: email, Provider: provider})
}

// Verify returns the identity behind a session token.
func (a *Authenticator) Verify(token string) (*Identity, error) {
	return parseToken(a.secret, token)
}

// Refresh issues a new token for a still valid one.
func (a *Authenticator) Refresh(token string) (*Session, error) {
	identity, err := a.Verify(token)
	if err != nil {
		return nil, err
	}
	return signToken(a.secret, *identity, a.now().UTC(), a.cfg.TokenTTL)
}

func (a *Authenticator) startSession(identity Identity) (*Session, error) {
	session, err := signToken(a.secret, identity, a.now().UTC(), a.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	a.setCurrent(EventSignedIn, session)
	return session, nil
}

// SignOut drops the current session of the process.
func (a *Authenticator) SignOut() {
	a.setCurrent(EventSignedOut, nil)
}

// CurrentSession is the session of the last sign-in, or nil.
func (a *Authenticator) CurrentSession() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// OnAuthStateChange registers a listener for sign-in and sign-out. The returned function removes it.
func (a *Authenticator) OnAuthStateChange(fn StateListener) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextId
	a.nextId++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *Authenticator) setCurrent(event Event, session *Session) {
	a.mu.Lock()
	a.current = session
	listeners := make([]StateListener, 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()
	for _, l := range listeners {
		l(event, session)
	}
}

// RequestPasswordReset mails a single-use reset link. Unknown addresses are not reported to the caller.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	account, err := a.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			a.logger.Debug("password reset for unknown email", "email", email)
			return nil
		}
		return err
	}
	reset := &types.PasswordReset{
		Token:     uuid.NewString(),
		UserId:    account.UserId,
		ExpiresAt: a.now().UTC().Add(a.cfg.ResetTTL),
	}
	err = a.store.StorePasswordReset(ctx, reset)
	if err != nil {
		return err
	}
	link := a.cfg.ResetURL + "?token=" + url.QueryEscape(reset.Token)
	return a.mailer.SendPasswordReset(ctx, account.Email, link)
}

// ResetPassword consumes a reset token and sets the new password.
func (a *Authenticator) ResetPassword(ctx context.Context, token, password string) error {
	if len(password) < minPasswordLength {
		return types.NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	reset, err := a.store.ConsumePasswordReset(ctx, token)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.store.UpdatePassword(ctx, reset.UserId, string(hash))
}

// EnsureAdmins promotes the accounts listed in admin_users. Addresses without an account are skipped.
func (a *Authenticator) EnsureAdmins(ctx context.Context, emails []string) error {
	for _, email := range emails {
		account, err := a.store.GetAccountByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				a.logger.Info("admin user has no account yet", "email", email)
				continue
			}
			return err
		}
		err = a.store.SetRole(ctx, account.UserId, types.RoleAdmin)
		if err != nil {
			return err
		}
	}
	return nil
}
