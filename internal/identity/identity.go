// Package identity signs users up and in, issues JWT session tokens and
// notifies subscribers about sign-in and sign-out transitions.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/core"
	flog "fintrack/internal/log"
	"fintrack/internal/store"
)

const (
	MinPasswordLen = 6
	defaultIssuer  = "fintrack"
)

type EventType string

const (
	SignedIn  EventType = "signed_in"
	SignedOut EventType = "signed_out"
)

type (
	// Identity is an authenticated user as proven by a token.
	Identity struct {
		UserID    string
		Email     string
		TokenID   string
		ExpiresAt time.Time
	}

	// Session is returned by sign-up and sign-in.
	Session struct {
		Token    string
		Identity Identity
	}

	// Event describes an auth-state transition.
	Event struct {
		Type   EventType
		UserID string
		Email  string
		At     time.Time
	}

	Config struct {
		Secret     []byte
		TTL        time.Duration
		Issuer     string
		BcryptCost int
	}

	claims struct {
		Email string `json:"email"`
		jwt.RegisteredClaims
	}
)

type Provider struct {
	users  store.UserStore
	cfg    Config
	logger *flog.Logger
	now    func() time.Time

	// dummyHash keeps sign-in timing similar for unknown emails.
	dummyHash []byte

	mu      sync.Mutex
	revoked map[string]time.Time

	subsMu  sync.RWMutex
	subs    map[int]func(Event)
	nextSub int
	wg      sync.WaitGroup
}

func NewProvider(users store.UserStore, cfg Config, logger *flog.Logger) (*Provider, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("identity: empty signing secret")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = flog.New(flog.DefaultConfig())
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("fintrack-dummy-password"), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("identity: prepare dummy hash: %w", err)
	}
	return &Provider{
		users:     users,
		cfg:       cfg,
		logger:    logger.WithComponent(flog.ComponentIdentity),
		now:       time.Now,
		dummyHash: dummy,
		revoked:   make(map[string]time.Time),
		subs:      make(map[int]func(Event)),
	}, nil
}

// SignUp creates the account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < MinPasswordLen {
		return Session{}, core.NewAuthError(core.AuthInvalidInput,
			fmt.Sprintf("password must be at least %d characters", MinPasswordLen))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cfg.BcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := p.users.CreateUser(ctx, email, string(hash))
	if errors.Is(err, core.ErrConflict) {
		return Session{}, &core.AuthError{Kind: core.AuthConflict, Msg: "email already registered", Err: err}
	}
	if err != nil {
		return Session{}, err
	}

	p.logger.InfoContext(ctx, "User signed up", flog.FieldOwner, user.ID)
	return p.startSession(user)
}

// SignIn checks the password and issues a new token.
func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}

	user, err := p.users.FindUserByEmail(ctx, email)
	if errors.Is(err, core.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(password))
		return Session{}, core.NewAuthError(core.AuthInvalidCredentials, "invalid email or password")
	}
	if err != nil {
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		p.logger.WarnContext(ctx, "Sign-in rejected", flog.FieldOwner, user.ID)
		return Session{}, core.NewAuthError(core.AuthInvalidCredentials, "invalid email or password")
	}

	return p.startSession(user)
}

// SignOut revokes token until it would have expired anyway.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	id, err := p.Verify(ctx, token)
	if err != nil {
		return err
	}

	p.mu.Lock()
	now := p.now()
	for jti, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, jti)
		}
	}
	p.revoked[id.TokenID] = id.ExpiresAt
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "User signed out", flog.FieldOwner, id.UserID)
	p.publish(Event{Type: SignedOut, UserID: id.UserID, Email: id.Email, At: now})
	return nil
}

// Verify parses token and returns its identity.
func (p *Provider) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, core.NewAuthError(core.AuthMissing, "missing token")
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (interface{}, error) { return p.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, &core.AuthError{Kind: core.AuthExpired, Msg: "token expired", Err: err}
	case err != nil:
		return Identity{}, &core.AuthError{Kind: core.AuthInvalidToken, Msg: "invalid token", Err: err}
	case c.Subject == "" || c.ID == "":
		return Identity{}, core.NewAuthError(core.AuthInvalidToken, "incomplete token claims")
	}

	p.mu.Lock()
	_, revoked := p.revoked[c.ID]
	p.mu.Unlock()
	if revoked {
		return Identity{}, core.NewAuthError(core.AuthRevoked, "token revoked")
	}

	return Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Subscribe registers fn for auth-state events. Events are delivered on a
// separate goroutine. The returned func removes the subscription.
func (p *Provider) Subscribe(fn func(Event)) (unsubscribe func()) {
	p.subsMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.subsMu.Lock()
			delete(p.subs, id)
			p.subsMu.Unlock()
		})
	}
}

// Wait blocks until every dispatched event has been handled.
func (p *Provider) Wait() {
	p.wg.Wait()
}

func (p *Provider) startSession(user store.User) (Session, error) {
	now := p.now()
	c := claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.cfg.Secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}

	p.publish(Event{Type: SignedIn, UserID: user.ID, Email: user.Email, At: now})
	return Session{
		Token: signed,
		Identity: Identity{
			UserID:    user.ID,
			Email:     user.Email,
			TokenID:   c.ID,
			ExpiresAt: c.ExpiresAt.Time,
		},
	}, nil
}

func (p *Provider) publish(ev Event) {
	p.subsMu.RLock()
	handlers := make([]func(Event), 0, len(p.subs))
	for _, fn := range p.subs {
		handlers = append(handlers, fn)
	}
	p.subsMu.RUnlock()

	for _, fn := range handlers {
		p.wg.Add(1)
		go func(fn func(Event)) {
			defer p.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Auth event handler panicked", flog.FieldEvent, ev.Type, "panic", r)
				}
			}()
			fn(ev)
		}(fn)
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return "", core.NewAuthError(core.AuthInvalidInput, "invalid email address")
	}
	return email, nil
}
