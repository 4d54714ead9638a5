// Package identity is the email/password identity provider: accounts,
// sign-in sessions and identity change notification.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/learnlive/learnlive/internal/model"
	"github.com/learnlive/learnlive/internal/ratelimit"
	"github.com/learnlive/learnlive/internal/store"
)

// Sign-in throttling per email address.
const (
	signInBurst  = 5
	signInWindow = time.Minute
)

// Users is the account and session storage the provider needs.
type Users interface {
	CreateUser(u model.User) (string, error)
	GetUserByEmail(email string) (*model.User, error)
	GetUserByID(id string) (*model.User, error)
	CreateAuthSession(userID string) (string, error)
	GetAuthSession(token string) (*model.AuthSession, error)
	DeleteAuthSession(token string) error
}

type credentials struct {
	Email    string `validate:"required,email"`
	Password string `validate:"min=6"`
}

// Provider holds the current identity and notifies listeners when it changes.
type Provider struct {
	users    Users
	validate *validator.Validate
	limiter  *ratelimit.Limiter
	cost     int

	mu        sync.Mutex
	current   *model.Identity
	token     string
	listeners map[int]func(*model.Identity)
	nextID    int
}

// Option configures a Provider.
type Option func(*Provider)

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.cost = cost }
}

// WithSignInLimit overrides the sign-in throttle.
func WithSignInLimit(attempts int, window time.Duration) Option {
	return func(p *Provider) { p.limiter = ratelimit.New(attempts, window) }
}

func New(users Users, opts ...Option) *Provider {
	p := &Provider{
		users:     users,
		validate:  validator.New(),
		limiter:   ratelimit.New(signInBurst, signInWindow),
		cost:      bcrypt.DefaultCost,
		listeners: make(map[int]func(*model.Identity)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(email, password string) (model.Identity, error) {
	email = normalize(email)
	if err := p.check(email, password); err != nil {
		return model.Identity{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := p.users.CreateUser(model.User{Email: email, PasswordHash: string(hash)})
	if errors.Is(err, store.ErrDuplicate) {
		return model.Identity{}, newError(KindEmailInUse, "an account with this email already exists")
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("create user: %w", err)
	}
	return p.startSession(model.Identity{ID: id, Email: email})
}

// SignIn checks the password and makes the account the current identity.
func (p *Provider) SignIn(email, password string) (model.Identity, error) {
	email = normalize(email)
	if err := p.validate.Var(email, "required,email"); err != nil {
		return model.Identity{}, newError(KindInvalidEmail, "email is not valid")
	}
	if !p.limiter.Allow(email) {
		slog.Warn("sign-in throttled", "email", email)
		return model.Identity{}, newError(KindTooManyRequests, "too many sign-in attempts")
	}

	user, err := p.users.GetUserByEmail(email)
	if err != nil {
		return model.Identity{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return model.Identity{}, newError(KindUserNotFound, "no account for this email")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.Identity{}, newError(KindWrongPassword, "password does not match")
	}
	p.limiter.Reset(email)
	return p.startSession(model.Identity{ID: user.ID, Email: user.Email})
}

// Resume restores the identity belonging to a session token from an earlier sign-in.
// It returns false when the token is unknown or expired.
func (p *Provider) Resume(token string) (bool, error) {
	sess, err := p.users.GetAuthSession(token)
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return false, nil
	}
	user, err := p.users.GetUserByID(sess.UserID)
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return false, nil
	}
	p.set(&model.Identity{ID: user.ID, Email: user.Email}, token)
	return true, nil
}

// SignOut ends the current session. Signing out while signed out is a no-op.
func (p *Provider) SignOut() error {
	p.mu.Lock()
	token := p.token
	signedIn := p.current != nil
	p.mu.Unlock()
	if !signedIn {
		return nil
	}
	if token != "" {
		if err := p.users.DeleteAuthSession(token); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	p.set(nil, "")
	return nil
}

// Current returns the signed-in identity, or nil.
func (p *Provider) Current() *model.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	id := *p.current
	return &id
}

// Token returns the session token of the current identity.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// OnIdentityChange calls fn with the current identity (nil when signed out)
// immediately and after every sign-in or sign-out. The returned function
// unregisters fn.
func (p *Provider) OnIdentityChange(fn func(*model.Identity)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(copyIdentity(current))

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) check(email, password string) error {
	err := p.validate.Struct(credentials{Email: email, Password: password})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if verrs[0].Field() == "Password" {
			return newError(KindWeakPassword, "password should be at least 6 characters")
		}
	}
	return newError(KindInvalidEmail, "email is not valid")
}

func (p *Provider) startSession(id model.Identity) (model.Identity, error) {
	token, err := p.users.CreateAuthSession(id.ID)
	if err != nil {
		return model.Identity{}, fmt.Errorf("create session: %w", err)
	}
	p.set(&id, token)
	slog.Info("signed in", "user", id.ID)
	return id, nil
}

func (p *Provider) set(id *model.Identity, token string) {
	p.mu.Lock()
	p.current = id
	p.token = token
	fns := make([]func(*model.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *model.Identity) *model.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
