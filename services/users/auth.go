package users

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/middleware"
	"github.com/R3E-Network/storefront/supabase/client"
)

// Account is an identity known to the auth provider.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Token is the result of a password sign-in.
type Token struct {
	AccessToken  string   `json:"access_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int      `json:"expires_in"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	User         *Account `json:"user"`
}

// AuthProvider creates accounts and issues access tokens.
type AuthProvider interface {
	CreateUser(ctx context.Context, email, password string, metadata map[string]any) (*Account, error)
	DeleteUser(ctx context.Context, id string) error
	SignIn(ctx context.Context, email, password string) (*Token, error)
	Accounts(ctx context.Context) ([]Account, error)
}

func invalidCredentials() error {
	return errors.Unauthorized("invalid email or password")
}

// =============================================================================
// Local provider
// =============================================================================

const defaultTokenTTL = time.Hour

type localAccount struct {
	Account
	hash      []byte
	createdAt time.Time
}

// LocalAuth keeps bcrypt password hashes in memory and signs HS256 tokens
// that the auth middleware accepts. It backs the memory and postgres modes.
type LocalAuth struct {
	mu      sync.RWMutex
	byEmail map[string]*localAccount
	secret  []byte
	ttl     time.Duration
	cost    int
	now     func() time.Time
}

// LocalAuthOption configures a LocalAuth.
type LocalAuthOption func(*LocalAuth)

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) LocalAuthOption {
	return func(a *LocalAuth) { a.ttl = ttl }
}

// WithBcryptCost sets the hashing cost.
func WithBcryptCost(cost int) LocalAuthOption {
	return func(a *LocalAuth) { a.cost = cost }
}

// NewLocalAuth creates a LocalAuth signing with secret.
func NewLocalAuth(secret string, opts ...LocalAuthOption) *LocalAuth {
	a := &LocalAuth{
		byEmail: make(map[string]*localAccount),
		secret:  []byte(secret),
		ttl:     defaultTokenTTL,
		cost:    bcrypt.DefaultCost,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *LocalAuth) CreateUser(_ context.Context, email, password string, _ map[string]any) (*Account, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.byEmail[email]; exists {
		return nil, errors.Conflict("a user with this email address has already been registered")
	}
	acc := &localAccount{
		Account:   Account{ID: uuid.NewString(), Email: email},
		hash:      hash,
		createdAt: a.now(),
	}
	a.byEmail[email] = acc
	out := acc.Account
	return &out, nil
}

func (a *LocalAuth) DeleteUser(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for email, acc := range a.byEmail {
		if acc.ID == id {
			delete(a.byEmail, email)
			return nil
		}
	}
	return errors.NotFound("user", id)
}

func (a *LocalAuth) SignIn(_ context.Context, email, password string) (*Token, error) {
	if len(a.secret) == 0 {
		return nil, errors.Internal("token signing is not configured", nil)
	}
	a.mu.RLock()
	acc, ok := a.byEmail[normalizeEmail(email)]
	a.mu.RUnlock()
	if !ok {
		return nil, invalidCredentials()
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, invalidCredentials()
	}

	now := a.now()
	claims := &middleware.Claims{
		UserID: acc.ID,
		Email:  acc.Email,
		Role:   "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, errors.Internal("failed to sign token", err)
	}
	user := acc.Account
	return &Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(a.ttl / time.Second),
		User:        &user,
	}, nil
}

func (a *LocalAuth) Accounts(context.Context) ([]Account, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rows := make([]*localAccount, 0, len(a.byEmail))
	for _, acc := range a.byEmail {
		rows = append(rows, acc)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].createdAt.Before(rows[j].createdAt) })
	out := make([]Account, 0, len(rows))
	for _, acc := range rows {
		out = append(out, acc.Account)
	}
	return out, nil
}

// =============================================================================
// Supabase provider
// =============================================================================

const accountsPageSize = 1000

// SupabaseAuth delegates to the BaaS auth API. Admin calls need a client
// built with the service role key.
type SupabaseAuth struct {
	auth *client.AuthClient
}

// NewSupabaseAuth wraps the auth API of c.
func NewSupabaseAuth(c *client.Client) *SupabaseAuth {
	return &SupabaseAuth{auth: c.Auth()}
}

func (a *SupabaseAuth) CreateUser(ctx context.Context, email, password string, metadata map[string]any) (*Account, error) {
	user, err := a.auth.AdminCreateUser(ctx, client.AdminUserAttributes{
		Email:        strings.TrimSpace(email),
		Password:     password,
		EmailConfirm: true,
		UserMetadata: metadata,
	})
	if err != nil {
		return nil, authError(err)
	}
	return &Account{ID: user.ID, Email: user.Email}, nil
}

func (a *SupabaseAuth) DeleteUser(ctx context.Context, id string) error {
	if err := a.auth.AdminDeleteUser(ctx, id); err != nil {
		return authError(err)
	}
	return nil
}

func (a *SupabaseAuth) SignIn(ctx context.Context, email, password string) (*Token, error) {
	resp, err := a.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil, invalidCredentials()
		}
		return nil, authError(err)
	}
	tok := &Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
	}
	if resp.User != nil {
		tok.User = &Account{ID: resp.User.ID, Email: resp.User.Email}
	}
	return tok, nil
}

func (a *SupabaseAuth) Accounts(ctx context.Context) ([]Account, error) {
	var out []Account
	for page := 1; ; page++ {
		users, err := a.auth.AdminListUsers(ctx, page, accountsPageSize)
		if err != nil {
			return nil, authError(err)
		}
		for _, u := range users {
			out = append(out, Account{ID: u.ID, Email: u.Email})
		}
		if len(users) < accountsPageSize {
			return out, nil
		}
	}
}

// authError maps BaaS auth failures: client errors keep their message as a
// 400 and anything else is an upstream failure.
func authError(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		switch apiErr.StatusCode {
		case http.StatusNotFound:
			return errors.NotFound("user", "")
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return errors.Conflict(apiErr.Message)
		}
		return errors.BadRequest(apiErr.Message)
	}
	return errors.Upstream("auth", err)
}
