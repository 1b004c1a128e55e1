// Package users manages back-office accounts: auth identities, profiles and
// role grants.
package users

import (
	"context"
	"strings"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/storage"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
)

const ServiceName = "users"

// Config configures the users service.
type Config struct {
	Store storage.UserStore
	Auth  AuthProvider
	// AdminBootstrap lets any signed-in caller create users while no admin
	// exists.
	AdminBootstrap bool
	Logger         *logging.Logger
}

// Service implements account administration and sign-in.
type Service struct {
	store     storage.UserStore
	auth      AuthProvider
	bootstrap bool
	logger    *logging.Logger
}

// New creates the users service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:     cfg.Store,
		auth:      cfg.Auth,
		bootstrap: cfg.AdminBootstrap,
		logger:    cfg.Logger,
	}
}

func (s *Service) emails(ctx context.Context) map[string]string {
	out := make(map[string]string)
	if s.auth == nil {
		return out
	}
	accounts, err := s.auth.Accounts(ctx)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("failed to list auth accounts")
		return out
	}
	for _, a := range accounts {
		out[a.ID] = a.Email
	}
	return out
}

func (s *Service) user(ctx context.Context, p domain.UserProfile, email string) (*domain.User, error) {
	roles, err := s.store.ListRoles(ctx, p.UserID)
	if err != nil {
		return nil, commonservice.StoreError("user roles", p.UserID, err)
	}
	if roles == nil {
		roles = []domain.UserRole{}
	}
	profile := p
	return &domain.User{ID: p.UserID, Email: email, Profile: &profile, Roles: roles}, nil
}

// ListUsers returns every profile with its roles, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, commonservice.StoreError("users", "", err)
	}
	emails := s.emails(ctx)
	out := make([]domain.User, 0, len(profiles))
	for _, p := range profiles {
		u, err := s.user(ctx, p, emails[p.UserID])
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}

// GetUser returns one account.
func (s *Service) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, commonservice.StoreError("user", userID, err)
	}
	return s.user(ctx, *p, s.emails(ctx)[userID])
}

// authorizeCreate allows admins, and anyone signed in while no admin exists
// and bootstrap is enabled.
func (s *Service) authorizeCreate(ctx context.Context, callerID string) error {
	if callerID == "" {
		return errors.Unauthorized("")
	}
	if s.bootstrap {
		n, err := s.store.CountRole(ctx, domain.RoleAdmin)
		if err != nil {
			return errors.Internal("failed to check existing admins", err)
		}
		if n == 0 {
			s.logger.LogSecurityEvent(ctx, "admin_bootstrap", map[string]interface{}{"caller_id": callerID})
			return nil
		}
	}
	roles, err := s.store.ListRoles(ctx, callerID)
	if err != nil {
		return errors.Internal("failed to load caller roles", err)
	}
	for _, r := range roles {
		if r.Role == domain.RoleAdmin {
			return nil
		}
	}
	return errors.Forbidden("admin permissions required")
}

// CreateUserAdmin creates an auth identity, its profile and its roles on
// behalf of callerID. When the profile or roles cannot be written the
// profile and the identity are deleted again.
func (s *Service) CreateUserAdmin(ctx context.Context, callerID string, req domain.NewUserRequest) (*domain.User, error) {
	if err := s.authorizeCreate(ctx, callerID); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	roles, _ := domain.ParseRoles(req.Roles)
	if s.auth == nil {
		return nil, errors.Internal("no auth provider configured", nil)
	}

	log := s.logger.WithContext(ctx).WithField("email", req.Email)
	acc, err := s.auth.CreateUser(ctx, req.Email, req.Password, map[string]any{"full_name": req.FullName})
	if err != nil {
		log.WithError(err).Warn("auth user creation failed")
		return nil, err
	}

	rollback := func(cause error) error {
		if derr := s.store.DeleteProfile(ctx, acc.ID); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			log.WithError(derr).WithField("user_id", acc.ID).Error("failed to remove profile after error")
		}
		if derr := s.auth.DeleteUser(ctx, acc.ID); derr != nil {
			log.WithError(derr).WithField("user_id", acc.ID).Error("failed to remove auth user after error")
		}
		return cause
	}

	profile, err := s.store.CreateProfile(ctx, &domain.UserProfile{
		UserID:   acc.ID,
		FullName: req.FullName,
		Phone:    optional(req.Phone),
		Address:  optional(req.Address),
		City:     optional(req.City),
		Notes:    optional(req.Notes),
		IsActive: true,
	})
	if err != nil {
		return nil, rollback(commonservice.StoreError("user profile", acc.ID, err))
	}
	grants, err := s.store.ReplaceRoles(ctx, acc.ID, roles, callerID)
	if err != nil {
		return nil, rollback(commonservice.StoreError("user roles", acc.ID, err))
	}

	s.logger.LogSecurityEvent(ctx, "user_created", map[string]interface{}{
		"user_id":   acc.ID,
		"roles":     req.Roles,
		"caller_id": callerID,
	})
	return &domain.User{ID: acc.ID, Email: acc.Email, Profile: profile, Roles: grants}, nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// UpdateProfile applies patch to the profile of userID.
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.UserProfile, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, commonservice.StoreError("user", userID, err)
	}
	if err := patch.Apply(p); err != nil {
		return nil, errors.Validation(err)
	}
	updated, err := s.store.UpdateProfile(ctx, p)
	if err != nil {
		return nil, commonservice.StoreError("user", userID, err)
	}
	return updated, nil
}

// UpdateRoles replaces every role of userID. Admins cannot drop their own
// admin role.
func (s *Service) UpdateRoles(ctx context.Context, callerID, userID string, names []string) ([]domain.UserRole, error) {
	roles, err := domain.ParseRoles(names)
	if err != nil {
		return nil, errors.Validation(err)
	}
	if _, err := s.store.GetProfile(ctx, userID); err != nil {
		return nil, commonservice.StoreError("user", userID, err)
	}
	if callerID == userID && !hasRole(roles, domain.RoleAdmin) {
		return nil, errors.Conflict("you cannot remove your own admin role")
	}
	grants, err := s.store.ReplaceRoles(ctx, userID, roles, callerID)
	if err != nil {
		return nil, commonservice.StoreError("user roles", userID, err)
	}
	s.logger.LogSecurityEvent(ctx, "roles_updated", map[string]interface{}{
		"user_id":   userID,
		"roles":     names,
		"caller_id": callerID,
	})
	return grants, nil
}

func hasRole(roles []domain.Role, want domain.Role) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// Deactivate marks the profile of userID inactive. Inactive accounts cannot
// sign in.
func (s *Service) Deactivate(ctx context.Context, userID string) (*domain.UserProfile, error) {
	inactive := false
	return s.UpdateProfile(ctx, userID, domain.ProfilePatch{IsActive: &inactive})
}

// Login exchanges credentials for an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, error) {
	if strings.TrimSpace(email) == "" {
		return nil, errors.MissingParameter("email")
	}
	if password == "" {
		return nil, errors.MissingParameter("password")
	}
	if s.auth == nil {
		return nil, errors.Internal("no auth provider configured", nil)
	}
	tok, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		s.logger.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": email})
		return nil, err
	}
	if tok.User != nil {
		p, err := s.store.GetProfile(ctx, tok.User.ID)
		switch {
		case err == nil && !p.IsActive:
			return nil, errors.Forbidden("account is deactivated")
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return nil, commonservice.StoreError("user", tok.User.ID, err)
		}
	}
	return tok, nil
}
