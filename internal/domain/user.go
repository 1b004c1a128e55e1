package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Role is an application role granted through user_roles.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleUser           Role = "user"
	RoleDeliveryPerson Role = "delivery_person"
	RoleCustomer       Role = "customer"
	RoleCook           Role = "cook"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleDeliveryPerson, RoleCustomer, RoleCook:
		return true
	}
	return false
}

// UserProfile holds the contact data of an account.
type UserProfile struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Phone     *string   `json:"phone" db:"phone"`
	Address   *string   `json:"address" db:"address"`
	City      *string   `json:"city" db:"city"`
	Notes     *string   `json:"notes" db:"notes"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UserRole grants role to a user.
type UserRole struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Role      Role      `json:"role" db:"role"`
	CreatedBy *string   `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User is an account as listed in the back office.
type User struct {
	ID      string       `json:"id"`
	Email   string       `json:"email"`
	Profile *UserProfile `json:"profile"`
	Roles   []UserRole   `json:"roles"`
}

// RoleNames returns the plain role names of u.
func (u *User) RoleNames() []string {
	out := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		out = append(out, string(r.Role))
	}
	return out
}

// ProfilePatch is a partial profile update.
type ProfilePatch struct {
	FullName *string `json:"full_name"`
	Phone    *string `json:"phone"`
	Address  *string `json:"address"`
	City     *string `json:"city"`
	Notes    *string `json:"notes"`
	IsActive *bool   `json:"is_active"`
}

// Apply copies the patch onto p.
func (pp ProfilePatch) Apply(p *UserProfile) error {
	if pp.FullName != nil {
		name := strings.TrimSpace(*pp.FullName)
		if name == "" {
			return NewValidationError("full_name", "is required")
		}
		p.FullName = name
	}
	if pp.Phone != nil {
		p.Phone = trimOptional(pp.Phone)
	}
	if pp.Address != nil {
		p.Address = trimOptional(pp.Address)
	}
	if pp.City != nil {
		p.City = trimOptional(pp.City)
	}
	if pp.Notes != nil {
		p.Notes = trimOptional(pp.Notes)
	}
	if pp.IsActive != nil {
		p.IsActive = *pp.IsActive
	}
	return nil
}

// NewUserRequest is the back-office account creation form.
type NewUserRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	FullName string   `json:"full_name"`
	Phone    string   `json:"phone,omitempty"`
	Address  string   `json:"address,omitempty"`
	City     string   `json:"city,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Roles    []string `json:"roles"`
}

// MinPasswordLength is enforced on account creation.
const MinPasswordLength = 6

// Validate checks the account creation form.
func (r *NewUserRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
	if r.Email == "" {
		return NewValidationError("email", "is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return NewValidationError("email", "is not a valid address")
	}
	if r.FullName == "" {
		return NewValidationError("full_name", "is required")
	}
	if len(r.Password) < MinPasswordLength {
		return NewValidationError("password", "must be at least 6 characters")
	}
	if _, err := ParseRoles(r.Roles); err != nil {
		return err
	}
	return nil
}

// ParseRoles validates role names; at least one role is required.
func ParseRoles(names []string) ([]Role, error) {
	if len(names) == 0 {
		return nil, NewValidationError("roles", "at least one role is required")
	}
	seen := make(map[Role]bool, len(names))
	out := make([]Role, 0, len(names))
	for _, n := range names {
		role := Role(strings.TrimSpace(n))
		if !role.Valid() {
			return nil, NewValidationError("roles", "unknown role "+n)
		}
		if seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out, nil
}
