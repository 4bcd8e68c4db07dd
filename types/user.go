package types

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of account roles. Every authorization decision
// in the system compares against these values and nothing else.
type Role string

// Supported roles.
const (
	RoleStudent    Role = "student"
	RoleCounsellor Role = "counsellor"
	RoleAdmin      Role = "admin"
)

// AllRoles lists every valid role.
var AllRoles = []Role{RoleStudent, RoleCounsellor, RoleAdmin}

// ParseRole returns the Role matching s, ignoring case and surrounding space.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return role, nil
}

// Valid reports whether r is one of AllRoles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleCounsellor, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsStaff reports whether the role reviews achievements.
func (r Role) IsStaff() bool {
	return r == RoleCounsellor || r == RoleAdmin
}

func (r Role) String() string {
	return string(r)
}

// User represents an account in the system.
// It contains identity, role, role-specific profile fields and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user. Stored lowercase.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address. Stored lowercase.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Role is fixed at creation and never changes afterwards.
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	PhoneNumber string `json:"phoneNumber,omitempty" db:"phone_number"`
	Department  string `json:"department,omitempty" db:"department"`
	Branch      string `json:"branch,omitempty" db:"branch"`
	Course      string `json:"course,omitempty" db:"course"`

	// Student-only fields.
	StudentID string `json:"studentId,omitempty" db:"student_id"`
	Year      string `json:"year,omitempty" db:"year"`
	Section   int    `json:"section,omitempty" db:"section"`

	// Counsellor-only fields.
	CounsellorID    string `json:"counsellorId,omitempty" db:"counsellor_id"`
	CounsellorRole  string `json:"counsellorRole,omitempty" db:"counsellor_role"`
	AssignedSection int    `json:"assignedSection,omitempty" db:"assigned_section"`

	// IsActive is false for accounts disabled by an admin.
	IsActive bool `json:"isActive" db:"is_active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// NewUser is the registration command. Role decides which of the
// role-specific fields are required.
type NewUser struct {
	Name     string `json:"name" validate:"required,max=100"`
	Username string `json:"username" validate:"required,min=3,max=50,alphanum_"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     Role   `json:"role" validate:"required"`

	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
	Department  string `json:"department" validate:"omitempty,max=100"`
	Branch      string `json:"branch" validate:"omitempty,max=100"`
	Course      string `json:"course" validate:"omitempty,max=100"`

	StudentID string `json:"studentId" validate:"omitempty,max=50"`
	Year      string `json:"year" validate:"omitempty,max=20"`
	Section   int    `json:"section"`

	CounsellorID    string `json:"counsellorId" validate:"omitempty,max=50"`
	CounsellorRole  string `json:"counsellorRole" validate:"omitempty,max=50"`
	AssignedSection int    `json:"assignedSection"`
}

// UpdateUser replaces the mutable profile fields of a user. Identity
// fields (username, email, role, ids) are not part of it.
type UpdateUser struct {
	Name        string `json:"name" validate:"required,max=100"`
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,max=20"`
	Department  string `json:"department" validate:"omitempty,max=100"`
	Branch      string `json:"branch" validate:"omitempty,max=100"`
	Course      string `json:"course" validate:"omitempty,max=100"`

	Year            string `json:"year" validate:"omitempty,max=20"`
	Section         int    `json:"section"`
	CounsellorRole  string `json:"counsellorRole" validate:"omitempty,max=50"`
	AssignedSection int    `json:"assignedSection"`

	// IsActive is only honoured when an admin applies the update.
	IsActive *bool `json:"isActive,omitempty"`
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role Role
}
