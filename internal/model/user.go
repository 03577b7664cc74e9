package model

import "time"

// Role is the account type a user registered with.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleWorker Role = "WORKER"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleWorker, RoleAdmin:
		return true
	}
	return false
}

// User represents a user in the system
type User struct {
	ID           int       `json:"-"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	PasswordHash string    `json:"-"` // Do not expose password hash in JSON responses
	Role         Role      `json:"role"`
	Token        *string   `json:"token,omitempty"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// Profile returns the public view of the user.
func (u *User) Profile() UserResponse {
	return UserResponse{
		Email: u.Email,
		Name:  u.Name,
		Phone: u.Phone,
		Role:  u.Role,
		Token: u.Token,
	}
}

// UserResponse is the subset of a user that is safe to return to a caller.
type UserResponse struct {
	Email string  `json:"email"`
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Role  Role    `json:"role"`
	Token *string `json:"token,omitempty"`
}

// UserPatch holds the fields an update may overwrite. Nil means "leave as is".
// PasswordHash must already be hashed.
type UserPatch struct {
	Name         *string
	Phone        *string
	PasswordHash *string
	Role         *Role
	Token        *string
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return p.Name == nil && p.Phone == nil && p.PasswordHash == nil && p.Role == nil && p.Token == nil
}

// RegisterRequest is the body of a registration
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=100"`
	Email    string `json:"email" validate:"required,min=1,max=100,email"`
	Password string `json:"password" validate:"required,min=1,max=100"`
	Phone    string `json:"phone" validate:"required,min=6,max=20"`
	Role     Role   `json:"role" validate:"required,oneof=CLIENT WORKER ADMIN"`
}

// LoginRequest is the body of a login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,min=1,max=100,email"`
	Password string `json:"password" validate:"required,min=1,max=100"`
}

// EmailRequest identifies a user by email only.
type EmailRequest struct {
	Email string `json:"email" validate:"required"`
}

// UpdateUserRequest carries the optional profile changes. Only supplied keys are validated and applied.
type UpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitnil,min=1,max=100"`
	Phone    *string `json:"phone" validate:"omitnil,min=6,max=20"`
	Password *string `json:"password" validate:"omitnil,min=1,max=100"`
	Role     *Role   `json:"role" validate:"omitnil,oneof=CLIENT WORKER ADMIN"`
}

// WebResponse is the envelope every endpoint answers with.
type WebResponse struct {
	Data   any `json:"data,omitempty"`
	Errors any `json:"errors,omitempty"`
}
