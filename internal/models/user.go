package models

import "time"

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleAdmin  Role = "admin"
)

type User struct {
	ID           string    `json:"user_id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login,omitempty"`
}

// IsAdmin reports whether the user can reach the admin analytics routes.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
