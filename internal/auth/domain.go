package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
	// RoleService marks tokens minted for backend callers of the internal API.
	RoleService Role = "service"
)

type AccessClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role,omitempty"`
}

// UserID is the subject of the token.
func (c *AccessClaims) UserID() string { return c.Subject }
