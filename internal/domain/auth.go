package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims клеймы токена вызывающей стороны
type CustomClaims struct {
	UserID     string          `json:"user_id"`
	LicenseKey string          `json:"license_key,omitempty"`
	Scopes     map[string]bool `json:"scopes"` // "admin": true или "stripe_payment": true
	jwt.RegisteredClaims
}
