package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/xela07ax/spaceai-governance/internal/domain"
)

// Issuer подписывает токены вызывающей стороны (CLI консоли)
type Issuer struct {
	key *rsa.PrivateKey
	ttl time.Duration
}

func NewIssuer(key *rsa.PrivateKey, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{key: key, ttl: ttl}
}

// Issue RS256 токен с личностью пользователя, лицензией и скоупами
func (i *Issuer) Issue(userID, licenseKey string, scopes []string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := time.Now()
	claims := &domain.CustomClaims{
		UserID:     userID,
		LicenseKey: licenseKey,
		Scopes:     make(map[string]bool, len(scopes)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	for _, s := range scopes {
		claims.Scopes[s] = true
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.key)
}
