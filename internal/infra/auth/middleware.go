package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-governance/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator проверка токена вызывающей стороны (HTTP и gRPC)
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

type claimsKey struct{}

// WithClaims кладет проверенные клеймы в контекст
func WithClaims(ctx context.Context, c *domain.CustomClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*domain.CustomClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*domain.CustomClaims)
	return c, ok && c != nil
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ApplyClaims личность из токена имеет приоритет над телом запроса
func ApplyClaims(ctx context.Context, rc *domain.RequestContext) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return
	}
	if c.UserID != "" {
		rc.UserID = c.UserID
	}
	if c.LicenseKey != "" {
		rc.LicenseKey = c.LicenseKey
	}
}
