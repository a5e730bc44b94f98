package middleware

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/careportal/auth-service/internal/errors"
	"github.com/careportal/auth-service/internal/service"
	"github.com/careportal/auth-service/internal/tokens"
)

// CookieAccessToken — имя cookie с access-токеном.
const CookieAccessToken = "access_token"

// TokenValidator — то, что умеет проверять access-токен (обычно *service.Service).
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*tokens.AccessClaims, error)
}

// Authenticate извлекает access-токен (Authorization: Bearer или cookie),
// проверяет его и кладёт claims в контекст по ключу CtxAccessClaims.
// Запрос без валидного токена отклоняется с 401.
func Authenticate(v TokenValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				if c, err := r.Cookie(CookieAccessToken); err == nil {
					token = c.Value
				}
			}

			if token == "" {
				apierrors.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			claims, err := v.ValidateToken(r.Context(), token)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), CtxAccessClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFrom достаёт проверенные claims из контекста.
func ClaimsFrom(ctx context.Context) (*tokens.AccessClaims, bool) {
	claims, ok := ctx.Value(CtxAccessClaims).(*tokens.AccessClaims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) || len(auth) <= len(prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}
