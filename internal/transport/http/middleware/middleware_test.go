package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apierrors "github.com/careportal/auth-service/internal/errors"
	"github.com/careportal/auth-service/internal/service"
	"github.com/careportal/auth-service/internal/tokens"
)

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string

	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), mk("outer"), mk("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	t.Parallel()

	var fromCtx string
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx, _ = r.Context().Value(CtxRequestID).(string)
	}), RequestID())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	id := rec.Header().Get("X-Request-Id")
	require.Len(t, id, 32)
	require.Equal(t, id, fromCtx)
}

func TestRequestID_KeepsIncoming(t *testing.T) {
	t.Parallel()

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), RequestID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "client-supplied-id")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "client-supplied-id", rec.Header().Get("X-Request-Id"))
}

func TestRecover_PanicBecomes500(t *testing.T) {
	t.Parallel()

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recover())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "internal", resp.Error.Code)
	// Детали паники не утекают на клиент.
	require.NotContains(t, rec.Body.String(), "boom")
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	t.Run("sets deadline", func(t *testing.T) {
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := r.Context().Deadline()
			require.True(t, ok)
		}), Timeout(time.Second))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	t.Run("noop when zero", func(t *testing.T) {
		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := r.Context().Deadline()
			require.False(t, ok)
		}), Timeout(0))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	t.Run("keeps existing deadline", func(t *testing.T) {
		want := time.Now().Add(time.Minute)

		h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := r.Context().Deadline()
			require.True(t, ok)
			require.Equal(t, want, got)
		}), Timeout(time.Second))

		ctx, cancel := context.WithDeadline(context.Background(), want)
		defer cancel()

		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		h.ServeHTTP(httptest.NewRecorder(), req)
	})
}

func TestLogging_PassesThrough(t *testing.T) {
	t.Parallel()

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	}), Logging(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

// validatorFunc — стаб TokenValidator.
type validatorFunc func(ctx context.Context, token string) (*tokens.AccessClaims, error)

func (f validatorFunc) ValidateToken(ctx context.Context, token string) (*tokens.AccessClaims, error) {
	return f(ctx, token)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	claims := &tokens.AccessClaims{
		UserID:    uuid.New(),
		Role:      "patient",
		SessionID: uuid.New(),
		ExpiresAt: time.Now().Add(time.Minute),
	}

	okValidator := validatorFunc(func(_ context.Context, token string) (*tokens.AccessClaims, error) {
		if token == "good-token" {
			return claims, nil
		}
		return nil, service.ErrInvalidToken
	})

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := ClaimsFrom(r.Context())
		require.True(t, ok)
		require.Equal(t, claims.UserID, got.UserID)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("bearer header", func(t *testing.T) {
		h := Chain(echo, Authenticate(okValidator))

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer good-token")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("cookie fallback", func(t *testing.T) {
		h := Chain(echo, Authenticate(okValidator))

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.AddCookie(&http.Cookie{Name: CookieAccessToken, Value: "good-token"})

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		h := Chain(echo, Authenticate(okValidator))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		h := Chain(echo, Authenticate(okValidator))

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer bad-token")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := validatorFunc(func(_ context.Context, _ string) (*tokens.AccessClaims, error) {
			return nil, service.ErrTokenExpired
		})
		h := Chain(echo, Authenticate(expired))

		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer whatever")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
