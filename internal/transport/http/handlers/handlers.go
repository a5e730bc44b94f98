// handlers реализует REST-эндпоинты портала.
// Здесь выполняется только разбор запросов, вызов сервисного слоя и
// маппинг результата в JSON/cookies; бизнес-логика живёт в пакете service.
package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/careportal/auth-service/internal/config"
	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/ratelimit"
	"github.com/careportal/auth-service/internal/service"
)

// Имена cookies, выставляемых при выдаче пары токенов.
const (
	cookieAccessToken  = "access_token"
	cookieRefreshToken = "refresh_token"
)

const envProd = "prod"

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	Service *service.Service
	Limiter *ratelimit.Limiter // может быть nil — тогда гейт отключён
	Env     string
	Auth    config.AuthConfig
}

func New(svc *service.Service, limiter *ratelimit.Limiter, env string, auth config.AuthConfig) *Handlers {
	return &Handlers{
		Service: svc,
		Limiter: limiter,
		Env:     env,
		Auth:    auth,
	}
}

// tokenPairResponse — JSON-ответ с парой токенов.
type tokenPairResponse struct {
	UserID       string `json:"user_id,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func pairResponse(pair *models.TokenPair, userID string) tokenPairResponse {
	return tokenPairResponse{
		UserID:       userID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    pair.TokenType,
	}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через apierrors.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}

// setAuthCookies выставляет пару cookies: короткоживущий access и
// долгоживущий refresh. Оба HttpOnly и SameSite=Strict; Secure — в prod.
func (h *Handlers) setAuthCookies(w http.ResponseWriter, pair *models.TokenPair) {
	secure := h.Env == envProd

	http.SetCookie(w, &http.Cookie{
		Name:     cookieAccessToken,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(h.Auth.AccessTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     cookieRefreshToken,
		Value:    pair.RefreshToken,
		Path:     "/auth",
		MaxAge:   int(h.Auth.RefreshTokenTTL / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearAuthCookies гасит обе cookies (logout).
func (h *Handlers) clearAuthCookies(w http.ResponseWriter) {
	secure := h.Env == envProd

	http.SetCookie(w, &http.Cookie{
		Name:     cookieAccessToken,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     cookieRefreshToken,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clientIP извлекает IP клиента из RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
