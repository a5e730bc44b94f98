package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/careportal/auth-service/internal/errors"
	logctx "github.com/careportal/auth-service/internal/pkg/log"
	"github.com/careportal/auth-service/internal/pkg/redact"
	"github.com/careportal/auth-service/internal/ratelimit"
	"github.com/careportal/auth-service/internal/service"
)

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

type validateRequest struct {
	AccessToken string `json:"access_token"`
}

type validateResponse struct {
	Valid     bool   `json:"valid"`
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Register регистрирует пациента и выдаёт первую пару токенов.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrInvalidEmail)
		return
	}

	pair, uid, err := h.Service.RegisterPatient(r.Context(), in.Email, in.Password, in.Fingerprint)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	logctx.From(r.Context()).Info("patient_registered",
		slog.String("email", redact.Email(in.Email)),
	)

	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, pairResponse(pair, uid.String()))
}

// Login аутентифицирует пользователя и открывает новую сессию.
// Перед проверкой пароля срабатывает гейт частоты по email+IP.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrInvalidCredentials)
		return
	}

	if ok := h.allow(w, r, "login", in.Email); !ok {
		return
	}

	pair, uid, err := h.Service.LoginUser(r.Context(), in.Email, in.Password, in.Fingerprint)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	// Успешный вход сбрасывает счётчик неудач.
	if h.Limiter != nil {
		if rerr := h.Limiter.Reset(r.Context(), "login", in.Email, clientIP(r)); rerr != nil {
			logctx.From(r.Context()).Warn("rate_limit_reset_failed",
				slog.String("err", rerr.Error()),
			)
		}
	}

	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, pairResponse(pair, uid.String()))
}

// Refresh ротирует пару токенов.
// Refresh-токен берётся из cookie или из тела; fingerprint — только из тела.
// Гейт частоты срабатывает до логики ротации (по IP).
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeStrict(r, &in); err != nil {
			apierrors.WriteError(w, r, service.ErrInvalidToken)
			return
		}
	}

	refreshToken := in.RefreshToken
	if refreshToken == "" {
		if c, err := r.Cookie(cookieRefreshToken); err == nil {
			refreshToken = c.Value
		}
	}

	if refreshToken == "" {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	if ok := h.allow(w, r, "refresh", clientIP(r)); !ok {
		return
	}

	pair, err := h.Service.RotateTokens(r.Context(), refreshToken, in.Fingerprint)
	if err != nil {
		// При обнаружении replay гасим cookies: линия сессии уже отозвана.
		if errors.Is(err, service.ErrTokenReused) {
			h.clearAuthCookies(w)
		}

		apierrors.WriteError(w, r, err)
		return
	}

	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, pairResponse(pair, ""))
}

// Logout отзывает линию сессии и гасит cookies.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in logoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeStrict(r, &in); err != nil {
			apierrors.WriteError(w, r, service.ErrInvalidToken)
			return
		}
	}

	refreshToken := in.RefreshToken
	if refreshToken == "" {
		if c, err := r.Cookie(cookieRefreshToken); err == nil {
			refreshToken = c.Value
		}
	}

	if refreshToken == "" {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	if err := h.Service.RevokeTokens(r.Context(), refreshToken); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// Validate проверяет access-токен.
// Невалидный/просроченный токен НЕ считается ошибкой запроса:
// контракт эндпоинта — {valid:false} с 200.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	var in validateRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	claims, err := h.Service.ValidateToken(r.Context(), in.AccessToken)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false})
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:     true,
		UserID:    claims.UserID.String(),
		Role:      claims.Role,
		SessionID: claims.SessionID.String(),
	})
}

// allow прогоняет запрос через гейт частоты. Возвращает false, если ответ
// уже записан (429 с Retry-After или 500 при недоступном лимитере).
func (h *Handlers) allow(w http.ResponseWriter, r *http.Request, scope, identity string) bool {
	if h.Limiter == nil {
		return true
	}

	retry, err := h.Limiter.Allow(r.Context(), scope, identity, clientIP(r))
	if err != nil {
		if errors.Is(err, ratelimit.ErrRateLimited) {
			apierrors.WriteRateLimited(w, r, retry)
			return false
		}

		logctx.From(r.Context()).Error("rate_limit_check_failed",
			slog.String("err", err.Error()),
		)
		apierrors.WriteError(w, r, err)
		return false
	}

	return true
}
