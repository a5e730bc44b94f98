// errors стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает доменную ошибку (сентинелы пакета service и
// смежных), а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки внутренних деталей.
//
// Для 429 дополнительно проставляется заголовок Retry-After (см. WriteRateLimited).
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/careportal/auth-service/internal/ratelimit"
	"github.com/careportal/auth-service/internal/service"
)

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг;
//   - неизвестная ошибка — 500/internal (без утечки деталей).
func ToHTTP(err error) (int, ErrorResponse) {
	if err == nil {
		return http.StatusInternalServerError, envelope("internal", "internal error")
	}

	switch {
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrEmptyPassword),
		errors.Is(err, service.ErrEmptyTitle):
		return http.StatusBadRequest, envelope("invalid_argument", "invalid argument")

	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, envelope("unauthenticated", "invalid credentials")

	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, envelope("token_expired", "token expired")

	case errors.Is(err, service.ErrTokenReused):
		return http.StatusUnauthorized, envelope("token_reused", "refresh token already used")

	case errors.Is(err, service.ErrFingerprintMismatch):
		return http.StatusUnauthorized, envelope("fingerprint_mismatch", "token does not match this device")

	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrLegacyRefreshDisabled):
		return http.StatusUnauthorized, envelope("unauthenticated", "invalid token")

	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, envelope("user_not_found", "user no longer exists")

	case errors.Is(err, service.ErrRecordNotFound):
		return http.StatusNotFound, envelope("not_found", "record not found")

	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, envelope("already_exists", "email already taken")

	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, envelope("rate_limited", "too many requests, slow down")

	default:
		return http.StatusInternalServerError, envelope("internal", "internal error")
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteRateLimited — вариант WriteError для 429 с подсказкой Retry-After.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	WriteError(w, r, ratelimit.ErrRateLimited)
}

func envelope(code, message string) ErrorResponse {
	return ErrorResponse{Error: APIError{Code: code, Message: message}}
}
