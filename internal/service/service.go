// service содержит бизнес-логику портала:
// регистрацию/аутентификацию пациентов, выпуск/ротацию/отзыв пар токенов
// и работу с медкартой через интерфейсы из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданные хранилище и коллабораторы потокобезопасны.
//   - Взаимное исключение при потреблении refresh-токена обеспечивается
//     атомарным CAS в хранилище (storage.ConsumeSession), а не блокировками
//     на уровне сервиса.
//   - Ошибки возвращаются и далее маппятся транспортом на HTTP-статусы
//     (см. комментарии к переменным ошибок ниже).
package service

import (
	"context"
	"errors"

	"github.com/careportal/auth-service/internal/cache"
	"github.com/careportal/auth-service/internal/config"
	"github.com/careportal/auth-service/internal/sessions"
	"github.com/careportal/auth-service/internal/storage"
	"github.com/careportal/auth-service/internal/tokens"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна или пользователь не найден.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи
	// или его серверная сессия отсутствует. Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк. Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenReused — refresh-токен уже был потреблён предыдущей ротацией.
	// Повторное предъявление трактуется как возможная кража: вся линия сессии
	// отзывается. Транспорт: HTTP 401.
	ErrTokenReused = errors.New("token reused")

	// ErrFingerprintMismatch — отпечаток клиента не совпадает с зашитым в токен.
	// Токен, украденный с другого устройства, отклоняется. Транспорт: HTTP 401.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")

	// ErrUserNotFound — пользователь, на которого выписан токен, больше
	// не существует. Транспорт: HTTP 404.
	ErrUserNotFound = errors.New("user not found")

	// ErrLegacyRefreshDisabled — предъявлен refresh-токен без привязки к
	// устройству, а legacy-путь выключен конфигурацией. Транспорт: HTTP 401.
	ErrLegacyRefreshDisabled = errors.New("legacy refresh disabled")

	// ErrEmailTaken — email уже занят другим пользователем. Транспорт: HTTP 409.
	ErrEmailTaken = errors.New("email already taken")

	// ErrInvalidEmail — email имеет некорректный формат. Транспорт: HTTP 400.
	ErrInvalidEmail = errors.New("invalid email format")

	// ErrWeakPassword — пароль не удовлетворяет политикам сложности.
	// Транспорт: HTTP 400.
	ErrWeakPassword = errors.New("password is too weak")

	// ErrEmptyPassword — пароль пустой. Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")

	// ErrRecordNotFound — запись медкарты не найдена или принадлежит
	// другому пациенту. Транспорт: HTTP 404.
	ErrRecordNotFound = errors.New("record not found")

	// ErrEmptyTitle — заголовок записи медкарты пустой. Транспорт: HTTP 400.
	ErrEmptyTitle = errors.New("record title is empty")
)

// RefreshStrategy — явная стратегия обработки refresh-запроса.
type RefreshStrategy string

const (
	// RotatingRefresh — основной путь: токен привязан к устройству,
	// потребляется ровно один раз, взамен выдаётся новая пара.
	RotatingRefresh RefreshStrategy = "rotating"
	// LegacyStaticRefresh — устаревший путь без фингерпринта: ротация
	// пропускается, refresh-токен живёт до естественного истечения.
	LegacyStaticRefresh RefreshStrategy = "legacy-static"
)

// Service описывает бизнес-логику сервиса.
type Service struct {
	storage  storage.Storage
	signer   tokens.Signer
	cfg      config.AuthConfig
	rcache   cache.RefreshCache       // может быть nil, если кэш не сконфигурирован
	activity sessions.ActivityTracker // может быть nil; тогда last-seen не трекается
}

// New создаёт новый экземпляр Service.
func New(storage storage.Storage, signer tokens.Signer, cfg config.AuthConfig) *Service {
	return &Service{
		storage: storage,
		signer:  signer,
		cfg:     cfg,
	}
}

// SetRefreshCache устанавливает кэш refresh-сессий (опционально).
func (s *Service) SetRefreshCache(c cache.RefreshCache) {
	s.rcache = c
}

// SetActivityTracker устанавливает трекер активности сессий (опционально).
func (s *Service) SetActivityTracker(t sessions.ActivityTracker) {
	s.activity = t
}

// touchActivity сообщает трекеру, что access-токен стал активным для сессии.
// Ошибка трекера не фатальна для ротации и только логируется вызывающим кодом.
func (s *Service) touchActivity(ctx context.Context, accessToken string) error {
	if s.activity == nil {
		return nil
	}

	return s.activity.Touch(ctx, accessToken, s.cfg.AccessTokenTTL)
}
