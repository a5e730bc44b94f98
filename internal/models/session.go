package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshSession — серверная запись о выданном refresh-токене.
//
// Описание:
//   - TokenID — jti refresh-токена и ключ записи; по нему выполняется
//     атомарное потребление (CAS consumed=false -> true) при ротации;
//   - SessionID — идентификатор сессии; общий для всей цепочки ротаций,
//     по нему отзывается вся линия при logout или обнаружении replay;
//   - FingerprintHash — sha256-хэш отпечатка клиента (base64url);
//     пустая строка означает legacy-токен без привязки к устройству;
//   - Seq — порядковый номер ротации в цепочке (0 — выдан при логине);
//   - Consumed — токен уже был использован для ротации; терминальное состояние.
type RefreshSession struct {
	TokenID         uuid.UUID
	UserID          uuid.UUID
	SessionID       uuid.UUID
	FingerprintHash string
	Seq             int64
	Consumed        bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Active сообщает, допустима ли ротация этим токеном в момент now.
func (s *RefreshSession) Active(now time.Time) bool {
	return !s.Consumed && now.Before(s.ExpiresAt)
}
