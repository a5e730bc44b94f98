package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/careportal/auth-service/internal/models"
)

var (
	// ErrNotFound — запись не найдена (пользователь/сессия/медзапись).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists — нарушение уникальности (email/jti).
	ErrAlreadyExists = errors.New("already exists")
	// ErrConsumed — refresh-сессия уже потреблена предыдущей ротацией.
	ErrConsumed = errors.New("consumed")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт нового пользователя.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpdateProfile обновляет профильные поля пользователя.
	UpdateProfile(ctx context.Context, user *models.User) error
}

// SessionStorage выполняет операции над refresh-сессиями.
type SessionStorage interface {
	// SaveSession сохраняет новую refresh-сессию.
	SaveSession(ctx context.Context, sess *models.RefreshSession) error
	// SessionByTokenID находит refresh-сессию по jti.
	SessionByTokenID(ctx context.Context, tokenID uuid.UUID) (*models.RefreshSession, error)
	// ConsumeSession атомарно помечает сессию потреблённой (CAS consumed=false -> true).
	// Возвращает:
	//
	//	(true, nil)  — сессия была активна и потреблена сейчас;
	//	(false, nil) — сессия существует, но уже была потреблена;
	//	(false, ErrNotFound) — сессия не найдена.
	ConsumeSession(ctx context.Context, tokenID uuid.UUID) (bool, error)
	// RevokeSessionLineage потребляет все сессии с данным session_id
	// (logout или реакция на replay). Возвращает число отозванных записей.
	RevokeSessionLineage(ctx context.Context, sessionID uuid.UUID) (int64, error)
	// DeleteExpiredSessions удаляет все просроченные сессии.
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

// RecordStorage выполняет операции над записями медкарты.
type RecordStorage interface {
	// SaveRecord создаёт запись медкарты.
	SaveRecord(ctx context.Context, rec *models.MedicalRecord) error
	// RecordByID находит запись по ID.
	RecordByID(ctx context.Context, id uuid.UUID) (*models.MedicalRecord, error)
	// RecordsByPatient возвращает записи пациента (новые сверху).
	RecordsByPatient(ctx context.Context, patientID uuid.UUID, limit int64) ([]models.MedicalRecord, error)
	// UpdateRecord обновляет изменяемые поля записи.
	UpdateRecord(ctx context.Context, rec *models.MedicalRecord) error
	// DeleteRecord удаляет запись.
	DeleteRecord(ctx context.Context, id uuid.UUID) error
}

// Storage задаёт контракт работы с БД.
type Storage interface {
	UserStorage
	SessionStorage
	RecordStorage
	Close(ctx context.Context) error
}
