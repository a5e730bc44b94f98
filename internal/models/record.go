package models

import (
	"time"

	"github.com/google/uuid"
)

// MedicalRecord — запись медкарты пациента.
type MedicalRecord struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Title     string
	Category  string
	Notes     string
	// Attachments — метаданные вложений (имена файлов/ссылки), сами файлы
	// сервис не хранит.
	Attachments []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
