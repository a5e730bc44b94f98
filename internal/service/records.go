package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/storage"
)

// Лимиты выборки записей медкарты.
const (
	recordsDefaultLimit = 50
	recordsMaxLimit     = 200
)

// CreateRecord создаёт запись медкарты для пациента.
func (s *Service) CreateRecord(ctx context.Context, patientID uuid.UUID, title, category, notes string, attachments []string) (*models.MedicalRecord, error) {
	const op = "service.records.CreateRecord"

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyTitle)
	}

	now := time.Now().UTC()
	rec := &models.MedicalRecord{
		ID:          uuid.New(),
		PatientID:   patientID,
		Title:       title,
		Category:    strings.TrimSpace(category),
		Notes:       notes,
		Attachments: attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.storage.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// RecordByID возвращает запись медкарты с проверкой владельца.
// Чужая запись неотличима от отсутствующей.
func (s *Service) RecordByID(ctx context.Context, patientID, recordID uuid.UUID) (*models.MedicalRecord, error) {
	const op = "service.records.RecordByID"

	rec, err := s.storage.RecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRecordNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if rec.PatientID != patientID {
		return nil, fmt.Errorf("%s: %w", op, ErrRecordNotFound)
	}

	return rec, nil
}

// ListRecords возвращает записи медкарты пациента (новые сверху).
func (s *Service) ListRecords(ctx context.Context, patientID uuid.UUID, limit int64) ([]models.MedicalRecord, error) {
	const op = "service.records.ListRecords"

	if limit <= 0 {
		limit = recordsDefaultLimit
	}
	if limit > recordsMaxLimit {
		limit = recordsMaxLimit
	}

	recs, err := s.storage.RecordsByPatient(ctx, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

// UpdateRecord обновляет изменяемые поля записи с проверкой владельца.
func (s *Service) UpdateRecord(ctx context.Context, patientID, recordID uuid.UUID, title, category, notes string, attachments []string) (*models.MedicalRecord, error) {
	const op = "service.records.UpdateRecord"

	rec, err := s.RecordByID(ctx, patientID, recordID)
	if err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyTitle)
	}

	rec.Title = title
	rec.Category = strings.TrimSpace(category)
	rec.Notes = notes
	rec.Attachments = attachments
	rec.UpdatedAt = time.Now().UTC()

	if err := s.storage.UpdateRecord(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrRecordNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

// DeleteRecord удаляет запись медкарты с проверкой владельца.
func (s *Service) DeleteRecord(ctx context.Context, patientID, recordID uuid.UUID) error {
	const op = "service.records.DeleteRecord"

	if _, err := s.RecordByID(ctx, patientID, recordID); err != nil {
		return err
	}

	if err := s.storage.DeleteRecord(ctx, recordID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrRecordNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
