package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/storage"
)

// recordDoc — представление записи медкарты в коллекции medical_records.
type recordDoc struct {
	ID          string    `bson:"_id"`
	PatientID   string    `bson:"patient_id"`
	Title       string    `bson:"title"`
	Category    string    `bson:"category,omitempty"`
	Notes       string    `bson:"notes,omitempty"`
	Attachments []string  `bson:"attachments,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toRecordDoc(rec *models.MedicalRecord) recordDoc {
	return recordDoc{
		ID:          rec.ID.String(),
		PatientID:   rec.PatientID.String(),
		Title:       rec.Title,
		Category:    rec.Category,
		Notes:       rec.Notes,
		Attachments: rec.Attachments,
		CreatedAt:   rec.CreatedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:   rec.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
}

func (d recordDoc) toModel() (*models.MedicalRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	pid, err := uuid.Parse(d.PatientID)
	if err != nil {
		return nil, err
	}

	return &models.MedicalRecord{
		ID:          id,
		PatientID:   pid,
		Title:       d.Title,
		Category:    d.Category,
		Notes:       d.Notes,
		Attachments: d.Attachments,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}, nil
}

// SaveRecord создаёт запись медкарты.
func (s *Storage) SaveRecord(ctx context.Context, rec *models.MedicalRecord) error {
	const op = "storage.mongo.SaveRecord"

	if _, err := s.records.InsertOne(ctx, toRecordDoc(rec)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RecordByID находит запись по ID.
func (s *Storage) RecordByID(ctx context.Context, id uuid.UUID) (*models.MedicalRecord, error) {
	const op = "storage.mongo.RecordByID"

	var doc recordDoc
	if err := s.records.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec, err := doc.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	return rec, nil
}

// RecordsByPatient возвращает записи пациента, новые сверху.
func (s *Storage) RecordsByPatient(ctx context.Context, patientID uuid.UUID, limit int64) ([]models.MedicalRecord, error) {
	const op = "storage.mongo.RecordsByPatient"

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := s.records.Find(ctx, bson.D{{Key: "patient_id", Value: patientID.String()}}, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cur.Close(ctx)

	var out []models.MedicalRecord
	for cur.Next(ctx) {
		var doc recordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}

		rec, err := doc.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: decode: %w", op, err)
		}

		out = append(out, *rec)
	}

	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("%s: cursor: %w", op, err)
	}

	return out, nil
}

// UpdateRecord обновляет изменяемые поля записи.
func (s *Storage) UpdateRecord(ctx context.Context, rec *models.MedicalRecord) error {
	const op = "storage.mongo.UpdateRecord"

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "title", Value: rec.Title},
		{Key: "category", Value: rec.Category},
		{Key: "notes", Value: rec.Notes},
		{Key: "attachments", Value: rec.Attachments},
		{Key: "updated_at", Value: rec.UpdatedAt.UTC().Truncate(time.Millisecond)},
	}}}

	res, err := s.records.UpdateOne(ctx, bson.D{{Key: "_id", Value: rec.ID.String()}}, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

// DeleteRecord удаляет запись.
func (s *Storage) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	const op = "storage.mongo.DeleteRecord"

	res, err := s.records.DeleteOne(ctx, bson.D{{Key: "_id", Value: id.String()}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}
