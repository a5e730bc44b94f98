package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/storage"
)

// sessionDoc — представление refresh-сессии в коллекции sessions.
type sessionDoc struct {
	TokenID         string    `bson:"token_id"`
	UserID          string    `bson:"user_id"`
	SessionID       string    `bson:"session_id"`
	FingerprintHash string    `bson:"fingerprint_hash,omitempty"`
	Seq             int64     `bson:"seq"`
	Consumed        bool      `bson:"consumed"`
	CreatedAt       time.Time `bson:"created_at"`
	ExpiresAt       time.Time `bson:"expires_at"`
}

func toSessionDoc(sess *models.RefreshSession) sessionDoc {
	return sessionDoc{
		TokenID:         sess.TokenID.String(),
		UserID:          sess.UserID.String(),
		SessionID:       sess.SessionID.String(),
		FingerprintHash: sess.FingerprintHash,
		Seq:             sess.Seq,
		Consumed:        sess.Consumed,
		CreatedAt:       sess.CreatedAt.UTC().Truncate(time.Millisecond),
		ExpiresAt:       sess.ExpiresAt.UTC().Truncate(time.Millisecond),
	}
}

func (d sessionDoc) toModel() (*models.RefreshSession, error) {
	tid, err := uuid.Parse(d.TokenID)
	if err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, err
	}

	sid, err := uuid.Parse(d.SessionID)
	if err != nil {
		return nil, err
	}

	return &models.RefreshSession{
		TokenID:         tid,
		UserID:          uid,
		SessionID:       sid,
		FingerprintHash: d.FingerprintHash,
		Seq:             d.Seq,
		Consumed:        d.Consumed,
		CreatedAt:       d.CreatedAt.UTC(),
		ExpiresAt:       d.ExpiresAt.UTC(),
	}, nil
}

// SaveSession сохраняет новую refresh-сессию.
func (s *Storage) SaveSession(ctx context.Context, sess *models.RefreshSession) error {
	const op = "storage.mongo.SaveSession"

	if _, err := s.sessions.InsertOne(ctx, toSessionDoc(sess)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SessionByTokenID находит refresh-сессию по jti.
func (s *Storage) SessionByTokenID(ctx context.Context, tokenID uuid.UUID) (*models.RefreshSession, error) {
	const op = "storage.mongo.SessionByTokenID"

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.D{{Key: "token_id", Value: tokenID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := doc.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	return sess, nil
}

// ConsumeSession атомарно помечает сессию потреблённой.
// Фильтр consumed=false и установка consumed=true выполняются одним UpdateOne,
// поэтому из N конкурентных ротаций одним токеном выигрывает ровно одна.
//
// Возвращает:
//
//	(true, nil)  — сессия была активна и потреблена сейчас;
//	(false, nil) — сессия существует, но уже была потреблена;
//	(false, ErrNotFound) — сессия не найдена.
func (s *Storage) ConsumeSession(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	const op = "storage.mongo.ConsumeSession"

	filter := bson.D{
		{Key: "token_id", Value: tokenID.String()},
		{Key: "consumed", Value: false},
	}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "consumed", Value: true}}}}

	res, err := s.sessions.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if res.ModifiedCount == 1 {
		return true, nil
	}

	// Не потребили: различаем "уже потреблена" и "не существует".
	err = s.sessions.FindOne(ctx, bson.D{{Key: "token_id", Value: tokenID.String()}}).Err()
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	return false, nil
}

// RevokeSessionLineage потребляет все сессии линии session_id.
func (s *Storage) RevokeSessionLineage(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	const op = "storage.mongo.RevokeSessionLineage"

	filter := bson.D{{Key: "session_id", Value: sessionID.String()}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "consumed", Value: true}}}}

	res, err := s.sessions.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return res.MatchedCount, nil
}

// DeleteExpiredSessions удаляет все просроченные сессии.
// TTL-индекс Mongo делает то же самое асинхронно; джанитор держит коллекцию
// компактной между проходами монитора TTL.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	const op = "storage.mongo.DeleteExpiredSessions"

	filter := bson.D{{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now.UTC()}}}}

	if _, err := s.sessions.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
