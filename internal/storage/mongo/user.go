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

// userDoc — представление пользователя в коллекции users.
// UUID хранится строкой: читаемо в шелле и стабильно для индексов.
type userDoc struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	Role         string    `bson:"role"`
	FullName     string    `bson:"full_name,omitempty"`
	BirthDate    string    `bson:"birth_date,omitempty"`
	Phone        string    `bson:"phone,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func toUserDoc(u *models.User) userDoc {
	return userDoc{
		ID:           u.ID.String(),
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		FullName:     u.FullName,
		BirthDate:    u.BirthDate,
		Phone:        u.Phone,
		CreatedAt:    u.CreatedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:    u.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
}

func (d userDoc) toModel() (*models.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}

	return &models.User{
		ID:           id,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		FullName:     d.FullName,
		BirthDate:    d.BirthDate,
		Phone:        d.Phone,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

// SaveUser создаёт нового пользователя.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.mongo.SaveUser"

	if _, err := s.users.InsertOne(ctx, toUserDoc(user)); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UserByEmail находит пользователя по email.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.mongo.UserByEmail"

	return s.findUser(ctx, op, bson.D{{Key: "email", Value: email}})
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.mongo.UserByID"

	return s.findUser(ctx, op, bson.D{{Key: "_id", Value: id.String()}})
}

// UpdateProfile обновляет профильные поля пользователя.
func (s *Storage) UpdateProfile(ctx context.Context, user *models.User) error {
	const op = "storage.mongo.UpdateProfile"

	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "full_name", Value: user.FullName},
		{Key: "birth_date", Value: user.BirthDate},
		{Key: "phone", Value: user.Phone},
		{Key: "updated_at", Value: user.UpdatedAt.UTC().Truncate(time.Millisecond)},
	}}}

	res, err := s.users.UpdateOne(ctx, bson.D{{Key: "_id", Value: user.ID.String()}}, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return nil
}

func (s *Storage) findUser(ctx context.Context, op string, filter bson.D) (*models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := doc.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	return user, nil
}
