// mongo реализует storage.Storage поверх MongoDB.
// Портал хранит пользователей, refresh-сессии и медкарту в документной БД;
// атомарность потребления refresh-сессии обеспечивается одиночным
// UpdateOne с фильтром consumed=false (см. session.go).
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/careportal/auth-service/internal/storage"
)

const (
	usersCollection    = "users"
	sessionsCollection = "sessions"
	recordsCollection  = "medical_records"
	defaultDBName      = "careportal"
)

// Storage — тонкий адаптер для подключения и коллекций MongoDB.
type Storage struct {
	client   *mongodriver.Client
	db       *mongodriver.Database
	users    *mongodriver.Collection
	sessions *mongodriver.Collection
	records  *mongodriver.Collection
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)

// New подключается к MongoDB, проверяет соединение и обеспечивает индексацию.
func New(ctx context.Context, dbURL string) (*Storage, error) {
	const op = "storage.mongo.New"

	if dbURL == "" {
		return nil, fmt.Errorf("%s: empty database url", op)
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(dbURL))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := cli.Database(databaseFromURI(dbURL))

	s := &Storage{
		client:   cli,
		db:       db,
		users:    db.Collection(usersCollection),
		sessions: db.Collection(sessionsCollection),
		records:  db.Collection(recordsCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}

	return s, nil
}

// Close закрывает соединение с MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureIndexes создаёт индексы, необходимые сервису:
//   - users: уникальный email;
//   - sessions: уникальный jti; session_id для отзыва линии;
//     TTL по expires_at (expireAfterSeconds=0 -> используется метка из документа);
//   - medical_records: patient_id + created_at(desc) для листинга медкарты.
func (s *Storage) ensureIndexes(ctx context.Context) error {
	const op = "storage.mongo.ensureIndexes"

	_, err := s.users.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_email").SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("%s: users: %w", op, err)
	}

	_, err = s.sessions.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "token_id", Value: 1}},
			Options: options.Index().SetName("uniq_token_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("session_lineage"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("ttl_expires_at").SetExpireAfterSeconds(0),
		},
	})
	if err != nil {
		return fmt.Errorf("%s: sessions: %w", op, err)
	}

	_, err = s.records.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "patient_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("patient_created_desc"),
		},
	})
	if err != nil {
		return fmt.Errorf("%s: records: %w", op, err)
	}

	return nil
}

// databaseFromURI извлекает имя базы данных из URI-пути mongodb.
// Если оно отсутствует или не поддаётся расшифровке, возвращает значение по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}
	return defaultDBName
}

// isDuplicateKey распознаёт нарушение уникального индекса.
func isDuplicateKey(err error) bool {
	return mongodriver.IsDuplicateKeyError(err)
}
