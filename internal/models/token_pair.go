package models

import "time"

// TokenTypeBearer — фиксированный дескриптор типа токена в ответах.
const TokenTypeBearer = "Bearer"

// TokenPair — пара токенов, выдаваемая при логине/регистрации/ротации.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API портала;
//   - RefreshToken — долгоживущий JWT, предъявляемый только для выпуска
//     новой пары; при фингерпринт-привязке действителен ровно на одну ротацию;
//   - AccessExpiresAt — момент истечения access-токена (UTC);
//   - ExpiresIn — то же в секундах от момента выдачи, для клиентского планировщика.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresIn       int64
	TokenType       string
}
