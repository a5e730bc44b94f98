// tokens инкапсулирует подпись и проверку access/refresh-токенов.
// Слой ротации (service) работает только с интерфейсом Signer, поэтому
// алгоритм/библиотека подписи заменяются без изменения бизнес-логики.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken — токен некорректен по формату/подписи/claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims — полезная нагрузка access-токена.
type AccessClaims struct {
	UserID    uuid.UUID
	Role      string
	SessionID uuid.UUID
	ExpiresAt time.Time
}

// RefreshClaims — полезная нагрузка refresh-токена.
//
//   - TokenID (jti) — ключ серверной refresh-сессии;
//   - Seq — порядковый номер ротации;
//   - FingerprintHash — sha256-хэш отпечатка клиента (base64url);
//     пустая строка — legacy-токен без привязки.
type RefreshClaims struct {
	UserID          uuid.UUID
	SessionID       uuid.UUID
	TokenID         uuid.UUID
	Seq             int64
	FingerprintHash string
	ExpiresAt       time.Time
}

// Signer — контракт подписи/проверки токенов.
type Signer interface {
	SignAccess(c AccessClaims, now time.Time) (string, error)
	VerifyAccess(token string) (*AccessClaims, error)
	SignRefresh(c RefreshClaims, now time.Time) (string, error)
	VerifyRefresh(token string) (*RefreshClaims, error)
}

// Config — параметры JWT-подписанта.
type Config struct {
	Secret   string
	Issuer   string
	Audience []string
}

type jwtAccessClaims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type jwtRefreshClaims struct {
	UserID          string `json:"uid"`
	SessionID       string `json:"sid"`
	Seq             int64  `json:"seq"`
	FingerprintHash string `json:"fph,omitempty"`
	jwt.RegisteredClaims
}

// JWTSigner подписывает токены HS256 общим секретом.
type JWTSigner struct {
	cfg Config
}

// NewJWT создаёт JWT-подписанта.
func NewJWT(cfg Config) *JWTSigner {
	return &JWTSigner{cfg: cfg}
}

var _ Signer = (*JWTSigner)(nil)

// SignAccess подписывает access-токен.
func (s *JWTSigner) SignAccess(c AccessClaims, now time.Time) (string, error) {
	const op = "tokens.SignAccess"

	claims := jwtAccessClaims{
		UserID:    c.UserID.String(),
		Role:      c.Role,
		SessionID: c.SessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   c.UserID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// VerifyAccess проверяет подпись/срок/issuer/audience access-токена.
func (s *JWTSigner) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	const op = "tokens.VerifyAccess"

	token, err := jwt.ParseWithClaims(tokenStr, &jwtAccessClaims{}, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*jwtAccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &AccessClaims{
		UserID:    uid,
		Role:      claims.Role,
		SessionID: sid,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignRefresh подписывает refresh-токен.
func (s *JWTSigner) SignRefresh(c RefreshClaims, now time.Time) (string, error) {
	const op = "tokens.SignRefresh"

	claims := jwtRefreshClaims{
		UserID:          c.UserID.String(),
		SessionID:       c.SessionID.String(),
		Seq:             c.Seq,
		FingerprintHash: c.FingerprintHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.TokenID.String(),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   c.UserID.String(),
			Audience:  jwt.ClaimStrings(s.cfg.Audience),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// VerifyRefresh проверяет подпись/срок refresh-токена и возвращает его claims.
func (s *JWTSigner) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	const op = "tokens.VerifyRefresh"

	token, err := jwt.ParseWithClaims(tokenStr, &jwtRefreshClaims{}, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience...),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*jwtRefreshClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	return &RefreshClaims{
		UserID:          uid,
		SessionID:       sid,
		TokenID:         jti,
		Seq:             claims.Seq,
		FingerprintHash: claims.FingerprintHash,
		ExpiresAt:       claims.ExpiresAt.Time,
	}, nil
}

func (s *JWTSigner) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, ErrInvalidToken
	}

	return []byte(s.cfg.Secret), nil
}
