package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/careportal/auth-service/internal/config"
	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/storage"
	"github.com/careportal/auth-service/internal/tokens"
	"github.com/careportal/auth-service/mocks"
)

func testAuthCfg() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "unit-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Issuer:          "careportal-auth",
		Audience:        []string{"careportal"},
	}
}

func testSigner(cfg config.AuthConfig) *tokens.JWTSigner {
	return tokens.NewJWT(tokens.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	})
}

func newServiceWithMock(t *testing.T, cfg config.AuthConfig) (*Service, *mocks.MockStorage, *gomock.Controller) {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockSt := mocks.NewMockStorage(ctrl)
	svc := New(mockSt, testSigner(cfg), cfg)
	return svc, mockSt, ctrl
}

func testUser() *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:           uuid.New(),
		Email:        "patient@example.com",
		PasswordHash: "$2a$10$irrelevant",
		Role:         models.RolePatient,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestHashFingerprint(t *testing.T) {
	t.Parallel()

	require.Empty(t, hashFingerprint(""))
	require.Equal(t, hashFingerprint("device-a"), hashFingerprint("device-a"))
	require.NotEqual(t, hashFingerprint("device-a"), hashFingerprint("device-b"))
	// base64url без паддинга: сырой отпечаток из хэша не восстановить.
	require.NotContains(t, hashFingerprint("device-a"), "=")
}

func TestIssueTokens_OK(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	var saved *models.RefreshSession
	mockSt.EXPECT().
		SaveSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sess *models.RefreshSession) error {
			saved = sess
			return nil
		})

	pair, err := svc.IssueTokens(ctx, user, sid, "device-a")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, models.TokenTypeBearer, pair.TokenType)
	require.Equal(t, int64(testAuthCfg().AccessTokenTTL.Seconds()), pair.ExpiresIn)

	require.NotNil(t, saved)
	require.Equal(t, user.ID, saved.UserID)
	require.Equal(t, sid, saved.SessionID)
	require.Equal(t, int64(0), saved.Seq)
	require.False(t, saved.Consumed)
	require.Equal(t, hashFingerprint("device-a"), saved.FingerprintHash)

	// Claims в refresh-токене согласованы с серверной сессией.
	claims, err := testSigner(testAuthCfg()).VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, saved.TokenID, claims.TokenID)
	require.Equal(t, sid, claims.SessionID)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, hashFingerprint("device-a"), claims.FingerprintHash)
}

func TestRotateTokens_OK(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	var issued *models.RefreshSession
	mockSt.EXPECT().
		SaveSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sess *models.RefreshSession) error {
			issued = sess
			return nil
		})

	pair, err := svc.IssueTokens(ctx, user, sid, "device-a")
	require.NoError(t, err)

	mockSt.EXPECT().ConsumeSession(gomock.Any(), issued.TokenID).Return(true, nil)
	mockSt.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	var rotated *models.RefreshSession
	mockSt.EXPECT().
		SaveSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sess *models.RefreshSession) error {
			rotated = sess
			return nil
		})

	next, err := svc.RotateTokens(ctx, pair.RefreshToken, "device-a")
	require.NoError(t, err)
	require.NotEmpty(t, next.AccessToken)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Цепочка сохраняет сессию, jti сменился, счётчик ротаций вырос.
	require.Equal(t, sid, rotated.SessionID)
	require.NotEqual(t, issued.TokenID, rotated.TokenID)
	require.Equal(t, issued.Seq+1, rotated.Seq)
	require.Equal(t, issued.FingerprintHash, rotated.FingerprintHash)
}

func TestRotateTokens_Reuse_RevokesLineage(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	pair, err := svc.IssueTokens(ctx, user, sid, "device-a")
	require.NoError(t, err)

	// Токен уже потреблён: CAS проигран, линия должна быть отозвана.
	mockSt.EXPECT().ConsumeSession(gomock.Any(), gomock.Any()).Return(false, nil)
	mockSt.EXPECT().RevokeSessionLineage(gomock.Any(), sid).Return(int64(2), nil)

	_, err = svc.RotateTokens(ctx, pair.RefreshToken, "device-a")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTokenReused)
}

func TestRotateTokens_FingerprintMismatch(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	pair, err := svc.IssueTokens(ctx, user, uuid.New(), "device-a")
	require.NoError(t, err)

	// Отпечаток другого устройства: до хранилища дело не доходит.
	_, err = svc.RotateTokens(ctx, pair.RefreshToken, "device-b")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRotateTokens_Garbage_And_Expired(t *testing.T) {
	cfg := testAuthCfg()
	svc, _, ctrl := newServiceWithMock(t, cfg)
	defer ctrl.Finish()

	ctx := context.Background()

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.RotateTokens(ctx, "not-a-jwt", "device-a")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired token", func(t *testing.T) {
		past := time.Now().UTC().Add(-time.Hour)
		signed, err := testSigner(cfg).SignRefresh(tokens.RefreshClaims{
			UserID:          uuid.New(),
			SessionID:       uuid.New(),
			TokenID:         uuid.New(),
			Seq:             0,
			FingerprintHash: hashFingerprint("device-a"),
			ExpiresAt:       past,
		}, past.Add(-time.Minute))
		require.NoError(t, err)

		_, err = svc.RotateTokens(ctx, signed, "device-a")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestRotateTokens_SessionMissing(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	pair, err := svc.IssueTokens(ctx, user, uuid.New(), "device-a")
	require.NoError(t, err)

	mockSt.EXPECT().ConsumeSession(gomock.Any(), gomock.Any()).Return(false, storage.ErrNotFound)

	_, err = svc.RotateTokens(ctx, pair.RefreshToken, "device-a")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRotateTokens_UserGone(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	pair, err := svc.IssueTokens(ctx, user, uuid.New(), "device-a")
	require.NoError(t, err)

	mockSt.EXPECT().ConsumeSession(gomock.Any(), gomock.Any()).Return(true, nil)
	mockSt.EXPECT().UserByID(gomock.Any(), user.ID).Return(nil, storage.ErrNotFound)

	_, err = svc.RotateTokens(ctx, pair.RefreshToken, "device-a")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUserNotFound)
}

// Конкурентные ротации одним токеном: побеждает ровно одна, остальные
// получают ErrTokenReused. Взаимное исключение обеспечивает CAS хранилища,
// который здесь эмулируется атомарным флагом.
func TestRotateTokens_Concurrent_SingleWinner(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	mockSt.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil).AnyTimes()
	mockSt.EXPECT().RevokeSessionLineage(gomock.Any(), sid).Return(int64(1), nil).AnyTimes()

	var consumed atomic.Bool
	mockSt.EXPECT().
		ConsumeSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID) (bool, error) {
			return consumed.CompareAndSwap(false, true), nil
		}).
		AnyTimes()

	pair, err := svc.IssueTokens(ctx, user, sid, "device-a")
	require.NoError(t, err)

	const workers = 16

	var (
		wg      sync.WaitGroup
		winners atomic.Int64
		reused  atomic.Int64
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, rerr := svc.RotateTokens(ctx, pair.RefreshToken, "device-a")
			switch {
			case rerr == nil:
				winners.Add(1)
			case errors.Is(rerr, ErrTokenReused):
				reused.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(1), winners.Load())
	require.Equal(t, int64(workers-1), reused.Load())
}

func TestRotateTokens_Legacy_DisabledByDefault(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	// Пара без отпечатка — legacy-токен.
	pair, err := svc.IssueTokens(ctx, user, uuid.New(), "")
	require.NoError(t, err)

	_, err = svc.RotateTokens(ctx, pair.RefreshToken, "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrLegacyRefreshDisabled)
}

func TestRotateTokens_Legacy_OK(t *testing.T) {
	cfg := testAuthCfg()
	cfg.AllowLegacyRefresh = true

	svc, mockSt, ctrl := newServiceWithMock(t, cfg)
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	var issued *models.RefreshSession
	mockSt.EXPECT().
		SaveSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sess *models.RefreshSession) error {
			issued = sess
			return nil
		})

	pair, err := svc.IssueTokens(ctx, user, sid, "")
	require.NoError(t, err)

	mockSt.EXPECT().SessionByTokenID(gomock.Any(), issued.TokenID).Return(issued, nil)
	mockSt.EXPECT().UserByID(gomock.Any(), user.ID).Return(user, nil)

	// Legacy-путь: ротации нет, refresh-токен возвращается прежним,
	// access-токен свежий.
	next, err := svc.RotateTokens(ctx, pair.RefreshToken, "")
	require.NoError(t, err)
	require.Equal(t, pair.RefreshToken, next.RefreshToken)
	require.NotEmpty(t, next.AccessToken)
}

func TestRotateTokens_Legacy_RevokedSession(t *testing.T) {
	cfg := testAuthCfg()
	cfg.AllowLegacyRefresh = true

	svc, mockSt, ctrl := newServiceWithMock(t, cfg)
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()

	var issued *models.RefreshSession
	mockSt.EXPECT().
		SaveSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, sess *models.RefreshSession) error {
			issued = sess
			return nil
		})

	pair, err := svc.IssueTokens(ctx, user, uuid.New(), "")
	require.NoError(t, err)

	// Сессия отозвана logout-ом: legacy-токен больше не обслуживается.
	revoked := *issued
	revoked.Consumed = true
	mockSt.EXPECT().SessionByTokenID(gomock.Any(), issued.TokenID).Return(&revoked, nil)

	_, err = svc.RotateTokens(ctx, pair.RefreshToken, "")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeTokens(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	pair, err := svc.IssueTokens(ctx, user, sid, "device-a")
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		mockSt.EXPECT().RevokeSessionLineage(gomock.Any(), sid).Return(int64(1), nil)

		require.NoError(t, svc.RevokeTokens(ctx, pair.RefreshToken))
	})

	t.Run("already revoked", func(t *testing.T) {
		pair2, err := svc.IssueTokens(ctx, user, sid, "device-a")
		require.NoError(t, err)

		mockSt.EXPECT().RevokeSessionLineage(gomock.Any(), sid).Return(int64(0), nil)

		err = svc.RevokeTokens(ctx, pair2.RefreshToken)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		err := svc.RevokeTokens(ctx, "not-a-jwt")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestValidateToken(t *testing.T) {
	svc, mockSt, ctrl := newServiceWithMock(t, testAuthCfg())
	defer ctrl.Finish()

	ctx := context.Background()
	user := testUser()
	sid := uuid.New()

	mockSt.EXPECT().SaveSession(gomock.Any(), gomock.Any()).Return(nil)

	pair, err := svc.IssueTokens(ctx, user, sid, "device-a")
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		claims, err := svc.ValidateToken(ctx, pair.AccessToken)
		require.NoError(t, err)
		require.Equal(t, user.ID, claims.UserID)
		require.Equal(t, models.RolePatient, claims.Role)
		require.Equal(t, sid, claims.SessionID)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken(ctx, "not-a-jwt")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}
