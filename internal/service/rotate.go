package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/careportal/auth-service/internal/models"
	"github.com/careportal/auth-service/internal/pkg/log"
	"github.com/careportal/auth-service/internal/storage"
	"github.com/careportal/auth-service/internal/tokens"
)

// hashFingerprint сводит клиентский отпечаток к компактному хэшу.
// В claims и в хранилище попадает только хэш, сырой отпечаток нигде не сохраняется.
func hashFingerprint(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(fingerprint))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// IssueTokens выпускает свежую пару токенов без предыстории (логин/регистрация).
// Если fingerprint пустой, пара выпускается в legacy-режиме без привязки
// к устройству (ротация для неё будет пропускаться, см. RotateTokens).
func (s *Service) IssueTokens(ctx context.Context, user *models.User, sessionID uuid.UUID, fingerprint string) (*models.TokenPair, error) {
	const op = "service.rotate.IssueTokens"

	pair, err := s.issuePair(ctx, user, sessionID, hashFingerprint(fingerprint), 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// RotateTokens обновляет пару токенов по refresh-токену.
//
// Последовательность проверок фиксирована:
//  1. подпись и срок действия refresh-токена;
//  2. привязка к устройству (хэш отпечатка из claims против предъявленного);
//  3. атомарное потребление серверной сессии (ровно один победитель
//     среди конкурентных ротаций одним токеном);
//  4. существование пользователя;
//  5. выпуск новой пары (seq+1) и уведомление трекера активности.
//
// Повторное предъявление уже потреблённого токена — признак возможной кражи:
// вся линия сессии отзывается, вызывающий получает ErrTokenReused.
//
// Токен без привязки к устройству обслуживается стратегией LegacyStaticRefresh:
// ротация пропускается, предъявленный refresh-токен остаётся действительным
// до естественного истечения. Путь доступен только при AllowLegacyRefresh.
func (s *Service) RotateTokens(ctx context.Context, refreshToken, fingerprint string) (*models.TokenPair, error) {
	const op = "service.rotate.RotateTokens"

	lg := log.From(ctx)

	claims, err := s.verifyRefresh(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.strategyFor(claims) == LegacyStaticRefresh {
		pair, err := s.refreshLegacy(ctx, refreshToken, claims)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		rotationsTotal.WithLabelValues("legacy").Inc()
		return pair, nil
	}

	if claims.FingerprintHash != hashFingerprint(fingerprint) {
		lg.Warn("refresh_fingerprint_mismatch",
			slog.String("op", op),
			slog.String("session_id", claims.SessionID.String()),
		)
		rotationsTotal.WithLabelValues("fingerprint_mismatch").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrFingerprintMismatch)
	}

	// Единственная точка взаимного исключения: CAS consumed=false -> true.
	consumed, err := s.consumeSession(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !consumed {
		// Replay: токен уже потреблён. Отзываем всю линию сессии.
		if _, revErr := s.storage.RevokeSessionLineage(ctx, claims.SessionID); revErr != nil {
			lg.Error("lineage_revoke_failed",
				slog.String("op", op),
				slog.String("session_id", claims.SessionID.String()),
				slog.String("err", revErr.Error()),
			)
		}

		lg.Warn("refresh_replay_detected",
			slog.String("op", op),
			slog.String("session_id", claims.SessionID.String()),
			slog.Int64("seq", claims.Seq),
		)

		rotationsTotal.WithLabelValues("reused").Inc()
		return nil, fmt.Errorf("%s: %w", op, ErrTokenReused)
	}

	user, err := s.storage.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.issuePair(ctx, user, claims.SessionID, claims.FingerprintHash, claims.Seq+1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.touchActivity(ctx, pair.AccessToken); err != nil {
		lg.Warn("activity_touch_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	rotationsTotal.WithLabelValues("rotated").Inc()
	return pair, nil
}

// RevokeTokens отзывает всю линию сессии по refresh-токену (logout).
func (s *Service) RevokeTokens(ctx context.Context, refreshToken string) error {
	const op = "service.rotate.RevokeTokens"

	claims, err := s.verifyRefresh(refreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := s.storage.RevokeSessionLineage(ctx, claims.SessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if s.rcache != nil {
		if cerr := s.rcache.MarkConsumed(ctx, claims.TokenID.String()); cerr != nil {
			log.From(ctx).Warn("cache_mark_consumed_failed",
				slog.String("op", op),
				slog.String("err", cerr.Error()),
			)
		}
	}

	return nil
}

// ValidateToken проверяет access-токен и возвращает его claims.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (*tokens.AccessClaims, error) {
	const op = "service.rotate.ValidateToken"

	claims, err := s.signer.VerifyAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapTokenErr(err))
	}

	return claims, nil
}

// strategyFor выбирает стратегию обработки refresh-запроса.
// Выбор явный: наличие привязки к устройству в токене определяет путь.
func (s *Service) strategyFor(claims *tokens.RefreshClaims) RefreshStrategy {
	if claims.FingerprintHash == "" {
		return LegacyStaticRefresh
	}

	return RotatingRefresh
}

// refreshLegacy обслуживает токен без привязки к устройству: проверяет
// пользователя и выпускает только новый access-токен; предъявленный
// refresh-токен не потребляется и возвращается как есть.
func (s *Service) refreshLegacy(ctx context.Context, refreshToken string, claims *tokens.RefreshClaims) (*models.TokenPair, error) {
	const op = "service.rotate.refreshLegacy"

	if !s.cfg.AllowLegacyRefresh {
		return nil, fmt.Errorf("%s: %w", op, ErrLegacyRefreshDisabled)
	}

	lg := log.From(ctx)
	lg.Warn("legacy_refresh_used",
		slog.String("op", op),
		slog.String("session_id", claims.SessionID.String()),
	)

	// Сессия должна существовать и не быть отозванной (logout).
	sess, err := s.sessionByTokenID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if sess.Consumed {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.storage.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	accessExpires := now.Add(s.cfg.AccessTokenTTL)

	access, err := s.signer.SignAccess(tokens.AccessClaims{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: claims.SessionID,
		ExpiresAt: accessExpires,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.touchActivity(ctx, access); err != nil {
		lg.Warn("activity_touch_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	return &models.TokenPair{
		AccessToken:     access,
		RefreshToken:    refreshToken,
		AccessExpiresAt: accessExpires,
		ExpiresIn:       int64(s.cfg.AccessTokenTTL.Seconds()),
		TokenType:       models.TokenTypeBearer,
	}, nil
}

// issuePair выпускает новую пару access+refresh и сохраняет refresh-сессию.
func (s *Service) issuePair(ctx context.Context, user *models.User, sessionID uuid.UUID, fingerprintHash string, seq int64) (*models.TokenPair, error) {
	const op = "service.rotate.issuePair"

	lg := log.From(ctx)

	now := time.Now().UTC()
	accessExpires := now.Add(s.cfg.AccessTokenTTL)
	refreshExpires := now.Add(s.cfg.RefreshTokenTTL)
	tokenID := uuid.New()

	access, err := s.signer.SignAccess(tokens.AccessClaims{
		UserID:    user.ID,
		Role:      user.Role,
		SessionID: sessionID,
		ExpiresAt: accessExpires,
	}, now)
	if err != nil {
		lg.Error("access_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := s.signer.SignRefresh(tokens.RefreshClaims{
		UserID:          user.ID,
		SessionID:       sessionID,
		TokenID:         tokenID,
		Seq:             seq,
		FingerprintHash: fingerprintHash,
		ExpiresAt:       refreshExpires,
	}, now)
	if err != nil {
		lg.Error("refresh_token_sign_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess := &models.RefreshSession{
		TokenID:         tokenID,
		UserID:          user.ID,
		SessionID:       sessionID,
		FingerprintHash: fingerprintHash,
		Seq:             seq,
		Consumed:        false,
		CreatedAt:       now,
		ExpiresAt:       refreshExpires,
	}

	if err := s.storage.SaveSession(ctx, sess); err != nil {
		lg.Error("save_session_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.rcache != nil {
		if cerr := s.rcache.Set(ctx, sess, s.cfg.RefreshTokenTTL); cerr != nil {
			lg.Warn("cache_set_failed",
				slog.String("op", op),
				slog.String("err", cerr.Error()),
			)
		}
	}

	return &models.TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: accessExpires,
		ExpiresIn:       int64(s.cfg.AccessTokenTTL.Seconds()),
		TokenType:       models.TokenTypeBearer,
	}, nil
}

// verifyRefresh проверяет подпись/срок refresh-токена и маппит ошибки
// подписанта на доменные.
func (s *Service) verifyRefresh(refreshToken string) (*tokens.RefreshClaims, error) {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, mapTokenErr(err)
	}

	return claims, nil
}

// consumeSession выполняет CAS-потребление сессии, поддерживая кэш в актуальном
// состоянии. Кэш — только ускоритель чтения, истиной остаётся хранилище.
func (s *Service) consumeSession(ctx context.Context, tokenID uuid.UUID) (bool, error) {
	consumed, err := s.storage.ConsumeSession(ctx, tokenID)
	if err != nil {
		return false, err
	}

	if s.rcache != nil {
		if cerr := s.rcache.MarkConsumed(ctx, tokenID.String()); cerr != nil {
			log.From(ctx).Warn("cache_mark_consumed_failed",
				slog.String("err", cerr.Error()),
			)
		}
	}

	return consumed, nil
}

// sessionByTokenID читает refresh-сессию, предпочитая кэш.
func (s *Service) sessionByTokenID(ctx context.Context, tokenID uuid.UUID) (*models.RefreshSession, error) {
	if s.rcache != nil {
		if sess, ok, err := s.rcache.Get(ctx, tokenID.String()); err == nil && ok {
			return sess, nil
		}
	}

	return s.storage.SessionByTokenID(ctx, tokenID)
}

// mapTokenErr переводит ошибки пакета tokens в доменные сентинелы.
func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, tokens.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, tokens.ErrInvalidToken):
		return ErrInvalidToken
	default:
		return err
	}
}
