package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careportal/auth-service/internal/cache"
	"github.com/careportal/auth-service/internal/config"
	"github.com/careportal/auth-service/internal/ratelimit"
	"github.com/careportal/auth-service/internal/service"
	"github.com/careportal/auth-service/internal/sessions"
	"github.com/careportal/auth-service/internal/storage"
	"github.com/careportal/auth-service/internal/storage/mongo"
	"github.com/careportal/auth-service/internal/tokens"
	transport "github.com/careportal/auth-service/internal/transport/http"
	"github.com/careportal/auth-service/internal/transport/http/handlers"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := mongo.New(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		log.Error("mongo_connect_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("mongo_connected")

	// Подписант токенов и сервис.
	signer := tokens.NewJWT(tokens.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})

	srvc := service.New(str, signer, cfg.Auth)

	// Redis-коллабораторы: кэш refresh-сессий, гейт частоты, трекер активности.
	// Сервис работоспособен и без них; недоступный Redis на старте фатален,
	// чтобы не уйти в prod с молча отключённой защитой.
	rcache, err := cache.NewRedisCache(cfg.Redis.RedisURL, "")
	if err != nil {
		log.Error("redis_cache_failed", slog.String("err", err.Error()))
		str.Close(context.Background())
		os.Exit(1)
	}
	srvc.SetRefreshCache(rcache)

	tracker, err := sessions.NewRedisTracker(cfg.Redis.RedisURL, "")
	if err != nil {
		log.Error("redis_tracker_failed", slog.String("err", err.Error()))
		str.Close(context.Background())
		os.Exit(1)
	}
	srvc.SetActivityTracker(tracker)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.New(cfg.Redis.RedisURL, cfg.RateLimit)
		if err != nil {
			log.Error("redis_limiter_failed", slog.String("err", err.Error()))
			str.Close(context.Background())
			os.Exit(1)
		}
	}

	log.Info("service_initialized")

	var ready int32 // 0 — not ready; 1 — ready

	api := transport.NewRouter(
		handlers.New(srvc, limiter, cfg.Env, cfg.Auth),
		transport.Options{
			Logger:  log,
			Timeout: cfg.Timeouts.Service,
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/", api)

	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновая очистка просроченных refresh-сессий.
	startSessionJanitor(rootCtx, str, log, 30*time.Minute)

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	atomic.StoreInt32(&ready, 1)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}

	atomic.StoreInt32(&ready, 0)

	// Graceful stop с таймаутом.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
	}
	shutdownCancel()

	// Явная очистка перед выходом.
	if limiter != nil {
		_ = limiter.Close()
	}
	_ = tracker.Close()
	_ = rcache.Close()
	_ = str.Close(context.Background())

	log.Info("service_stopped")
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

// startSessionJanitor запускает фоновую задачу, которая периодически удаляет
// просроченные refresh-сессии из хранилища (TTL-индекс Mongo делает то же
// асинхронно; джанитор держит коллекцию компактной между его проходами).
func startSessionJanitor(ctx context.Context, st storage.Storage, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := st.DeleteExpiredSessions(ctx, time.Now().UTC()); err != nil {
					log.Error("session_janitor_failed", slog.String("err", err.Error()))
				}
			}
		}
	}()
}
