// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"50080"`
}

// Addr возвращает адрес в формате host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// AuthConfig содержит параметры выпуска и ротации токенов.
//
// AllowLegacyRefresh включает устаревший путь обновления без фингерпринта:
// ротация пропускается, предъявленный refresh-токен остаётся действительным
// до естественного истечения. Защита от replay на этом пути не работает;
// путь оставлен для старых клиентов и подлежит удалению.
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"5m"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer             string        `yaml:"issuer"   env:"ISSUER" env-default:"careportal-auth"`
	Audience           []string      `yaml:"audience" env:"AUDIENCE" env-default:"careportal"`
	AllowLegacyRefresh bool          `yaml:"allow_legacy_refresh" env:"ALLOW_LEGACY_REFRESH" env-default:"false"`
}

// RateLimitConfig — параметры ограничителя частоты на /auth/login и /auth/refresh.
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	MaxAttempts    int           `yaml:"max_attempts" env:"RATE_LIMIT_MAX_ATTEMPTS" env-default:"10"`
	CooldownWindow time.Duration `yaml:"cooldown_window" env:"RATE_LIMIT_COOLDOWN" env-default:"1m"`
	ThrottleByIP   bool          `yaml:"throttle_by_ip" env:"RATE_LIMIT_BY_IP" env-default:"true"`
}

// DBConfig — настройки подключения к MongoDB.
type DBConfig struct {
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig — настройки подключения к Redis.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-required:"true"`
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// ВАЖНО: после чтения файла накладываем ENV-переменные поверх значений из YAML.
func Load(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	load := func() (*Config, error) {
		// 1) Явный путь.
		if path != "" {
			return tryRead(path)
		}

		// 2) CONFIG_PATH.
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			return tryRead(envPath)
		}

		// 3) ./local.yaml.
		if _, err := os.Stat("local.yaml"); err == nil {
			return tryRead("local.yaml")
		}

		// 4) Только ENV.
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}

		return &cfg, nil
	}

	c, err := load()
	if err != nil {
		return nil, err
	}

	if err := c.Auth.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// validate проверяет инварианты токенной политики.
// Access-токен обязан жить строго меньше refresh-токена.
func (a AuthConfig) validate() error {
	if a.AccessTokenTTL <= 0 || a.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}

	if a.AccessTokenTTL >= a.RefreshTokenTTL {
		return fmt.Errorf("access_token_ttl (%s) must be strictly less than refresh_token_ttl (%s)",
			a.AccessTokenTTL, a.RefreshTokenTTL)
	}

	return nil
}
