// Пакет config — загрузка и валидация конфигурации storefront
// и утилиты review-build из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения SF_ATTEMPT_STORE.
const (
	AttemptStoreMemory   = "memory"
	AttemptStorePostgres = "postgres"
)

// Config содержит все параметры конфигурации сервиса storefront.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Директория markdown-отзывов (корпус для review-build)
	ReviewsDir string
	// Путь к опубликованному JSON-фиду отзывов
	FeedFile string
	// TTL кэша фида в памяти
	FeedCacheTTL time.Duration
	// Максимальное число повторных попыток чтения фида
	FeedReadRetries int

	// Время жизни OTP-кода
	OTPTTL time.Duration
	// Окно ограничения генерации OTP
	OTPGenerationWindow time.Duration
	// Максимум генераций OTP в окне
	OTPGenerationMax int
	// Максимум неудачных проверок OTP подряд
	OTPVerifyMaxFailures int
	// Длительность блокировки проверки OTP
	OTPVerifyLockout time.Duration
	// Окно ограничения публикации отзывов
	ReviewWindow time.Duration
	// Максимум отзывов в окне
	ReviewMax int

	// Длительность сессии без активности
	SessionDuration time.Duration
	// Issuer в выпускаемых JWT
	JWTIssuer string
	// Путь к PEM-файлу RSA ключа подписи (опционально, иначе генерируется)
	SigningKeyFile string
	// Язык сообщений по умолчанию (pt, en, ru)
	DefaultLang string

	// Хранилище счётчиков попыток: memory или postgres
	AttemptStore string
	// JSON-файл для счётчика отзывов при AttemptStore=memory
	AttemptFile string

	// Параметры PostgreSQL (обязательны при AttemptStore=postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию storefront из переменных окружения SF_*,
// валидирует значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// SF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.ReviewsDir = getEnvDefault("SF_REVIEWS_DIR", "reviews")
	cfg.FeedFile = getEnvDefault("SF_FEED_FILE", "public/reviews.json")

	cfg.FeedCacheTTL, err = getEnvDuration("SF_FEED_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SF_FEED_CACHE_TTL: %w", err)
	}
	cfg.FeedReadRetries, err = getEnvInt("SF_FEED_READ_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("SF_FEED_READ_RETRIES: %w", err)
	}
	if cfg.FeedReadRetries < 0 {
		return nil, fmt.Errorf("SF_FEED_READ_RETRIES: значение не может быть отрицательным")
	}

	// Ограничения OTP и отзывов
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"SF_OTP_TTL", 15 * time.Minute, &cfg.OTPTTL},
		{"SF_OTP_GENERATION_WINDOW", time.Hour, &cfg.OTPGenerationWindow},
		{"SF_OTP_VERIFY_LOCKOUT", 30 * time.Minute, &cfg.OTPVerifyLockout},
		{"SF_REVIEW_WINDOW", 24 * time.Hour, &cfg.ReviewWindow},
		{"SF_SESSION_DURATION", 72 * time.Hour, &cfg.SessionDuration},
		{"SF_DEPHEALTH_CHECK_INTERVAL", 15 * time.Second, &cfg.DephealthCheckInterval},
		{"SF_SHUTDOWN_TIMEOUT", 5 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		*d.dst, err = getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if *d.dst <= 0 {
			return nil, fmt.Errorf("%s: значение должно быть положительным", d.key)
		}
	}

	limits := []struct {
		key string
		def int
		dst *int
	}{
		{"SF_OTP_GENERATION_MAX", 5, &cfg.OTPGenerationMax},
		{"SF_OTP_VERIFY_MAX_FAILURES", 3, &cfg.OTPVerifyMaxFailures},
		{"SF_REVIEW_MAX", 2, &cfg.ReviewMax},
	}
	for _, l := range limits {
		*l.dst, err = getEnvInt(l.key, l.def)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.key, err)
		}
		if *l.dst <= 0 {
			return nil, fmt.Errorf("%s: значение должно быть положительным", l.key)
		}
	}

	cfg.JWTIssuer = getEnvDefault("SF_JWT_ISSUER", "storefront")
	cfg.SigningKeyFile = getEnvDefault("SF_SIGNING_KEY_FILE", "")

	cfg.DefaultLang = getEnvDefault("SF_DEFAULT_LANG", "pt")
	switch cfg.DefaultLang {
	case "pt", "en", "ru":
	default:
		return nil, fmt.Errorf("SF_DEFAULT_LANG: недопустимое значение %q, допустимые: pt, en, ru", cfg.DefaultLang)
	}

	// SF_ATTEMPT_STORE — хранилище счётчиков (по умолчанию memory)
	cfg.AttemptStore = getEnvDefault("SF_ATTEMPT_STORE", AttemptStoreMemory)
	if cfg.AttemptStore != AttemptStoreMemory && cfg.AttemptStore != AttemptStorePostgres {
		return nil, fmt.Errorf("SF_ATTEMPT_STORE: недопустимое значение %q, допустимые: memory, postgres", cfg.AttemptStore)
	}
	cfg.AttemptFile = getEnvDefault("SF_ATTEMPT_FILE", "data/review-attempts.json")

	if cfg.AttemptStore == AttemptStorePostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	cfg.DephealthGroup = getEnvDefault("SF_DEPHEALTH_GROUP", "storefront")

	cfg.LogLevel, err = ParseLogLevel(getEnvDefault("SF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SF_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat, err = parseLogFormat(getEnvDefault("SF_LOG_FORMAT", "json"))
	if err != nil {
		return nil, fmt.Errorf("SF_LOG_FORMAT: %w", err)
	}

	return cfg, nil
}

// loadDatabase заполняет параметры PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("SF_DB_HOST")
	if err != nil {
		return err
	}
	cfg.DBPort, err = getEnvInt("SF_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("SF_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("SF_DB_NAME")
	if err != nil {
		return err
	}
	cfg.DBUser, err = getEnvRequired("SF_DB_USER")
	if err != nil {
		return err
	}
	cfg.DBPassword, err = getEnvRequired("SF_DB_PASSWORD")
	if err != nil {
		return err
	}
	cfg.DBSSLMode = getEnvDefault("SF_DB_SSL_MODE", "disable")
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для golang-migrate и метрик dephealth.
func (c *Config) DatabaseURL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// BuildConfig — параметры утилиты review-build.
// Значения из RB_* служат умолчаниями для флагов командной строки.
type BuildConfig struct {
	// Директория markdown-отзывов
	ReviewsDir string
	// Путь к публикуемому фиду
	OutputFile string
	// Путь к резервной копии фида
	BackupFile string
	// Окно устранения дребезга для режима watch
	WatchDebounce time.Duration
	// Уровень логирования (строкой, разбирается в SetupBuildLogger)
	LogLevel string
	// Формат логов (json, text)
	LogFormat string
}

// LoadBuild загружает умолчания review-build из переменных окружения RB_*.
func LoadBuild() (*BuildConfig, error) {
	cfg := &BuildConfig{
		ReviewsDir: getEnvDefault("RB_REVIEWS_DIR", "reviews"),
		OutputFile: getEnvDefault("RB_OUTPUT_FILE", "public/reviews.json"),
		BackupFile: getEnvDefault("RB_BACKUP_FILE", "reviews-backup.json"),
		LogLevel:   getEnvDefault("RB_LOG_LEVEL", "info"),
		LogFormat:  getEnvDefault("RB_LOG_FORMAT", "text"),
	}

	var err error
	cfg.WatchDebounce, err = getEnvDuration("RB_WATCH_DEBOUNCE", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("RB_WATCH_DEBOUNCE: %w", err)
	}
	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg.LogLevel, cfg.LogFormat)
}

// SetupBuildLogger настраивает логгер review-build; уровень и формат
// проверяются здесь, так как могут прийти из флагов.
func SetupBuildLogger(cfg *BuildConfig) (*slog.Logger, error) {
	level, err := ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log-level: %w", err)
	}
	format, err := parseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("log-format: %w", err)
	}
	return newLogger(level, format), nil
}

func newLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 15m, 72h)", val)
	}
	return d, nil
}

// ParseLogLevel преобразует строку уровня логирования в slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

func parseLogFormat(format string) (string, error) {
	if format != "json" && format != "text" {
		return "", fmt.Errorf("недопустимое значение %q, допустимые: json, text", format)
	}
	return format, nil
}
