package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// clearSFEnv сбрасывает переменные SF_*, влияющие на тесты.
func clearSFEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SF_PORT", "SF_REVIEWS_DIR", "SF_FEED_FILE", "SF_FEED_CACHE_TTL", "SF_FEED_READ_RETRIES",
		"SF_OTP_TTL", "SF_OTP_GENERATION_WINDOW", "SF_OTP_GENERATION_MAX",
		"SF_OTP_VERIFY_MAX_FAILURES", "SF_OTP_VERIFY_LOCKOUT",
		"SF_REVIEW_WINDOW", "SF_REVIEW_MAX", "SF_SESSION_DURATION",
		"SF_JWT_ISSUER", "SF_SIGNING_KEY_FILE", "SF_DEFAULT_LANG",
		"SF_ATTEMPT_STORE", "SF_ATTEMPT_FILE",
		"SF_DB_HOST", "SF_DB_PORT", "SF_DB_NAME", "SF_DB_USER", "SF_DB_PASSWORD", "SF_DB_SSL_MODE",
		"SF_DEPHEALTH_CHECK_INTERVAL", "SF_DEPHEALTH_GROUP",
		"SF_LOG_LEVEL", "SF_LOG_FORMAT", "SF_SHUTDOWN_TIMEOUT",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

// TestLoad_Defaults проверяет значения по умолчанию.
func TestLoad_Defaults(t *testing.T) {
	clearSFEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидалось 8080", cfg.Port)
	}
	if cfg.OTPTTL != 15*time.Minute {
		t.Errorf("OTPTTL = %v, ожидалось 15m", cfg.OTPTTL)
	}
	if cfg.OTPGenerationWindow != time.Hour || cfg.OTPGenerationMax != 5 {
		t.Errorf("генерация OTP = %v/%d, ожидалось 1h/5", cfg.OTPGenerationWindow, cfg.OTPGenerationMax)
	}
	if cfg.OTPVerifyMaxFailures != 3 || cfg.OTPVerifyLockout != 30*time.Minute {
		t.Errorf("проверка OTP = %d/%v, ожидалось 3/30m", cfg.OTPVerifyMaxFailures, cfg.OTPVerifyLockout)
	}
	if cfg.ReviewWindow != 24*time.Hour || cfg.ReviewMax != 2 {
		t.Errorf("отзывы = %v/%d, ожидалось 24h/2", cfg.ReviewWindow, cfg.ReviewMax)
	}
	if cfg.SessionDuration != 72*time.Hour {
		t.Errorf("SessionDuration = %v, ожидалось 72h", cfg.SessionDuration)
	}
	if cfg.AttemptStore != AttemptStoreMemory {
		t.Errorf("AttemptStore = %q, ожидалось memory", cfg.AttemptStore)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование = %v/%s, ожидалось info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DefaultLang != "pt" {
		t.Errorf("DefaultLang = %q, ожидалось pt", cfg.DefaultLang)
	}
}

// TestLoad_Invalid проверяет отклонение некорректных значений.
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"порт вне диапазона", "SF_PORT", "70000", "SF_PORT"},
		{"порт не число", "SF_PORT", "abc", "SF_PORT"},
		{"нулевой лимит", "SF_REVIEW_MAX", "0", "SF_REVIEW_MAX"},
		{"плохая длительность", "SF_OTP_TTL", "15", "SF_OTP_TTL"},
		{"отрицательная длительность", "SF_SESSION_DURATION", "-1h", "SF_SESSION_DURATION"},
		{"неизвестное хранилище", "SF_ATTEMPT_STORE", "redis", "SF_ATTEMPT_STORE"},
		{"неизвестный язык", "SF_DEFAULT_LANG", "de", "SF_DEFAULT_LANG"},
		{"неизвестный уровень", "SF_LOG_LEVEL", "trace", "SF_LOG_LEVEL"},
		{"неизвестный формат", "SF_LOG_FORMAT", "xml", "SF_LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearSFEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ошибка %q не содержит %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// TestLoad_PostgresRequiresDB проверяет обязательность параметров БД.
func TestLoad_PostgresRequiresDB(t *testing.T) {
	clearSFEnv(t)
	t.Setenv("SF_ATTEMPT_STORE", "postgres")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SF_DB_HOST") {
		t.Fatalf("ожидалась ошибка SF_DB_HOST, получено: %v", err)
	}

	t.Setenv("SF_DB_HOST", "db")
	t.Setenv("SF_DB_NAME", "storefront")
	t.Setenv("SF_DB_USER", "sf")
	t.Setenv("SF_DB_PASSWORD", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	wantDSN := "host=db port=5432 dbname=storefront user=sf password=secret sslmode=disable"
	if cfg.DatabaseDSN() != wantDSN {
		t.Errorf("DatabaseDSN() = %q, ожидалось %q", cfg.DatabaseDSN(), wantDSN)
	}
	wantURL := "pgx5://sf:secret@db:5432/storefront?sslmode=disable"
	if cfg.DatabaseURL("pgx5") != wantURL {
		t.Errorf("DatabaseURL() = %q, ожидалось %q", cfg.DatabaseURL("pgx5"), wantURL)
	}
}

// TestLoadBuild проверяет умолчания review-build и переопределение через RB_*.
func TestLoadBuild(t *testing.T) {
	t.Setenv("RB_REVIEWS_DIR", "")
	t.Setenv("RB_OUTPUT_FILE", "out/feed.json")
	t.Setenv("RB_BACKUP_FILE", "")
	t.Setenv("RB_WATCH_DEBOUNCE", "")
	t.Setenv("RB_LOG_LEVEL", "")
	t.Setenv("RB_LOG_FORMAT", "")

	cfg, err := LoadBuild()
	if err != nil {
		t.Fatalf("LoadBuild() вернул ошибку: %v", err)
	}
	if cfg.ReviewsDir != "reviews" {
		t.Errorf("ReviewsDir = %q, ожидалось reviews", cfg.ReviewsDir)
	}
	if cfg.OutputFile != "out/feed.json" {
		t.Errorf("OutputFile = %q, ожидалось out/feed.json", cfg.OutputFile)
	}
	if cfg.BackupFile != "reviews-backup.json" {
		t.Errorf("BackupFile = %q, ожидалось reviews-backup.json", cfg.BackupFile)
	}
	if cfg.WatchDebounce != 500*time.Millisecond {
		t.Errorf("WatchDebounce = %v, ожидалось 500ms", cfg.WatchDebounce)
	}

	if _, err := SetupBuildLogger(cfg); err != nil {
		t.Errorf("SetupBuildLogger() вернул ошибку: %v", err)
	}
	cfg.LogFormat = "yaml"
	if _, err := SetupBuildLogger(cfg); err == nil {
		t.Error("ожидалась ошибка для формата yaml")
	}
}

// TestParseLogLevel проверяет разбор уровней логирования.
func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"fatal", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) ошибка = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, ожидалось %v", tt.input, got, tt.want)
		}
	}
}
