package otp

import (
	"context"
	"log/slog"
	"time"
)

// Sender доставляет код пользователю.
type Sender interface {
	Send(ctx context.Context, email, code string, expiresAt time.Time) error
}

// LogSender записывает код в структурированный лог.
// Используется, пока почтовый провайдер не подключён.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With(slog.String("component", "otp_sender"))}
}

// Send пишет код в лог уровня Info.
func (s *LogSender) Send(_ context.Context, email, code string, expiresAt time.Time) error {
	s.logger.Info("Одноразовый код выдан",
		slog.String("email", email),
		slog.String("code", code),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}
