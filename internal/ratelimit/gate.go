package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики шлюза.
var gateChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sf_gate_checks_total",
	Help: "Количество проверок шлюза ограничений (по действию и результату).",
}, []string{"action", "result"})

// Limits — параметры трёх семейств ограничений.
type Limits struct {
	GenerationWindow  time.Duration
	GenerationMax     int
	VerifyMaxFailures int
	VerifyLockout     time.Duration
	ReviewWindow      time.Duration
	ReviewMax         int
}

// DefaultLimits возвращает ограничения по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		GenerationWindow:  time.Hour,
		GenerationMax:     5,
		VerifyMaxFailures: 3,
		VerifyLockout:     30 * time.Minute,
		ReviewWindow:      24 * time.Hour,
		ReviewMax:         2,
	}
}

// Gate — шлюз ограничения частоты действий.
// Операции над одной идентичностью и семейством сериализуются.
type Gate struct {
	limits    Limits
	ephemeral Store
	durable   Store
	locks     *keyedMutex
	logger    *slog.Logger
}

// NewGate создаёт шлюз. ephemeral хранит счётчики OTP,
// durable — счётчики публикации отзывов (переживают рестарт).
func NewGate(limits Limits, ephemeral, durable Store, logger *slog.Logger) *Gate {
	return &Gate{
		limits:    limits,
		ephemeral: ephemeral,
		durable:   durable,
		locks:     newKeyedMutex(),
		logger:    logger.With(slog.String("component", "ratelimit")),
	}
}

// Limits возвращает действующие ограничения.
func (g *Gate) Limits() Limits {
	return g.limits
}

// NormalizeIdentity приводит email к каноническому виду ключа.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// CanGenerateOTP — true, если в окне генерации меньше GenerationMax попыток.
func (g *Gate) CanGenerateOTP(ctx context.Context, identity string, now time.Time) (bool, error) {
	return g.canProceed(ctx, g.ephemeral, KindGeneration, identity, now, g.limits.GenerationWindow, g.limits.GenerationMax)
}

// RecordGenerationAttempt записывает попытку генерации.
// Вызывается после прохождения шлюза, независимо от исхода доставки.
func (g *Gate) RecordGenerationAttempt(ctx context.Context, identity string, now time.Time) error {
	return g.record(ctx, g.ephemeral, KindGeneration, identity, now, g.limits.GenerationWindow)
}

// GenerationLockoutEnd возвращает конец блокировки генерации
// (первая попытка в окне + длина окна) или нулевое время.
func (g *Gate) GenerationLockoutEnd(ctx context.Context, identity string, now time.Time) (time.Time, error) {
	return g.windowLockoutEnd(ctx, g.ephemeral, KindGeneration, identity, now, g.limits.GenerationWindow, g.limits.GenerationMax)
}

// TryGenerateOTP проверяет и записывает попытку генерации под одной
// блокировкой идентичности. При отказе попытка не записывается,
// retryAt — конец блокировки.
func (g *Gate) TryGenerateOTP(ctx context.Context, identity string, now time.Time) (bool, time.Time, error) {
	return g.tryRecord(ctx, g.ephemeral, KindGeneration, identity, now, g.limits.GenerationWindow, g.limits.GenerationMax)
}

// IsOTPVerificationLocked — true, если накоплено VerifyMaxFailures неудач
// и с последней прошло меньше VerifyLockout. Истёкшая блокировка
// очищает историю неудач.
func (g *Gate) IsOTPVerificationLocked(ctx context.Context, identity string, now time.Time) (bool, error) {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(KindVerification, identity))
	defer unlock()

	end, err := g.verificationLockoutEnd(ctx, identity, now)
	if err != nil {
		return false, err
	}
	locked := !end.IsZero()
	g.observe(KindVerification, !locked)
	return locked, nil
}

// RecordVerificationAttempt записывает исход проверки кода.
// Неудача добавляется в историю, успех полностью её очищает.
func (g *Gate) RecordVerificationAttempt(ctx context.Context, identity string, now time.Time, success bool) error {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(KindVerification, identity))
	defer unlock()

	if success {
		return g.save(ctx, g.ephemeral, KindVerification, identity, nil)
	}

	attempts, err := g.load(ctx, g.ephemeral, KindVerification, identity)
	if err != nil {
		return err
	}
	w := NewWindow(attempts)
	w.Add(now)
	if w.Count() >= g.limits.VerifyMaxFailures {
		g.logger.Info("Проверка OTP заблокирована",
			slog.String("identity", identity),
			slog.Time("until", w.Last().Add(g.limits.VerifyLockout)),
		)
	}
	return g.save(ctx, g.ephemeral, KindVerification, identity, w.Attempts())
}

// VerificationLockoutEnd возвращает конец блокировки проверки
// (последняя неудача + VerifyLockout) или нулевое время.
func (g *Gate) VerificationLockoutEnd(ctx context.Context, identity string, now time.Time) (time.Time, error) {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(KindVerification, identity))
	defer unlock()
	return g.verificationLockoutEnd(ctx, identity, now)
}

// RemainingVerificationAttempts возвращает число оставшихся неудачных попыток.
func (g *Gate) RemainingVerificationAttempts(ctx context.Context, identity string) (int, error) {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(KindVerification, identity))
	defer unlock()

	attempts, err := g.load(ctx, g.ephemeral, KindVerification, identity)
	if err != nil {
		return 0, err
	}
	return max(g.limits.VerifyMaxFailures-len(attempts), 0), nil
}

// ClearVerificationFailures очищает историю неудач (выдан новый код).
func (g *Gate) ClearVerificationFailures(ctx context.Context, identity string) error {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(KindVerification, identity))
	defer unlock()
	return g.save(ctx, g.ephemeral, KindVerification, identity, nil)
}

// CanPostReview — true, если в 24-часовом окне меньше ReviewMax публикаций.
func (g *Gate) CanPostReview(ctx context.Context, identity string, now time.Time) (bool, error) {
	return g.canProceed(ctx, g.durable, KindReview, identity, now, g.limits.ReviewWindow, g.limits.ReviewMax)
}

// RecordReviewAttempt записывает публикацию в долговременное хранилище.
func (g *Gate) RecordReviewAttempt(ctx context.Context, identity string, now time.Time) error {
	return g.record(ctx, g.durable, KindReview, identity, now, g.limits.ReviewWindow)
}

// TryPostReview проверяет и записывает публикацию под одной блокировкой
// идентичности. При отказе попытка не записывается.
func (g *Gate) TryPostReview(ctx context.Context, identity string, now time.Time) (bool, time.Time, error) {
	return g.tryRecord(ctx, g.durable, KindReview, identity, now, g.limits.ReviewWindow, g.limits.ReviewMax)
}

// ReviewLockoutEnd возвращает конец блокировки публикации или нулевое время.
func (g *Gate) ReviewLockoutEnd(ctx context.Context, identity string, now time.Time) (time.Time, error) {
	return g.windowLockoutEnd(ctx, g.durable, KindReview, identity, now, g.limits.ReviewWindow, g.limits.ReviewMax)
}

func (g *Gate) canProceed(
	ctx context.Context, store Store, kind Kind, identity string,
	now time.Time, length time.Duration, limit int,
) (bool, error) {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(kind, identity))
	defer unlock()

	w, err := g.pruned(ctx, store, kind, identity, now, length)
	if err != nil {
		return false, err
	}
	allowed := w.Count() < limit
	g.observe(kind, allowed)
	if !allowed {
		g.logger.Info("Попытка отклонена шлюзом",
			slog.String("action", string(kind)),
			slog.String("identity", identity),
			slog.Int("attempts", w.Count()),
		)
	}
	return allowed, nil
}

func (g *Gate) record(
	ctx context.Context, store Store, kind Kind, identity string,
	now time.Time, length time.Duration,
) error {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(kind, identity))
	defer unlock()

	w, err := g.pruned(ctx, store, kind, identity, now, length)
	if err != nil {
		return err
	}
	w.Add(now)
	return g.save(ctx, store, kind, identity, w.Attempts())
}

// tryRecord — проверка и запись в одной критической секции:
// параллельные запросы одной идентичности не проходят проверку до записи.
func (g *Gate) tryRecord(
	ctx context.Context, store Store, kind Kind, identity string,
	now time.Time, length time.Duration, limit int,
) (bool, time.Time, error) {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(kind, identity))
	defer unlock()

	w, err := g.pruned(ctx, store, kind, identity, now, length)
	if err != nil {
		return false, time.Time{}, err
	}
	if w.Count() >= limit {
		g.observe(kind, false)
		retryAt := w.First().Add(length)
		g.logger.Info("Попытка отклонена шлюзом",
			slog.String("action", string(kind)),
			slog.String("identity", identity),
			slog.Int("attempts", w.Count()),
			slog.Time("retry_at", retryAt),
		)
		return false, retryAt, nil
	}
	g.observe(kind, true)
	w.Add(now)
	if err := g.save(ctx, store, kind, identity, w.Attempts()); err != nil {
		return false, time.Time{}, err
	}
	return true, time.Time{}, nil
}

func (g *Gate) windowLockoutEnd(
	ctx context.Context, store Store, kind Kind, identity string,
	now time.Time, length time.Duration, limit int,
) (time.Time, error) {
	identity = NormalizeIdentity(identity)
	unlock := g.locks.Lock(lockKey(kind, identity))
	defer unlock()

	w, err := g.pruned(ctx, store, kind, identity, now, length)
	if err != nil {
		return time.Time{}, err
	}
	if w.Count() < limit {
		return time.Time{}, nil
	}
	return w.First().Add(length), nil
}

// verificationLockoutEnd вызывается под блокировкой ключа.
func (g *Gate) verificationLockoutEnd(ctx context.Context, identity string, now time.Time) (time.Time, error) {
	attempts, err := g.load(ctx, g.ephemeral, KindVerification, identity)
	if err != nil {
		return time.Time{}, err
	}
	w := NewWindow(attempts)
	if w.Count() < g.limits.VerifyMaxFailures {
		return time.Time{}, nil
	}
	end := w.Last().Add(g.limits.VerifyLockout)
	if now.Before(end) {
		return end, nil
	}
	// Блокировка истекла: Locked → Idle
	if err := g.save(ctx, g.ephemeral, KindVerification, identity, nil); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, nil
}

// pruned загружает окно и отбрасывает устаревшие попытки.
// Если что-то отброшено, сокращённое окно сохраняется.
func (g *Gate) pruned(
	ctx context.Context, store Store, kind Kind, identity string,
	now time.Time, length time.Duration,
) (*Window, error) {
	attempts, err := g.load(ctx, store, kind, identity)
	if err != nil {
		return nil, err
	}
	w := NewWindow(attempts)
	if w.Prune(now, length) {
		if err := g.save(ctx, store, kind, identity, w.Attempts()); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (g *Gate) load(ctx context.Context, store Store, kind Kind, identity string) ([]time.Time, error) {
	attempts, err := store.Load(ctx, kind, identity)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки попыток %s: %w", kind, err)
	}
	return attempts, nil
}

func (g *Gate) save(ctx context.Context, store Store, kind Kind, identity string, attempts []time.Time) error {
	if err := store.Save(ctx, kind, identity, attempts); err != nil {
		return fmt.Errorf("ошибка сохранения попыток %s: %w", kind, err)
	}
	return nil
}

func (g *Gate) observe(kind Kind, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	gateChecksTotal.WithLabelValues(string(kind), result).Inc()
}

func lockKey(kind Kind, identity string) string {
	return string(kind) + "\x00" + identity
}
