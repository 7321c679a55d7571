// Пакет otp — вход по одноразовому коду.
//
// Выдача кода проходит шлюз генерации, проверка — шлюз неудачных попыток.
// Срок действия кода отслеживается отменяемой задачей schedule.Task;
// на каждом пути завершения (успех, отмена, замена, блокировка)
// задача отменяется ровно один раз.
package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gostorefront/internal/domain/loginflow"
	"github.com/bigkaa/gostorefront/internal/ratelimit"
	"github.com/bigkaa/gostorefront/internal/schedule"
)

// Ошибки OTP.
var (
	// ErrNoActiveCode — для идентичности нет действующего кода.
	ErrNoActiveCode = errors.New("нет действующего кода")
	// ErrDeliveryFailed — код не удалось доставить.
	ErrDeliveryFailed = errors.New("не удалось доставить код")
	// ErrClosed — сервис остановлен.
	ErrClosed = errors.New("сервис OTP остановлен")
)

// Prometheus-метрики OTP.
var (
	codesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_otp_codes_issued_total",
		Help: "Количество выданных одноразовых кодов.",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sf_otp_verifications_total",
		Help: "Количество проверок кода (по результату).",
	}, []string{"result"})

	codesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_otp_codes_expired_total",
		Help: "Количество кодов, истёкших без подтверждения.",
	})
)

// DeniedError — действие отклонено шлюзом до RetryAt.
type DeniedError struct {
	Action  ratelimit.Kind
	RetryAt time.Time
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("действие %s ограничено до %s", e.Action, e.RetryAt.UTC().Format(time.RFC3339))
}

// MismatchError — введён неверный код.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("неверный код, осталось попыток: %d", e.Remaining)
}

// Issued — сведения о выданном коде.
type Issued struct {
	Email     string
	ExpiresAt time.Time
}

// Options — параметры сервиса.
type Options struct {
	// TTL — срок действия кода (по умолчанию 15 минут)
	TTL time.Duration
	// DeliveryRetries — число повторов доставки (по умолчанию 3)
	DeliveryRetries uint64
	// RetryInterval — начальный интервал между повторами (по умолчанию 500ms)
	RetryInterval time.Duration
	// Now — источник времени (по умолчанию time.Now)
	Now func() time.Time
}

// flow — состояние входа одной идентичности.
// Поля защищены mu; removed выставляется при удалении из карты.
type flow struct {
	mu        sync.Mutex
	machine   *loginflow.StateMachine
	code      string
	expiresAt time.Time
	task      *schedule.Task
	gen       uint64
	removed   bool
}

// Service — сервис выдачи и проверки кодов.
type Service struct {
	gate     *ratelimit.Gate
	sender   Sender
	ttl      time.Duration
	retries  uint64
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	flows  map[string]*flow
	closed bool
}

// NewService создаёт сервис OTP.
func NewService(gate *ratelimit.Gate, sender Sender, opts Options, logger *slog.Logger) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.DeliveryRetries == 0 {
		opts.DeliveryRetries = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		gate:     gate,
		sender:   sender,
		ttl:      opts.TTL,
		retries:  opts.DeliveryRetries,
		interval: opts.RetryInterval,
		now:      opts.Now,
		logger:   logger.With(slog.String("component", "otp")),
		flows:    make(map[string]*flow),
	}
}

// RequestCode выдаёт новый код. Новый код заменяет прежний,
// очищает историю неудач и снимает блокировку проверки.
// Попытка считается израсходованной даже при ошибке доставки.
func (s *Service) RequestCode(ctx context.Context, email string) (*Issued, error) {
	id := ratelimit.NormalizeIdentity(email)
	now := s.now()

	ok, retryAt, err := s.gate.TryGenerateOTP(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &DeniedError{Action: ratelimit.KindGeneration, RetryAt: retryAt}
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	f, err := s.acquire(id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.ClearVerificationFailures(ctx, id); err != nil {
		s.release(id, f)
		return nil, err
	}
	f.task.Cancel()
	f.gen++
	f.code = code
	f.expiresAt = now.Add(s.ttl)
	gen := f.gen
	f.task = schedule.After(s.ttl, func() { s.expire(id, f, gen) })
	if err := f.machine.TransitionTo(loginflow.StateCodeSent, loginflow.EventCodeIssued, now); err != nil {
		s.release(id, f)
		return nil, err
	}
	issued := &Issued{Email: id, ExpiresAt: f.expiresAt}
	s.release(id, f)

	codesIssuedTotal.Inc()
	s.logger.Info("Код выдан", slog.String("email", id), slog.Time("expires_at", issued.ExpiresAt))

	if err := s.deliver(ctx, id, code, issued.ExpiresAt); err != nil {
		s.drop(id, gen, loginflow.EventCodeCancelled)
		return nil, err
	}
	return issued, nil
}

// deliver отправляет код с ограниченным числом повторов.
// Повторы не затрагивают шлюз.
func (s *Service) deliver(ctx context.Context, email, code string, expiresAt time.Time) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.sender.Send(ctx, email, code, expiresAt)
		if err != nil {
			s.logger.Warn("Ошибка доставки кода",
				slog.String("email", email),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// VerifyCode проверяет код. Ошибки: *DeniedError при блокировке,
// ErrNoActiveCode, *MismatchError при неверном коде.
func (s *Service) VerifyCode(ctx context.Context, email, code string) error {
	id := ratelimit.NormalizeIdentity(email)
	now := s.now()

	f, err := s.acquire(id)
	if err != nil {
		return err
	}
	defer s.release(id, f)

	locked, err := s.gate.IsOTPVerificationLocked(ctx, id, now)
	if err != nil {
		return err
	}
	if locked {
		retryAt, err := s.gate.VerificationLockoutEnd(ctx, id, now)
		if err != nil {
			return err
		}
		verificationsTotal.WithLabelValues("denied").Inc()
		return &DeniedError{Action: ratelimit.KindVerification, RetryAt: retryAt}
	}
	if f.machine.Current() == loginflow.StateLocked {
		// Блокировка истекла: Locked → Idle
		_ = f.machine.TransitionTo(loginflow.StateIdle, loginflow.EventLockExpired, now)
	}

	if f.code == "" || !now.Before(f.expiresAt) {
		verificationsTotal.WithLabelValues("no_code").Inc()
		return ErrNoActiveCode
	}

	if codesEqual(code, f.code) {
		if err := s.gate.RecordVerificationAttempt(ctx, id, now, true); err != nil {
			return err
		}
		f.task.Cancel()
		f.clearCode()
		if err := f.machine.TransitionTo(loginflow.StateVerified, loginflow.EventCodeVerified, now); err != nil {
			return err
		}
		verificationsTotal.WithLabelValues("verified").Inc()
		s.logger.Info("Код подтверждён", slog.String("email", id))
		return nil
	}

	if err := s.gate.RecordVerificationAttempt(ctx, id, now, false); err != nil {
		return err
	}
	remaining, err := s.gate.RemainingVerificationAttempts(ctx, id)
	if err != nil {
		return err
	}
	if remaining == 0 {
		f.task.Cancel()
		f.clearCode()
		if err := f.machine.TransitionTo(loginflow.StateLocked, loginflow.EventLocked, now); err != nil {
			return err
		}
		verificationsTotal.WithLabelValues("locked").Inc()
		s.logger.Warn("Проверка кода заблокирована", slog.String("email", id))
	} else {
		verificationsTotal.WithLabelValues("mismatch").Inc()
	}
	return &MismatchError{Remaining: remaining}
}

// CancelCode отменяет действующий код (пользователь закрыл окно ввода).
// Повторный вызов ничего не делает.
func (s *Service) CancelCode(email string) error {
	id := ratelimit.NormalizeIdentity(email)
	f, err := s.acquire(id)
	if err != nil {
		return err
	}
	defer s.release(id, f)

	if f.code == "" {
		return nil
	}
	f.task.Cancel()
	f.clearCode()
	if err := f.machine.TransitionTo(loginflow.StateIdle, loginflow.EventCodeCancelled, s.now()); err != nil {
		return err
	}
	s.logger.Info("Код отменён", slog.String("email", id))
	return nil
}

// State возвращает состояние входа идентичности.
// После подтверждения кода flow освобождается, и State снова idle.
func (s *Service) State(email string) loginflow.State {
	id := ratelimit.NormalizeIdentity(email)
	s.mu.Lock()
	f := s.flows[id]
	s.mu.Unlock()
	if f == nil {
		return loginflow.StateIdle
	}
	return f.machine.Current()
}

// Close отменяет все ожидающие задачи. После Close операции возвращают ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	flows := make([]*flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	s.mu.Unlock()

	for _, f := range flows {
		f.mu.Lock()
		f.task.Cancel()
		f.mu.Unlock()
	}
}

// expire срабатывает по истечении срока кода поколения gen.
func (s *Service) expire(id string, f *flow, gen uint64) {
	f.mu.Lock()
	if f.removed || f.gen != gen || f.code == "" {
		f.mu.Unlock()
		return
	}
	f.clearCode()
	_ = f.machine.TransitionTo(loginflow.StateIdle, loginflow.EventCodeExpired, s.now())
	codesExpiredTotal.Inc()
	s.logger.Info("Срок действия кода истёк", slog.String("email", id))
	s.release(id, f)
}

// drop снимает код поколения gen (ошибка доставки).
func (s *Service) drop(id string, gen uint64, event loginflow.Event) {
	f, err := s.acquire(id)
	if err != nil {
		return
	}
	defer s.release(id, f)
	if f.gen != gen || f.code == "" {
		return
	}
	f.task.Cancel()
	f.clearCode()
	_ = f.machine.TransitionTo(loginflow.StateIdle, event, s.now())
}

// acquire возвращает захваченный flow идентичности, создавая его при необходимости.
func (s *Service) acquire(id string) (*flow, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		f, ok := s.flows[id]
		if !ok {
			f = &flow{machine: loginflow.NewStateMachine()}
			s.flows[id] = f
		}
		s.mu.Unlock()

		f.mu.Lock()
		if !f.removed {
			return f, nil
		}
		f.mu.Unlock()
	}
}

// release освобождает flow. Flow без кода в состоянии idle или verified
// удаляется из карты: вход завершён, дальше идентичность ведёт сессия.
func (s *Service) release(id string, f *flow) {
	st := f.machine.Current()
	if f.code == "" && (st == loginflow.StateIdle || st == loginflow.StateVerified) {
		s.mu.Lock()
		if s.flows[id] == f {
			delete(s.flows, id)
		}
		s.mu.Unlock()
		f.removed = true
	}
	f.mu.Unlock()
}

func (f *flow) clearCode() {
	f.code = ""
	f.expiresAt = time.Time{}
	f.gen++
}
