// Пакет session — сессии пользователей с выходом по неактивности.
//
// Каждая сессия держит отменяемую задачу schedule.Task с дедлайном
// lastActivityAt + duration. Отслеживаемая активность (Touch) переносит
// дедлайн. Истечение — это выход с причиной expired; слушатели OnEnd
// уведомляются ровно один раз. Профиль пользователя при выходе сохраняется.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gostorefront/internal/domain/model"
	"github.com/bigkaa/gostorefront/internal/ratelimit"
	"github.com/bigkaa/gostorefront/internal/repository"
	"github.com/bigkaa/gostorefront/internal/schedule"
)

// Ошибки сессий.
var (
	// ErrSessionNotFound — сессия не существует или завершена.
	ErrSessionNotFound = errors.New("сессия не найдена")
	// ErrClosed — менеджер остановлен.
	ErrClosed = errors.New("менеджер сессий остановлен")
)

// Prometheus-метрики сессий.
var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sf_sessions_active",
		Help: "Количество активных сессий.",
	})

	sessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sf_sessions_ended_total",
		Help: "Количество завершённых сессий (по причине).",
	}, []string{"reason"})
)

// EndReason — причина завершения сессии.
type EndReason string

const (
	// ReasonLogout — явный выход.
	ReasonLogout EndReason = "logout"
	// ReasonExpired — истёк срок неактивности.
	ReasonExpired EndReason = "expired"
	// ReasonShutdown — остановка сервиса.
	ReasonShutdown EndReason = "shutdown"
)

// Session — снимок состояния сессии.
type Session struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Deadline       time.Time `json:"deadline"`
}

// EndFunc вызывается при завершении сессии.
type EndFunc func(s Session, reason EndReason)

type entry struct {
	sess      Session
	task      *schedule.Task
	listeners []EndFunc
	gen       uint64
}

// Manager — менеджер сессий процесса.
type Manager struct {
	duration time.Duration
	profiles ProfileStore
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewManager создаёт менеджер. now == nil означает time.Now.
func NewManager(duration time.Duration, profiles ProfileStore, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		duration: duration,
		profiles: profiles,
		now:      now,
		logger:   logger.With(slog.String("component", "session")),
		sessions: make(map[string]*entry),
	}
}

// Duration возвращает срок неактивности.
func (m *Manager) Duration() time.Duration {
	return m.duration
}

// Start открывает сессию и обновляет профиль пользователя.
func (m *Manager) Start(ctx context.Context, email string) (Session, error) {
	email = ratelimit.NormalizeIdentity(email)
	now := m.now()

	if _, err := m.profiles.RecordLogin(ctx, email, now); err != nil {
		return Session{}, fmt.Errorf("ошибка обновления профиля: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Session{}, ErrClosed
	}

	id := uuid.NewString()
	e := &entry{sess: Session{
		ID:             id,
		Email:          email,
		StartedAt:      now,
		LastActivityAt: now,
		Deadline:       now.Add(m.duration),
	}}
	m.schedule(id, e)
	m.sessions[id] = e
	sessionsActive.Inc()

	m.logger.Info("Сессия открыта",
		slog.String("session_id", id),
		slog.String("email", email),
		slog.Time("deadline", e.sess.Deadline),
	)
	return e.sess, nil
}

// Touch фиксирует активность и переносит дедлайн.
func (m *Manager) Touch(id string) (Session, error) {
	now := m.now()

	e, err := m.acquire(id, now)
	if err != nil {
		return Session{}, err
	}
	e.task.Cancel()
	e.sess.LastActivityAt = now
	e.sess.Deadline = now.Add(m.duration)
	m.schedule(id, e)
	sess := e.sess
	m.mu.Unlock()
	return sess, nil
}

// Get возвращает сессию без фиксации активности.
func (m *Manager) Get(id string) (Session, error) {
	e, err := m.acquire(id, m.now())
	if err != nil {
		return Session{}, err
	}
	sess := e.sess
	m.mu.Unlock()
	return sess, nil
}

// OnEnd регистрирует слушателя завершения сессии.
// Слушатели снимаются при завершении.
func (m *Manager) OnEnd(id string, fn EndFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	e.listeners = append(e.listeners, fn)
	return nil
}

// Logout завершает сессию. Возвращает false, если сессии уже нет.
func (m *Manager) Logout(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.end(id, e, ReasonLogout)
	return true
}

// Profile возвращает долговременный профиль пользователя.
func (m *Manager) Profile(ctx context.Context, email string) (*model.UserProfile, error) {
	p, err := m.profiles.Get(ctx, ratelimit.NormalizeIdentity(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// Active возвращает число активных сессий.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close отменяет все таймеры и завершает сессии с причиной shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.mu.Lock()
		if e, ok := m.sessions[id]; ok {
			m.end(id, e, ReasonShutdown)
			continue
		}
		m.mu.Unlock()
	}
}

// acquire захватывает m.mu и возвращает сессию. При ошибке m.mu освобождён.
// Сессия с прошедшим дедлайном завершается, не дожидаясь таймера.
func (m *Manager) acquire(id string, now time.Time) (*entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if !now.Before(e.sess.Deadline) {
		m.end(id, e, ReasonExpired)
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// schedule вызывается под m.mu.
func (m *Manager) schedule(id string, e *entry) {
	e.gen++
	gen := e.gen
	e.task = schedule.After(e.sess.Deadline.Sub(m.now()), func() { m.expire(id, gen) })
}

func (m *Manager) expire(id string, gen uint64) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		return
	}
	m.end(id, e, ReasonExpired)
}

// end вызывается под m.mu и освобождает его до вызова слушателей.
func (m *Manager) end(id string, e *entry, reason EndReason) {
	e.task.Cancel()
	delete(m.sessions, id)
	listeners := e.listeners
	e.listeners = nil
	sess := e.sess
	m.mu.Unlock()

	sessionsActive.Dec()
	sessionsEndedTotal.WithLabelValues(string(reason)).Inc()
	m.logger.Info("Сессия завершена",
		slog.String("session_id", id),
		slog.String("email", sess.Email),
		slog.String("reason", string(reason)),
	)

	for _, fn := range listeners {
		fn(sess, reason)
	}
}
