package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bigkaa/gostorefront/internal/domain/model"
)

// ErrProfileNotFound — профиль не найден.
var ErrProfileNotFound = errors.New("профиль не найден")

// ProfileStore — долговременное хранилище профилей.
// Реализуется MemoryProfileStore и repository.ProfileRepository.
type ProfileStore interface {
	RecordLogin(ctx context.Context, email string, at time.Time) (*model.UserProfile, error)
	Get(ctx context.Context, email string) (*model.UserProfile, error)
}

// MemoryProfileStore — профили в памяти процесса.
type MemoryProfileStore struct {
	mu       sync.Mutex
	profiles map[string]model.UserProfile
}

// NewMemoryProfileStore создаёт пустое хранилище профилей.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]model.UserProfile)}
}

// RecordLogin создаёт профиль или отмечает повторный вход.
func (s *MemoryProfileStore) RecordLogin(_ context.Context, email string, at time.Time) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[email]
	if !ok {
		p = model.UserProfile{Email: email, FirstLoginAt: at}
	}
	p.LastLoginAt = at
	p.LoginCount++
	s.profiles[email] = p
	return &p, nil
}

// Get возвращает копию профиля.
func (s *MemoryProfileStore) Get(_ context.Context, email string) (*model.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[email]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}
