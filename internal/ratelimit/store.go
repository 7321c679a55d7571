package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bigkaa/gostorefront/internal/storage/atomicfile"
)

// Kind — семейство счётчиков.
type Kind string

const (
	// KindGeneration — генерация OTP.
	KindGeneration Kind = "otp_generation"
	// KindVerification — неудачные проверки OTP.
	KindVerification Kind = "otp_verification"
	// KindReview — публикация отзывов.
	KindReview Kind = "review_submission"
)

// Store — хранилище моментов попыток.
// Load для неизвестной идентичности возвращает пустой срез без ошибки.
// Save с пустым срезом удаляет запись.
type Store interface {
	Load(ctx context.Context, kind Kind, identity string) ([]time.Time, error)
	Save(ctx context.Context, kind Kind, identity string, attempts []time.Time) error
}

type storeKey struct {
	kind     Kind
	identity string
}

// MemoryStore — хранилище в памяти процесса. Данные теряются при рестарте.
type MemoryStore struct {
	mu   sync.Mutex
	data map[storeKey][]time.Time
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[storeKey][]time.Time)}
}

// Load возвращает копию сохранённых попыток.
func (s *MemoryStore) Load(_ context.Context, kind Kind, identity string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.data[storeKey{kind, identity}]...), nil
}

// Save заменяет попытки идентичности.
func (s *MemoryStore) Save(_ context.Context, kind Kind, identity string, attempts []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey{kind, identity}
	if len(attempts) == 0 {
		delete(s.data, key)
		return nil
	}
	s.data[key] = append([]time.Time(nil), attempts...)
	return nil
}

// fileDocument — формат файла FileStore.
// {"otp_generation": {"a@b.com": [1700000000000, ...]}, ...}
type fileDocument map[Kind]map[string][]int64

// FileStore — долговременное хранилище в JSON-файле.
// Каждое сохранение атомарно перезаписывает файл целиком.
type FileStore struct {
	mu   sync.Mutex
	path string
	doc  fileDocument
}

// NewFileStore открывает хранилище. Отсутствующий файл — пустое хранилище.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, doc: make(fileDocument)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла попыток %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла попыток %s: %w", path, err)
	}
	return s, nil
}

// Path возвращает путь к файлу хранилища.
func (s *FileStore) Path() string {
	return s.path
}

// Load возвращает сохранённые попытки.
func (s *FileStore) Load(_ context.Context, kind Kind, identity string) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	millis := s.doc[kind][identity]
	attempts := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		attempts = append(attempts, time.UnixMilli(ms).UTC())
	}
	return attempts, nil
}

// Save обновляет попытки и сбрасывает документ на диск.
// При ошибке записи состояние в памяти не меняется.
func (s *FileStore) Save(_ context.Context, kind Kind, identity string, attempts []time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(fileDocument, len(s.doc)+1)
	for k, byID := range s.doc {
		next[k] = byID
	}
	byID := make(map[string][]int64, len(s.doc[kind])+1)
	for id, ms := range s.doc[kind] {
		byID[id] = ms
	}
	if len(attempts) == 0 {
		delete(byID, identity)
	} else {
		millis := make([]int64, len(attempts))
		for i, t := range attempts {
			millis[i] = t.UnixMilli()
		}
		byID[identity] = millis
	}
	if len(byID) == 0 {
		delete(next, kind)
	} else {
		next[kind] = byID
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации попыток: %w", err)
	}
	if err := atomicfile.Write(s.path, data); err != nil {
		return fmt.Errorf("ошибка сохранения попыток: %w", err)
	}
	s.doc = next
	return nil
}
