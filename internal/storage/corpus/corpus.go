// Пакет corpus — запись присланных отзывов в markdown-корпус.
// Каждый отзыв — отдельный файл review-{timestamp}-{uuid8}.md,
// который затем подхватывает review-build.
package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bigkaa/gostorefront/internal/reviews"
	"github.com/bigkaa/gostorefront/internal/storage/atomicfile"
)

// Store — директория корпуса отзывов.
type Store struct {
	dir string
}

// SaveResult — результат записи отзыва.
type SaveResult struct {
	// Name — имя файла в корпусе
	Name string
	// ID — идентификатор отзыва в фиде (имя без .md)
	ID string
	// FullPath — путь к файлу на диске
	FullPath string
	// Size — размер файла в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт Store, при необходимости создавая директорию.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию корпуса %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir возвращает путь к директории корпуса.
func (s *Store) Dir() string {
	return s.dir
}

// Save сериализует отзыв и атомарно записывает его в корпус.
func (s *Store) Save(sub reviews.Submission) (*SaveResult, error) {
	data, err := reviews.EncodeSource(sub)
	if err != nil {
		return nil, err
	}

	id := generateID(sub)
	name := id + ".md"
	fullPath := filepath.Join(s.dir, name)
	if err := atomicfile.Write(fullPath, data); err != nil {
		return nil, fmt.Errorf("ошибка записи отзыва %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	return &SaveResult{
		Name:     name,
		ID:       id,
		FullPath: fullPath,
		Size:     int64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// generateID — review-{unix ms}-{первые 8 символов uuid}.
func generateID(sub reviews.Submission) string {
	return fmt.Sprintf("review-%d-%s", sub.Submitted.UnixMilli(), uuid.New().String()[:8])
}
