// Пакет atomicfile — полная замена файлов на диске без промежуточных
// состояний. Запись всегда идёт через временный файл в той же
// директории: temp → fsync → rename → fsync директории. Читатель видит
// либо старое, либо новое содержимое целиком.
package atomicfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Write атомарно заменяет содержимое path на data.
// Недостающие директории создаются с правами 0o750.
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи %s: %w", path, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// CreateTemp создаёт файл с правами 0o600
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка установки прав: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// Без fsync директории rename может потеряться при сбое питания
	return syncDir(dir)
}

// syncDir сбрасывает на диск запись директории dir.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("ошибка открытия директории %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync директории %s: %w", dir, err)
	}
	return nil
}

// Copy атомарно копирует src в dst.
func Copy(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", src, err)
	}
	return Write(dst, data)
}

// Exists сообщает, существует ли обычный файл path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s является директорией", path)
	}
	return true, nil
}
