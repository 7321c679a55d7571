// Пакет feedfile — публикация JSON-фида отзывов со снимком предыдущей
// версии. Снимок снимается перед сборкой и восстанавливается при её
// провале, поэтому опубликованный фид всегда равен либо новой, либо
// последней удачной версии.
package feedfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/bigkaa/gostorefront/internal/domain/model"
	"github.com/bigkaa/gostorefront/internal/storage/atomicfile"
)

// Publisher управляет опубликованным фидом и его резервной копией.
// Конкурентные сборки с одними и теми же путями не поддерживаются.
type Publisher struct {
	output string
	backup string

	// snapshotTaken — снимок сделан в текущем цикле сборки
	snapshotTaken bool
}

// NewPublisher создаёт Publisher для пары путей (фид, резервная копия).
func NewPublisher(output, backup string) *Publisher {
	return &Publisher{output: output, backup: backup}
}

// Output возвращает путь опубликованного фида.
func (p *Publisher) Output() string { return p.output }

// Backup возвращает путь резервной копии.
func (p *Publisher) Backup() string { return p.backup }

// Snapshot копирует текущий фид в резервную копию, если фид существует.
// Возвращает true, если снимок был сделан.
func (p *Publisher) Snapshot() (bool, error) {
	p.snapshotTaken = false

	ok, err := atomicfile.Exists(p.output)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := atomicfile.Copy(p.output, p.backup); err != nil {
		return false, fmt.Errorf("ошибка создания резервной копии: %w", err)
	}
	p.snapshotTaken = true
	return true, nil
}

// Restore возвращает фид к снимку, сделанному последним вызовом Snapshot.
// Если снимок в этом цикле не делался, ничего не меняет и возвращает false.
func (p *Publisher) Restore() (bool, error) {
	if !p.snapshotTaken {
		return false, nil
	}
	if err := atomicfile.Copy(p.backup, p.output); err != nil {
		return false, fmt.Errorf("ошибка восстановления из резервной копии: %w", err)
	}
	return true, nil
}

// Publish сериализует фид (отступ 2 пробела, без экранирования HTML)
// и атомарно заменяет опубликованный файл.
func (p *Publisher) Publish(feed *model.ReviewFeed) error {
	data, err := Encode(feed)
	if err != nil {
		return err
	}
	return atomicfile.Write(p.output, data)
}

// Encode возвращает форматированный JSON фида.
func Encode(feed *model.ReviewFeed) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(feed); err != nil {
		return nil, fmt.Errorf("ошибка сериализации фида: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Read читает опубликованный фид как есть.
func (p *Publisher) Read() ([]byte, error) {
	data, err := os.ReadFile(p.output)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения фида %s: %w", p.output, err)
	}
	return data, nil
}
