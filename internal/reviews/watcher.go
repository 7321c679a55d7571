package reviews

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// BuildFunc получает результат каждой пересборки в режиме watch.
type BuildFunc func(report *Report, err error)

// Watcher пересобирает фид при изменении *.md файлов корпуса.
// Серия событий в пределах окна debounce даёт одну пересборку.
// Ошибка сборки логируется, наблюдение продолжается.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	builder  *Builder
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	onBuild  BuildFunc

	pending   bool
	lastEvent time.Time
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatcher создаёт Watcher для директории корпуса.
// onBuild может быть nil.
func NewWatcher(builder *Builder, dir string, debounce time.Duration, onBuild BuildFunc, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		watcher:  fw,
		builder:  builder,
		dir:      dir,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "review_watcher")),
		onBuild:  onBuild,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start начинает наблюдение. Неблокирующий: цикл событий работает
// в отдельной горутине до Stop или отмены ctx.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("ошибка подписки на %s: %w", w.dir, err)
	}

	w.logger.Info("Наблюдение за корпусом отзывов запущено",
		slog.String("reviews_dir", w.dir),
		slog.Duration("debounce", w.debounce),
	)

	go w.run(ctx)
	return nil
}

// Stop останавливает наблюдение и дожидается завершения цикла событий.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Ошибка закрытия fsnotify watcher", slog.String("error", err.Error()))
	}
	w.logger.Info("Наблюдение за корпусом отзывов остановлено")
}

// Done закрывается после выхода из цикла событий.
func (w *Watcher) Done() <-chan struct{} {
	return w.doneCh
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Ошибка fsnotify", slog.String("error", err.Error()))
		case <-ticker.C:
			if w.settled() {
				w.rebuild(ctx)
			}
		}
	}
}

// handleEvent отмечает изменение *.md файла.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.logger.Debug("Изменение в корпусе отзывов",
		slog.String("file", event.Name),
		slog.String("op", event.Op.String()),
	)

	w.mu.Lock()
	w.pending = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// settled сообщает, что изменения накоплены и окно debounce истекло.
func (w *Watcher) settled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pending || time.Since(w.lastEvent) < w.debounce {
		return false
	}
	w.pending = false
	return true
}

func (w *Watcher) rebuild(ctx context.Context) {
	report, err := w.builder.Build(ctx)
	if err != nil {
		w.logger.Error("Пересборка фида не удалась, опубликована предыдущая версия",
			slog.String("error", err.Error()),
		)
	}
	if w.onBuild != nil {
		w.onBuild(report, err)
	}
}
