// Пакет reviews — сборка фида отзывов из markdown-корпуса.
//
// Цикл сборки: снимок опубликованного фида → разбор каждого *.md
// в порядке имён → проверка набора → запись фида → отчёт.
// Ошибка отдельного файла пропускает только этот файл; оценка вне 1–5
// или ошибка ввода-вывода прерывает сборку и возвращает фид к снимку.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/gostorefront/internal/domain/model"
	"github.com/bigkaa/gostorefront/internal/storage/feedfile"
)

// ErrInvalidRating — в наборе есть оценка вне диапазона 1–5.
// Фатальная ошибка: сборка прерывается, фид восстанавливается.
var ErrInvalidRating = errors.New("оценка вне диапазона 1-5")

// Допустимый диапазон оценки.
const (
	MinRating = 1
	MaxRating = 5
)

// FileError — ошибка разбора одного файла корпуса.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Stats — счётчики одного цикла сборки.
type Stats struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Warnings  int `json:"warnings"`
}

// Report — итог успешной сборки.
type Report struct {
	Stats
	TotalReviews  int
	AverageRating float64
	Output        string
	Duration      time.Duration
}

// Builder собирает фид из директории отзывов.
type Builder struct {
	// mu сериализует циклы сборки (режим watch)
	mu sync.Mutex

	reviewsDir string
	publisher  *feedfile.Publisher
	renderer   *Renderer
	logger     *slog.Logger
	now        func() time.Time

	stats Stats
}

// NewBuilder создаёт Builder для директории корпуса и публикатора фида.
func NewBuilder(reviewsDir string, publisher *feedfile.Publisher, logger *slog.Logger) *Builder {
	return &Builder{
		reviewsDir: reviewsDir,
		publisher:  publisher,
		renderer:   NewRenderer(),
		logger:     logger.With(slog.String("component", "review_builder")),
		now:        time.Now,
	}
}

// Stats возвращает счётчики последнего цикла сборки.
func (b *Builder) Stats() Stats {
	return b.stats
}

// Build выполняет полный цикл сборки.
func (b *Builder) Build(ctx context.Context) (*Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.now()
	b.stats = Stats{}

	b.logger.Info("Сборка фида отзывов начата",
		slog.String("reviews_dir", b.reviewsDir),
		slog.String("output", b.publisher.Output()),
	)

	taken, err := b.publisher.Snapshot()
	if err != nil {
		return nil, err
	}
	if taken {
		b.logger.Info("Резервная копия фида создана", slog.String("backup", b.publisher.Backup()))
	}

	feed, err := b.run(ctx)
	if err != nil {
		b.logger.Error("Сборка фида прервана", slog.String("error", err.Error()))
		return nil, b.restore(err)
	}

	report := &Report{
		Stats:         b.stats,
		TotalReviews:  feed.Metadata.TotalReviews,
		AverageRating: feed.Metadata.AverageRating,
		Output:        b.publisher.Output(),
		Duration:      b.now().Sub(start),
	}

	b.logger.Info("Сборка фида завершена",
		slog.Int("processed", report.Processed),
		slog.Int("errors", report.Errors),
		slog.Int("warnings", report.Warnings),
		slog.Int("total_reviews", report.TotalReviews),
		slog.Float64("average_rating", report.AverageRating),
	)
	return report, nil
}

// run выполняет шаги 2–4 цикла сборки.
func (b *Builder) run(ctx context.Context) (*model.ReviewFeed, error) {
	records, err := b.processAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.ValidateReviews(records); err != nil {
		return nil, err
	}
	return b.SaveReviews(records)
}

// restore возвращает фид к снимку и дополняет исходную ошибку
// ошибкой восстановления, если она произошла.
func (b *Builder) restore(cause error) error {
	restored, err := b.publisher.Restore()
	if err != nil {
		b.logger.Error("Не удалось восстановить фид из резервной копии",
			slog.String("backup", b.publisher.Backup()),
			slog.String("error", err.Error()),
		)
		return errors.Join(cause, err)
	}
	if restored {
		b.logger.Warn("Фид восстановлен из резервной копии", slog.String("backup", b.publisher.Backup()))
	}
	return cause
}

// processAll разбирает все *.md файлы директории в порядке имён.
func (b *Builder) processAll(ctx context.Context) ([]model.ReviewRecord, error) {
	entries, err := os.ReadDir(b.reviewsDir)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.Warn("Директория отзывов не найдена, фид будет пустым",
			slog.String("reviews_dir", b.reviewsDir),
		)
		return []model.ReviewRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории отзывов %s: %w", b.reviewsDir, err)
	}

	// os.ReadDir возвращает записи, отсортированные по имени
	records := make([]model.ReviewRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("сборка отменена: %w", err)
		}

		record, err := b.ProcessFile(entry.Name())
		var fileErr *FileError
		if errors.As(err, &fileErr) {
			b.stats.Errors++
			b.logger.Error("Отзыв пропущен",
				slog.String("file", fileErr.File),
				slog.String("error", fileErr.Err.Error()),
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		records = append(records, *record)
		b.stats.Processed++
	}
	return records, nil
}

// ProcessFile разбирает один файл корпуса в ReviewRecord.
// Ошибки содержимого возвращаются как *FileError, ошибки чтения — как есть.
func (b *Builder) ProcessFile(name string) (*model.ReviewRecord, error) {
	data, err := os.ReadFile(filepath.Join(b.reviewsDir, name))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", name, err)
	}

	src, err := ParseSource(data)
	if err != nil {
		return nil, &FileError{File: name, Err: err}
	}

	html, err := b.renderer.Render(src.Body)
	if err != nil {
		return nil, &FileError{File: name, Err: err}
	}

	return NewRecord(name, src, html, b.now()), nil
}

// NewRecord собирает ReviewRecord из разобранного файла.
// Метаданные front-matter перекрывают filename и processed_at.
func NewRecord(filename string, src *Source, html string, processedAt time.Time) *model.ReviewRecord {
	metadata := map[string]any{
		"filename":     filename,
		"processed_at": processedAt.UTC().Format(model.ISOMillis),
	}
	for k, v := range src.Metadata {
		metadata[k] = v
	}

	return &model.ReviewRecord{
		ID:          strings.TrimSuffix(filepath.Base(filename), ".md"),
		Author:      src.Author(),
		Email:       src.Email,
		Rating:      src.Rating,
		Timestamp:   src.Timestamp,
		Comment:     src.Body,
		CommentHTML: html,
		ProductID:   optional(src.ProductID),
		Verified:    src.Verified,
		Location:    optional(src.Location),
		Tags:        src.Tags,
		Metadata:    metadata,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ValidateReviews проверяет набор целиком. Повторяющиеся timestamp дают
// предупреждение, оценка вне 1–5 — ErrInvalidRating.
func (b *Builder) ValidateReviews(records []model.ReviewRecord) error {
	if dup := countDuplicateTimestamps(records); dup > 0 {
		b.stats.Warnings++
		b.logger.Warn("Найдены отзывы с одинаковым timestamp", slog.Int("duplicates", dup))
	}

	var invalid []string
	for i := range records {
		if records[i].Rating < MinRating || records[i].Rating > MaxRating {
			invalid = append(invalid, fmt.Sprintf("%s=%d", records[i].ID, records[i].Rating))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %d отзывов (%s)", ErrInvalidRating, len(invalid), strings.Join(invalid, ", "))
	}
	return nil
}

// countDuplicateTimestamps возвращает число записей, чей timestamp
// уже встречался раньше в наборе.
func countDuplicateTimestamps(records []model.ReviewRecord) int {
	seen := make(map[int64]struct{}, len(records))
	dup := 0
	for i := range records {
		if _, ok := seen[records[i].Timestamp]; ok {
			dup++
			continue
		}
		seen[records[i].Timestamp] = struct{}{}
	}
	return dup
}

// SaveReviews сортирует записи, рассчитывает метаданные и публикует фид.
func (b *Builder) SaveReviews(records []model.ReviewRecord) (*model.ReviewFeed, error) {
	feed := model.NewFeed(records, b.now())
	if err := b.publisher.Publish(feed); err != nil {
		return nil, fmt.Errorf("ошибка записи фида: %w", err)
	}
	b.logger.Info("Фид записан",
		slog.String("output", b.publisher.Output()),
		slog.Int("total_reviews", feed.Metadata.TotalReviews),
	)
	return feed, nil
}
