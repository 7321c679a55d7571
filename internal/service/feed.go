// Пакет service — прикладные сервисы storefront.
// FeedService — чтение опубликованного фида отзывов с кэшем и повторными попытками.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/gostorefront/internal/domain/model"
)

// ErrFeedFormat — содержимое фида не является ни массивом, ни объектом {metadata, reviews}.
var ErrFeedFormat = errors.New("неизвестный формат фида")

// Prometheus-метрики кэша фида.
var (
	feedCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_feed_cache_hits_total",
		Help: "Общее количество попаданий в кэш фида отзывов.",
	})
	feedCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_feed_cache_misses_total",
		Help: "Общее количество промахов кэша фида отзывов.",
	})
	feedStaleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sf_feed_stale_total",
		Help: "Количество ответов последней удачной копией фида после ошибки чтения.",
	})
)

const feedCacheKey = "feed"

// FeedOptions — параметры FeedService.
type FeedOptions struct {
	// CacheTTL — время жизни фида в кэше
	CacheTTL time.Duration
	// Retries — число повторных попыток чтения
	Retries int
	// RetryInterval — начальный интервал между попытками
	RetryInterval time.Duration
	// Now — источник времени (для тестов)
	Now func() time.Time
}

// FeedService отдаёт фид, собранный review-build.
type FeedService struct {
	path  string
	opts  FeedOptions
	cache *expirable.LRU[string, *model.ReviewFeed]

	mu       sync.Mutex
	lastGood *model.ReviewFeed

	logger *slog.Logger
}

// NewFeedService создаёт сервис чтения фида по пути path.
func NewFeedService(path string, opts FeedOptions, logger *slog.Logger) *FeedService {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 100 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &FeedService{
		path:   path,
		opts:   opts,
		cache:  expirable.NewLRU[string, *model.ReviewFeed](1, nil, opts.CacheTTL),
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Get возвращает фид. stale=true означает, что свежее чтение не удалось
// и отдана последняя удачная копия. Отсутствующий файл — пустой фид.
func (s *FeedService) Get(ctx context.Context) (feed *model.ReviewFeed, stale bool, err error) {
	if cached, ok := s.cache.Get(feedCacheKey); ok {
		feedCacheHitsTotal.Inc()
		return cached, false, nil
	}
	feedCacheMissesTotal.Inc()

	feed, err = s.read(ctx)
	if err != nil {
		s.mu.Lock()
		last := s.lastGood
		s.mu.Unlock()
		if last != nil {
			feedStaleTotal.Inc()
			s.logger.Warn("Чтение фида не удалось, отдана последняя удачная копия",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
			return last, true, nil
		}
		return nil, false, err
	}

	s.mu.Lock()
	s.lastGood = feed
	s.mu.Unlock()
	s.cache.Add(feedCacheKey, feed)
	return feed, false, nil
}

// Invalidate сбрасывает кэш, следующий Get перечитает файл.
func (s *FeedService) Invalidate() {
	s.cache.Purge()
}

// read читает и нормализует файл с экспоненциальными повторами.
// Ошибки формата и отсутствие файла не повторяются.
func (s *FeedService) read(ctx context.Context) (*model.ReviewFeed, error) {
	var feed *model.ReviewFeed

	op := func() error {
		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			feed = model.NewFeed(nil, s.opts.Now())
			return nil
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения фида %s: %w", s.path, err)
		}
		feed, err = Normalize(data, s.opts.Now())
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.Retries)), ctx)

	notify := func(err error, wait time.Duration) {
		s.logger.Debug("Повтор чтения фида",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return feed, nil
}

// Normalize приводит содержимое фида к версионированной форме
// {metadata, reviews}. Голый массив отзывов (устаревший формат)
// оборачивается с пересчётом метаданных на момент now.
func Normalize(data []byte, now time.Time) (*model.ReviewFeed, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: пустой файл", ErrFeedFormat)
	}

	switch data[0] {
	case '[':
		var records []model.ReviewRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFeedFormat, err)
		}
		return model.NewFeed(records, now), nil
	case '{':
		var feed model.ReviewFeed
		if err := json.Unmarshal(data, &feed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFeedFormat, err)
		}
		if feed.Reviews == nil {
			feed.Reviews = []model.ReviewRecord{}
		}
		if feed.Metadata.SchemaVersion == 0 {
			feed.Metadata.SchemaVersion = model.FeedSchemaVersion
		}
		return &feed, nil
	default:
		return nil, ErrFeedFormat
	}
}
