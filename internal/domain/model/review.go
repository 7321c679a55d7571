// Пакет model — доменные модели storefront.
// ReviewRecord и ReviewFeed описывают формат публикуемого фида
// public/reviews.json, который формирует review-build и читает storefront.
package model

import (
	"math"
	"sort"
	"time"
)

// FeedSchemaVersion — версия формата фида {metadata, reviews}.
const FeedSchemaVersion = 1

// ReviewRecord — отзыв, полученный из одного markdown-файла корпуса.
// Порядок полей совпадает с порядком ключей в JSON фида.
type ReviewRecord struct {
	// ID — slug имени файла без расширения .md
	ID string `json:"id"`

	// Author — локальная часть email (до @)
	Author string `json:"author"`

	Email     string `json:"email"`
	Rating    int    `json:"rating"`
	Timestamp int64  `json:"timestamp"`

	// Comment — тело markdown без front-matter, обрезанное по краям
	Comment string `json:"comment"`

	// CommentHTML — тело, отрендеренное в HTML
	CommentHTML string `json:"commentHtml"`

	// ProductID и Location — null, если не заданы во front-matter
	ProductID *string `json:"product_id"`
	Verified  bool    `json:"verified"`
	Location  *string `json:"location"`

	// Tags — всегда массив (пустой, если теги не заданы)
	Tags []string `json:"tags"`

	// Metadata — filename, processed_at и метаданные из front-matter
	Metadata map[string]any `json:"metadata"`
}

// FeedMetadata — сводка по фиду.
type FeedMetadata struct {
	SchemaVersion int     `json:"schema_version"`
	TotalReviews  int     `json:"total_reviews"`
	AverageRating float64 `json:"average_rating"`
	// GeneratedAt — ISO-8601 в UTC с миллисекундами
	GeneratedAt string `json:"generated_at"`
	// LastUpdate — epoch-millis момента генерации
	LastUpdate int64 `json:"last_update"`
}

// ReviewFeed — публикуемый агрегат отзывов.
type ReviewFeed struct {
	Metadata FeedMetadata   `json:"metadata"`
	Reviews  []ReviewRecord `json:"reviews"`
}

// ISOMillis — формат generated_at и processed_at.
const ISOMillis = "2006-01-02T15:04:05.000Z"

// NewFeed сортирует отзывы по timestamp (новые первыми) и рассчитывает
// метаданные. Сортировка стабильная: при равных timestamp сохраняется
// исходный порядок. Срез reviews переупорядочивается на месте.
func NewFeed(reviews []ReviewRecord, now time.Time) *ReviewFeed {
	if reviews == nil {
		reviews = []ReviewRecord{}
	}

	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].Timestamp > reviews[j].Timestamp
	})

	return &ReviewFeed{
		Metadata: FeedMetadata{
			SchemaVersion: FeedSchemaVersion,
			TotalReviews:  len(reviews),
			AverageRating: AverageRating(reviews),
			GeneratedAt:   now.UTC().Format(ISOMillis),
			LastUpdate:    now.UnixMilli(),
		},
		Reviews: reviews,
	}
}

// AverageRating возвращает среднюю оценку, округлённую до одного знака.
// Для пустого набора — 0.
func AverageRating(reviews []ReviewRecord) float64 {
	if len(reviews) == 0 {
		return 0
	}
	var sum int
	for i := range reviews {
		sum += reviews[i].Rating
	}
	avg := float64(sum) / float64(len(reviews))
	return math.Round(avg*10) / 10
}
