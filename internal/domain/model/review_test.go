package model

import (
	"testing"
	"time"
)

// TestNewFeed_SortedDescending проверяет порядок отзывов (новые первыми).
func TestNewFeed_SortedDescending(t *testing.T) {
	reviews := []ReviewRecord{
		{ID: "a", Timestamp: 1000, Rating: 5},
		{ID: "b", Timestamp: 3000, Rating: 4},
		{ID: "c", Timestamp: 2000, Rating: 3},
		{ID: "d", Timestamp: 2000, Rating: 2},
	}

	feed := NewFeed(reviews, time.UnixMilli(5000))

	for i := 1; i < len(feed.Reviews); i++ {
		if feed.Reviews[i-1].Timestamp < feed.Reviews[i].Timestamp {
			t.Fatalf("нарушен порядок на позиции %d: %d < %d",
				i, feed.Reviews[i-1].Timestamp, feed.Reviews[i].Timestamp)
		}
	}
	if feed.Reviews[0].ID != "b" {
		t.Errorf("первым ожидался b, получен %s", feed.Reviews[0].ID)
	}
	// Стабильная сортировка: c остаётся перед d
	if feed.Reviews[1].ID != "c" || feed.Reviews[2].ID != "d" {
		t.Errorf("ожидался порядок c, d для равных timestamp, получен %s, %s",
			feed.Reviews[1].ID, feed.Reviews[2].ID)
	}
}

// TestNewFeed_Metadata проверяет метаданные фида.
func TestNewFeed_Metadata(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 123_000_000, time.UTC)
	feed := NewFeed([]ReviewRecord{{Rating: 5}, {Rating: 4}, {Rating: 4}}, now)

	if feed.Metadata.TotalReviews != 3 {
		t.Errorf("TotalReviews = %d, ожидалось 3", feed.Metadata.TotalReviews)
	}
	if feed.Metadata.AverageRating != 4.3 {
		t.Errorf("AverageRating = %v, ожидалось 4.3", feed.Metadata.AverageRating)
	}
	if feed.Metadata.GeneratedAt != "2024-05-01T12:30:00.123Z" {
		t.Errorf("GeneratedAt = %q", feed.Metadata.GeneratedAt)
	}
	if feed.Metadata.LastUpdate != now.UnixMilli() {
		t.Errorf("LastUpdate = %d, ожидалось %d", feed.Metadata.LastUpdate, now.UnixMilli())
	}
	if feed.Metadata.SchemaVersion != FeedSchemaVersion {
		t.Errorf("SchemaVersion = %d", feed.Metadata.SchemaVersion)
	}
}

// TestAverageRating проверяет среднее и округление.
func TestAverageRating(t *testing.T) {
	tests := []struct {
		name    string
		ratings []int
		want    float64
	}{
		{"пустой набор", nil, 0},
		{"один отзыв", []int{3}, 3},
		{"округление вверх", []int{5, 5, 4}, 4.7},
		{"округление вниз", []int{1, 2, 1}, 1.3},
		{"целое", []int{2, 4}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reviews := make([]ReviewRecord, len(tt.ratings))
			for i, r := range tt.ratings {
				reviews[i].Rating = r
			}
			if got := AverageRating(reviews); got != tt.want {
				t.Errorf("AverageRating() = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}

// TestNewFeed_Empty проверяет пустой фид: reviews — пустой массив, не nil.
func TestNewFeed_Empty(t *testing.T) {
	feed := NewFeed(nil, time.Now())
	if feed.Reviews == nil {
		t.Error("Reviews не должен быть nil")
	}
	if feed.Metadata.AverageRating != 0 || feed.Metadata.TotalReviews != 0 {
		t.Errorf("ожидались нулевые метаданные, получено %+v", feed.Metadata)
	}
}
