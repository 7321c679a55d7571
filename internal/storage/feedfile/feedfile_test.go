package feedfile

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/gostorefront/internal/domain/model"
)

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	dir := t.TempDir()
	return NewPublisher(filepath.Join(dir, "public", "reviews.json"), filepath.Join(dir, "reviews-backup.json"))
}

// TestSnapshot_NoOutput проверяет, что без фида снимок не делается.
func TestSnapshot_NoOutput(t *testing.T) {
	p := newTestPublisher(t)

	taken, err := p.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() вернул ошибку: %v", err)
	}
	if taken {
		t.Error("снимок не должен делаться без опубликованного фида")
	}

	restored, err := p.Restore()
	if err != nil || restored {
		t.Errorf("Restore() = %v, %v; ожидалось false, nil", restored, err)
	}
}

// TestSnapshotRestore проверяет побайтовое восстановление фида.
func TestSnapshotRestore(t *testing.T) {
	p := newTestPublisher(t)

	original := []byte("{\n  \"metadata\": {}\n}")
	if err := os.MkdirAll(filepath.Dir(p.Output()), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.Output(), original, 0o644); err != nil {
		t.Fatal(err)
	}

	taken, err := p.Snapshot()
	if err != nil || !taken {
		t.Fatalf("Snapshot() = %v, %v", taken, err)
	}

	// Портим фид, как при частичной записи
	if err := os.WriteFile(p.Output(), []byte("{\"meta"), 0o644); err != nil {
		t.Fatal(err)
	}

	restored, err := p.Restore()
	if err != nil || !restored {
		t.Fatalf("Restore() = %v, %v", restored, err)
	}

	got, err := p.Read()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("фид после восстановления = %q, ожидалось %q", got, original)
	}
}

// TestRestore_StaleBackupIgnored проверяет, что старая резервная копия
// не публикуется, если в текущем цикле снимок не делался.
func TestRestore_StaleBackupIgnored(t *testing.T) {
	p := newTestPublisher(t)
	if err := os.WriteFile(p.Backup(), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Snapshot(); err != nil {
		t.Fatal(err)
	}
	restored, err := p.Restore()
	if err != nil || restored {
		t.Errorf("Restore() = %v, %v; ожидалось false, nil", restored, err)
	}
	if _, err := os.Stat(p.Output()); !os.IsNotExist(err) {
		t.Error("фид не должен появиться из устаревшей копии")
	}
}

// TestPublish_Format проверяет формат сериализации.
func TestPublish_Format(t *testing.T) {
	p := newTestPublisher(t)

	feed := model.NewFeed([]model.ReviewRecord{{
		ID:          "review-1",
		Author:      "a",
		Email:       "a@b.com",
		Rating:      5,
		Timestamp:   1000,
		Comment:     "Great!",
		CommentHTML: "<p>Great!</p>\n",
		Tags:        []string{},
		Metadata:    map[string]any{"filename": "review-1.md"},
	}}, time.UnixMilli(2000))

	if err := p.Publish(feed); err != nil {
		t.Fatalf("Publish() вернул ошибку: %v", err)
	}

	data, err := p.Read()
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	if !strings.Contains(text, "\"commentHtml\": \"<p>Great!</p>\\n\"") {
		t.Errorf("HTML не должен экранироваться: %s", text)
	}
	if !strings.Contains(text, "\"product_id\": null") {
		t.Errorf("отсутствующий product_id должен быть null: %s", text)
	}
	if strings.HasSuffix(text, "\n") {
		t.Error("фид не должен заканчиваться переводом строки")
	}
	if !strings.HasPrefix(text, "{\n  \"metadata\"") {
		t.Errorf("ожидался отступ в 2 пробела: %s", text[:20])
	}

	var decoded model.ReviewFeed
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("фид не разбирается: %v", err)
	}
	if decoded.Metadata.TotalReviews != 1 {
		t.Errorf("total_reviews = %d", decoded.Metadata.TotalReviews)
	}
}
