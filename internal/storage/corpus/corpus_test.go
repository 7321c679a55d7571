package corpus

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/bigkaa/gostorefront/internal/reviews"
)

var namePattern = regexp.MustCompile(`^review-1700000000123-[0-9a-f]{8}\.md$`)

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reviews")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() вернул ошибку: %v", err)
	}

	sub := reviews.Submission{
		Email:     "maria@example.com",
		Rating:    5,
		Comment:   "Ótimo **produto**",
		Submitted: time.UnixMilli(1_700_000_000_123),
	}
	res, err := s.Save(sub)
	if err != nil {
		t.Fatalf("Save() вернул ошибку: %v", err)
	}
	if !namePattern.MatchString(res.Name) {
		t.Errorf("Name = %q не соответствует формату", res.Name)
	}
	if res.ID+".md" != res.Name || res.FullPath != filepath.Join(dir, res.Name) {
		t.Errorf("результат = %+v", res)
	}
	if len(res.Checksum) != 64 {
		t.Errorf("Checksum = %q", res.Checksum)
	}

	data, err := os.ReadFile(res.FullPath)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(data)) != res.Size {
		t.Errorf("Size = %d, файл %d байт", res.Size, len(data))
	}

	// Записанный файл собирается в запись фида
	src, err := reviews.ParseSource(data)
	if err != nil {
		t.Fatalf("ParseSource() вернул ошибку: %v", err)
	}
	if src.Email != "maria@example.com" || src.Rating != 5 || src.Timestamp != 1_700_000_000_123 {
		t.Errorf("разобранный источник = %+v", src)
	}

	// Повторная запись не перезаписывает первую
	res2, err := s.Save(sub)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Name == res.Name {
		t.Error("имена файлов совпали")
	}
}

func TestNew_InvalidDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(filepath.Join(file, "reviews")); err == nil {
		t.Error("ожидалась ошибка создания директории внутри файла")
	}
}
