package reviews

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// TestParseSource_Full проверяет разбор всех полей front-matter.
func TestParseSource_Full(t *testing.T) {
	data := []byte(`---
email: maria@example.com
rating: 4
timestamp: 1700000000000
product_id: cafe-01
verified: true
location: São Paulo
tags:
  - café
  - entrega
metadata:
  source: github
  order: 42
---

Muito bom!
`)

	src, err := ParseSource(data)
	if err != nil {
		t.Fatalf("ParseSource() вернул ошибку: %v", err)
	}

	if src.Email != "maria@example.com" || src.Author() != "maria" {
		t.Errorf("email/author = %q/%q", src.Email, src.Author())
	}
	if src.Rating != 4 || src.Timestamp != 1700000000000 {
		t.Errorf("rating/timestamp = %d/%d", src.Rating, src.Timestamp)
	}
	if src.ProductID != "cafe-01" || src.Location != "São Paulo" || !src.Verified {
		t.Errorf("необязательные поля разобраны неверно: %+v", src)
	}
	if !reflect.DeepEqual(src.Tags, []string{"café", "entrega"}) {
		t.Errorf("tags = %v", src.Tags)
	}
	if src.Metadata["source"] != "github" || src.Metadata["order"] != 42 {
		t.Errorf("metadata = %v", src.Metadata)
	}
	if src.Body != "Muito bom!" {
		t.Errorf("body = %q, ожидалось %q", src.Body, "Muito bom!")
	}
}

// TestParseSource_Defaults проверяет значения по умолчанию.
func TestParseSource_Defaults(t *testing.T) {
	src, err := ParseSource([]byte("---\nemail: a@b.com\nrating: 5\ntimestamp: 1000\n---\nGreat!"))
	if err != nil {
		t.Fatalf("ParseSource() вернул ошибку: %v", err)
	}
	if src.Verified {
		t.Error("verified по умолчанию должен быть false")
	}
	if src.Tags == nil || len(src.Tags) != 0 {
		t.Errorf("tags по умолчанию должен быть пустым срезом, получено %#v", src.Tags)
	}
	if src.Metadata == nil {
		t.Error("metadata не должен быть nil")
	}
}

// TestParseSource_MissingFields проверяет отклонение файла без обязательных полей.
func TestParseSource_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		missing string
	}{
		{"нет email", "---\nrating: 5\ntimestamp: 1000\n---\nx", "email"},
		{"пустой email", "---\nemail: \"\"\nrating: 5\ntimestamp: 1000\n---\nx", "email"},
		{"нет rating", "---\nemail: a@b.com\ntimestamp: 1000\n---\nx", "rating"},
		{"нет timestamp", "---\nemail: a@b.com\nrating: 5\n---\nx", "timestamp"},
		{"null timestamp", "---\nemail: a@b.com\nrating: 5\ntimestamp: ~\n---\nx", "timestamp"},
		{"без front-matter", "Просто текст", "email, rating, timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSource([]byte(tt.data))
			if !errors.Is(err, ErrMissingFields) {
				t.Fatalf("ожидалась ErrMissingFields, получено %v", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("ошибка %q не называет %q", err.Error(), tt.missing)
			}
		})
	}
}

// TestParseSource_InvalidFields проверяет некорректные типы и значения.
func TestParseSource_InvalidFields(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"дробная оценка", "---\nemail: a@b.com\nrating: 4.5\ntimestamp: 1000\n---\n", ErrInvalidField},
		{"текстовая оценка", "---\nemail: a@b.com\nrating: good\ntimestamp: 1000\n---\n", ErrInvalidField},
		{"отрицательный timestamp", "---\nemail: a@b.com\nrating: 5\ntimestamp: -1\n---\n", ErrInvalidField},
		{"email не строка", "---\nemail: [a, b]\nrating: 5\ntimestamp: 1000\n---\n", ErrInvalidField},
		{"незакрытый блок", "---\nemail: a@b.com\nrating: 5\n", ErrFrontMatter},
		{"не словарь", "---\n- a\n- b\n---\n", ErrFrontMatter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSource([]byte(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("ожидалась %v, получено %v", tt.want, err)
			}
		})
	}
}

// TestParseSource_Coercion проверяет приведение типов, совместимое с корпусом.
func TestParseSource_Coercion(t *testing.T) {
	data := []byte("---\r\nemail: a@b.com\r\nrating: \"3\"\r\ntimestamp: 1000\r\nverified: \"false\"\r\ntags: single\r\n---\r\nok\r\n")
	src, err := ParseSource(data)
	if err != nil {
		t.Fatalf("ParseSource() вернул ошибку: %v", err)
	}
	if src.Rating != 3 {
		t.Errorf("rating = %d, ожидалось 3", src.Rating)
	}
	if src.Verified {
		t.Error("строка \"false\" должна давать false")
	}
	if len(src.Tags) != 0 {
		t.Errorf("tags не-список должен давать пустой срез, получено %v", src.Tags)
	}
	if src.Body != "ok" {
		t.Errorf("body = %q", src.Body)
	}
}

// TestParseSource_NonStringMetadataKeys проверяет нормализацию ключей metadata.
func TestParseSource_NonStringMetadataKeys(t *testing.T) {
	data := []byte("---\nemail: a@b.com\nrating: 5\ntimestamp: 1\nmetadata:\n  nested:\n    1: one\n---\n")
	src, err := ParseSource(data)
	if err != nil {
		t.Fatalf("ParseSource() вернул ошибку: %v", err)
	}
	nested, ok := src.Metadata["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested = %#v, ожидался map[string]any", src.Metadata["nested"])
	}
	if nested["1"] != "one" {
		t.Errorf("nested[1] = %v", nested["1"])
	}
}

// TestAuthor_NoAt проверяет author для email без @.
func TestAuthor_NoAt(t *testing.T) {
	s := &Source{Email: "anon"}
	if s.Author() != "anon" {
		t.Errorf("Author() = %q, ожидалось anon", s.Author())
	}
}
