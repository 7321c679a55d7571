package reviews

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// MaxLocationLength — максимальная длина location в символах.
const MaxLocationLength = 100

// Violation — нарушение строгой схемы в одном файле.
type Violation struct {
	File    string `json:"file"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return fmt.Sprintf("%s: %s", v.File, v.Message)
	}
	return fmt.Sprintf("%s: %s: %s", v.File, v.Field, v.Message)
}

// ValidateCorpus проверяет все *.md файлы директории по строгой схеме.
// Возвращает число проверенных файлов и найденные нарушения.
// В отличие от сборки, типы не приводятся: "5" в rating — нарушение.
func ValidateCorpus(dir string) (int, []Violation, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("ошибка чтения директории отзывов %s: %w", dir, err)
	}

	checked := 0
	var violations []Violation
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return checked, violations, fmt.Errorf("ошибка чтения %s: %w", entry.Name(), err)
		}
		checked++
		violations = append(violations, ValidateSource(entry.Name(), data)...)
	}
	return checked, violations, nil
}

// ValidateSource проверяет front-matter одного файла по строгой схеме.
func ValidateSource(name string, data []byte) []Violation {
	fm, _, err := splitFrontMatter(data)
	if err != nil {
		return []Violation{{File: name, Message: err.Error()}}
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(fm, &raw); err != nil {
		return []Violation{{File: name, Message: fmt.Sprintf("YAML не разобран: %v", err)}}
	}

	var out []Violation
	add := func(field, format string, args ...any) {
		out = append(out, Violation{File: name, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch email := raw["email"].(type) {
	case nil:
		add("email", "обязательное поле")
	case string:
		if !validEmail(email) {
			add("email", "некорректный адрес %q", email)
		}
	default:
		add("email", "ожидалась строка")
	}

	switch rating := raw["rating"].(type) {
	case nil:
		add("rating", "обязательное поле")
	case int:
		if rating < MinRating || rating > MaxRating {
			add("rating", "значение %d вне диапазона %d-%d", rating, MinRating, MaxRating)
		}
	default:
		add("rating", "ожидалось целое число")
	}

	switch ts := raw["timestamp"].(type) {
	case nil:
		add("timestamp", "обязательное поле")
	case int:
		if ts <= 0 {
			add("timestamp", "ожидалось положительное число")
		}
	default:
		add("timestamp", "ожидалось целое число")
	}

	if v, ok := raw["product_id"]; ok && v != nil {
		if _, isStr := v.(string); !isStr {
			add("product_id", "ожидалась строка")
		}
	}
	if v, ok := raw["verified"]; ok && v != nil {
		if _, isBool := v.(bool); !isBool {
			add("verified", "ожидалось true или false")
		}
	}
	if v, ok := raw["location"]; ok && v != nil {
		loc, isStr := v.(string)
		switch {
		case !isStr:
			add("location", "ожидалась строка")
		case utf8.RuneCountInString(loc) > MaxLocationLength:
			add("location", "длина превышает %d символов", MaxLocationLength)
		}
	}
	if v, ok := raw["tags"]; ok && v != nil {
		list, isList := v.([]any)
		if !isList {
			add("tags", "ожидался список строк")
		} else {
			for i, item := range list {
				if _, isStr := item.(string); !isStr {
					add("tags", "элемент %d не является строкой", i)
				}
			}
		}
	}
	if v, ok := raw["metadata"]; ok && v != nil {
		if _, isMap := v.(map[string]any); !isMap {
			add("metadata", "ожидался словарь")
		}
	}

	return out
}

// validEmail проверяет, что строка — одиночный адрес без отображаемого имени.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@")+1:], ".")
}
