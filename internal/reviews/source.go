package reviews

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ошибки разбора отдельного файла. Не прерывают сборку.
var (
	// ErrMissingFields — во front-matter нет email, rating или timestamp
	ErrMissingFields = errors.New("отсутствуют обязательные поля")
	// ErrInvalidField — поле присутствует, но имеет недопустимый тип или значение
	ErrInvalidField = errors.New("некорректное значение поля")
	// ErrFrontMatter — блок front-matter не закрыт или не является YAML-словарём
	ErrFrontMatter = errors.New("некорректный front-matter")
)

const frontMatterDelim = "---"

// Source — содержимое одного markdown-файла отзыва.
type Source struct {
	Email     string
	Rating    int
	Timestamp int64
	ProductID string
	Verified  bool
	Location  string
	Tags      []string
	Metadata  map[string]any
	// Body — markdown после front-matter, обрезанный по краям
	Body string
}

// Author возвращает локальную часть email (всё до первого @).
func (s *Source) Author() string {
	local, _, _ := strings.Cut(s.Email, "@")
	return local
}

// ParseSource разбирает front-matter и тело отзыва.
// Отсутствие любого из email, rating, timestamp отклоняет файл целиком.
func ParseSource(data []byte) (*Source, error) {
	fm, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if len(bytes.TrimSpace(fm)) > 0 {
		if err := yaml.Unmarshal(fm, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFrontMatter, err)
		}
	}

	var missing []string
	email, hasEmail := raw["email"].(string)
	if strings.TrimSpace(email) == "" {
		if v, ok := raw["email"]; ok && v != nil && !hasEmail {
			return nil, fmt.Errorf("%w: email должен быть строкой", ErrInvalidField)
		}
		missing = append(missing, "email")
	}
	if raw["rating"] == nil {
		missing = append(missing, "rating")
	}
	if raw["timestamp"] == nil {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}

	rating, ok := toInt64(raw["rating"])
	if !ok {
		return nil, fmt.Errorf("%w: rating должен быть целым числом, получено %v", ErrInvalidField, raw["rating"])
	}
	timestamp, ok := toInt64(raw["timestamp"])
	if !ok || timestamp <= 0 {
		return nil, fmt.Errorf("%w: timestamp должен быть положительным целым, получено %v", ErrInvalidField, raw["timestamp"])
	}

	src := &Source{
		Email:     strings.TrimSpace(email),
		Rating:    int(rating),
		Timestamp: timestamp,
		ProductID: toString(raw["product_id"]),
		Verified:  truthy(raw["verified"]),
		Location:  toString(raw["location"]),
		Tags:      toStrings(raw["tags"]),
		Metadata:  map[string]any{},
		Body:      strings.TrimSpace(string(body)),
	}
	if m, ok := normalizeYAML(raw["metadata"]).(map[string]any); ok {
		src.Metadata = m
	}
	return src, nil
}

// splitFrontMatter отделяет блок между строками "---" от тела.
// Файл без открывающего разделителя считается телом без front-matter.
func splitFrontMatter(data []byte) (fm, body []byte, err error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	first, rest, found := cutLine(data)
	if strings.TrimRight(string(first), " \t\r") != frontMatterDelim {
		return nil, data, nil
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: блок не закрыт", ErrFrontMatter)
	}

	offset := 0
	for offset <= len(rest) {
		line, tail, more := cutLine(rest[offset:])
		if strings.TrimRight(string(line), " \t\r") == frontMatterDelim {
			return rest[:offset], tail, nil
		}
		if !more {
			break
		}
		offset += len(line) + 1
	}
	return nil, nil, fmt.Errorf("%w: блок не закрыт", ErrFrontMatter)
}

func cutLine(data []byte) (line, rest []byte, found bool) {
	return bytes.Cut(data, []byte("\n"))
}

// toInt64 приводит скалярное значение YAML к целому.
// Дробные числа и нечисловые строки отклоняются.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// toString возвращает строковое представление скаляра или "" для nil.
func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

// truthy приводит значение verified к bool. Строки "true"/"false"
// разбираются, прочие непустые строки и ненулевые числа дают true.
func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
		return b != ""
	case int:
		return b != 0
	case float64:
		return b != 0
	default:
		return true
	}
}

// toStrings возвращает теги; значение, не являющееся списком, даёт пустой срез.
func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s := toString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeYAML приводит вложенные словари YAML с нестроковыми ключами
// к map[string]any, чтобы результат сериализовался в JSON.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
