package reviews

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Значения по умолчанию для отзывов, присланных через storefront.
const (
	DefaultProductID = "geral"
	DefaultLocation  = "Brasil"
	DefaultTag       = "review"
)

// Submission — отзыв, присланный авторизованным посетителем.
type Submission struct {
	Email     string
	Rating    int
	Comment   string
	ProductID string
	Location  string
	Tags      []string
	Submitted time.Time
}

// submissionFrontMatter задаёт порядок полей в генерируемом front-matter.
type submissionFrontMatter struct {
	Author    string   `yaml:"author"`
	Email     string   `yaml:"email"`
	Rating    int      `yaml:"rating"`
	Timestamp int64    `yaml:"timestamp"`
	ProductID string   `yaml:"product_id"`
	Verified  bool     `yaml:"verified"`
	Location  string   `yaml:"location"`
	Tags      []string `yaml:"tags"`
}

// EncodeSource формирует markdown-файл отзыва для корпуса.
// Результат разбирается ParseSource без потерь.
func EncodeSource(s Submission) ([]byte, error) {
	fm := submissionFrontMatter{
		Email:     strings.TrimSpace(s.Email),
		Rating:    s.Rating,
		Timestamp: s.Submitted.UnixMilli(),
		ProductID: strings.TrimSpace(s.ProductID),
		Location:  strings.TrimSpace(s.Location),
		Tags:      s.Tags,
	}
	fm.Author, _, _ = strings.Cut(fm.Email, "@")
	if fm.ProductID == "" {
		fm.ProductID = DefaultProductID
	}
	if fm.Location == "" {
		fm.Location = DefaultLocation
	}
	if len(fm.Tags) == 0 {
		fm.Tags = []string{DefaultTag}
	}

	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, fmt.Errorf("ошибка сериализации front-matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("ошибка сериализации front-matter: %w", err)
	}
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(strings.TrimSpace(s.Comment))
	buf.WriteString("\n")
	return buf.Bytes(), nil
}
