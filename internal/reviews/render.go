package reviews

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Renderer преобразует markdown тела отзыва в HTML.
// Сырой HTML во входе не пропускается (goldmark по умолчанию заменяет
// его комментарием), так как тело пишут посетители.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer создаёт Renderer с расширениями GFM.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
	}
}

// Render возвращает HTML для markdown-текста.
func (r *Renderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("ошибка рендеринга markdown: %w", err)
	}
	return buf.String(), nil
}
