// Пакет i18n — локализация сообщений API storefront.
// Поддерживаемые языки: português (pt), English (en), русский (ru).
// Язык запроса: параметр ?lang → cookie "lang" → Accept-Language → язык по умолчанию.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Languages — поддерживаемые коды языков.
var Languages = []string{"pt", "en", "ru"}

// LangCookieName — имя cookie с выбранным языком.
const LangCookieName = "lang"

type contextKey string

const contextKeyLang contextKey = "i18n_lang"

// Bundle — каталоги переводов всех языков.
type Bundle struct {
	mu          sync.RWMutex
	catalogs    map[string]map[string]string // lang → key → перевод
	defaultLang string
	matcher     language.Matcher
	logger      *slog.Logger
}

// NewBundle создаёт пустой Bundle. Язык по умолчанию становится
// первым кандидатом matcher и запасным вариантом перевода.
func NewBundle(defaultLang string, logger *slog.Logger) *Bundle {
	tags := []language.Tag{language.Make(defaultLang)}
	for _, lang := range Languages {
		if lang != defaultLang {
			tags = append(tags, language.Make(lang))
		}
	}
	return &Bundle{
		catalogs:    make(map[string]map[string]string),
		defaultLang: defaultLang,
		matcher:     language.NewMatcher(tags),
		logger:      logger.With(slog.String("component", "i18n")),
	}
}

// Load создаёт Bundle и загружает встроенные каталоги.
func Load(defaultLang string, logger *slog.Logger) (*Bundle, error) {
	b := NewBundle(defaultLang, logger)
	for _, lang := range Languages {
		path := fmt.Sprintf("locales/%s.json", lang)
		data, err := localeFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("i18n: не удалось прочитать %s: %w", path, err)
		}
		if err := b.LoadMessages(lang, data); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// LoadMessages загружает плоский JSON-каталог {"key": "перевод"}.
func (b *Bundle) LoadMessages(lang string, data []byte) error {
	var messages map[string]string
	if err := json.Unmarshal(data, &messages); err != nil {
		return fmt.Errorf("i18n: ошибка парсинга каталога %s: %w", lang, err)
	}

	b.mu.Lock()
	b.catalogs[lang] = messages
	b.mu.Unlock()

	b.logger.Debug("i18n каталог загружен",
		slog.String("lang", lang),
		slog.Int("keys", len(messages)),
	)
	return nil
}

// DefaultLang возвращает язык по умолчанию.
func (b *Bundle) DefaultLang() string {
	return b.defaultLang
}

// Translate возвращает перевод. Порядок поиска: lang → язык по умолчанию → en.
// Ненайденный ключ возвращается как есть.
func (b *Bundle) Translate(lang, key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, l := range []string{lang, b.defaultLang, "en"} {
		if msg, ok := b.catalogs[l][key]; ok {
			return msg
		}
	}
	return key
}

// Translatef возвращает перевод с подстановкой аргументов.
func (b *Bundle) Translatef(lang, key string, args ...any) string {
	template := b.Translate(lang, key)
	if len(args) == 0 {
		return template
	}
	return formatFunc(template, args...)
}

// T переводит ключ на язык запроса.
func (b *Bundle) T(ctx context.Context, key string) string {
	return b.Translate(b.Lang(ctx), key)
}

// Tf переводит ключ на язык запроса с аргументами.
func (b *Bundle) Tf(ctx context.Context, key string, args ...any) string {
	return b.Translatef(b.Lang(ctx), key, args...)
}

// Lang возвращает язык из контекста или язык по умолчанию.
func (b *Bundle) Lang(ctx context.Context) string {
	if lang, ok := ctx.Value(contextKeyLang).(string); ok && lang != "" {
		return lang
	}
	return b.defaultLang
}

// Match определяет лучший поддерживаемый язык по Accept-Language.
func (b *Bundle) Match(acceptLanguage string) string {
	tag, _ := language.MatchStrings(b.matcher, acceptLanguage)
	base, _ := tag.Base()
	if lang := base.String(); isSupported(lang) {
		return lang
	}
	return b.defaultLang
}

// FormatRemaining форматирует оставшееся время с округлением вверх.
func (b *Bundle) FormatRemaining(lang string, d time.Duration) string {
	switch {
	case d < time.Minute:
		secs := int((d + time.Second - 1) / time.Second)
		return b.Translatef(lang, "duration.seconds", max(secs, 1))
	case d < time.Hour:
		return b.Translatef(lang, "duration.minutes", int((d+time.Minute-1)/time.Minute))
	default:
		total := int((d + time.Minute - 1) / time.Minute)
		return b.Translatef(lang, "duration.hours_minutes", total/60, total%60)
	}
}

// Middleware определяет язык запроса и кладёт его в контекст.
func (b *Bundle) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLang(r.Context(), b.detect(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (b *Bundle) detect(r *http.Request) string {
	if lang := r.URL.Query().Get("lang"); isSupported(lang) {
		return lang
	}
	if cookie, err := r.Cookie(LangCookieName); err == nil && isSupported(cookie.Value) {
		return cookie.Value
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return b.Match(accept)
	}
	return b.defaultLang
}

// WithLang помещает язык в контекст.
func WithLang(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, contextKeyLang, lang)
}

func isSupported(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// formatFunc — fmt.Sprintf через переменную: формат-строки приходят
// из JSON-каталогов, статическая printf-проверка к ним неприменима.
var formatFunc = fmt.Sprintf
