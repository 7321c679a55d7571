package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/gostorefront/internal/api/handlers"
	"github.com/bigkaa/gostorefront/internal/api/middleware"
	"github.com/bigkaa/gostorefront/internal/i18n"
	"github.com/bigkaa/gostorefront/internal/otp"
	"github.com/bigkaa/gostorefront/internal/ratelimit"
	"github.com/bigkaa/gostorefront/internal/service"
	"github.com/bigkaa/gostorefront/internal/session"
	"github.com/bigkaa/gostorefront/internal/storage/corpus"
	"github.com/bigkaa/gostorefront/internal/token"
)

// signingKey — общий ключ тестов, генерация RSA дорогая.
var signingKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}()

// captureSender запоминает последний код по email.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) Send(_ context.Context, email, code string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = code
	return nil
}

func (s *captureSender) code(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[email]
}

type testEnv struct {
	handler   http.Handler
	sender    *captureSender
	corpusDir string
	feedPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	bundle, err := i18n.Load("pt", logger)
	if err != nil {
		t.Fatal(err)
	}
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), ratelimit.NewMemoryStore(), ratelimit.NewMemoryStore(), logger)

	sender := &captureSender{codes: make(map[string]string)}
	otpSvc := otp.NewService(gate, sender, otp.Options{}, logger)
	t.Cleanup(otpSvc.Close)

	sessions := session.NewManager(time.Hour, session.NewMemoryProfileStore(), nil, logger)
	t.Cleanup(sessions.Close)

	issuer, err := token.NewIssuer(context.Background(), signingKey, "storefront-test")
	if err != nil {
		t.Fatal(err)
	}

	feedPath := filepath.Join(dir, "public", "reviews.json")
	feed := service.NewFeedService(feedPath, service.FeedOptions{CacheTTL: time.Millisecond}, logger)

	corpusDir := filepath.Join(dir, "reviews")
	store, err := corpus.New(corpusDir)
	if err != nil {
		t.Fatal(err)
	}

	api := handlers.NewAPIHandler(handlers.Deps{
		OTP:      otpSvc,
		Gate:     gate,
		Sessions: sessions,
		Tokens:   issuer,
		Feed:     feed,
		Corpus:   store,
		Bundle:   bundle,
	}, logger)
	health := handlers.NewHealthHandler(map[string]handlers.ReadinessChecker{
		"reviews": handlers.DirChecker{Dir: corpusDir},
	})
	auth := middleware.NewJWTAuth(issuer.Keyfunc(), issuer.Issuer(), sessions, bundle, 0, logger)

	return &testEnv{
		handler: NewRouter(Routes{
			API:         api,
			Health:      health,
			Auth:        auth.Middleware(),
			Middlewares: []func(http.Handler) http.Handler{bundle.Middleware()},
		}),
		sender:    sender,
		corpusDir: corpusDir,
		feedPath:  feedPath,
	}
}

// do выполняет запрос и возвращает ответ с разобранным JSON-телом.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var parsed map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &parsed)
	return rec, parsed
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// login проходит вход по коду и возвращает токен.
func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rec, _ := e.do(t, http.MethodPost, "/api/v1/auth/otp", "", map[string]string{"email": email})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("запрос кода: статус %d, тело %s", rec.Code, rec.Body.String())
	}
	rec, body := e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
		map[string]string{"email": email, "code": e.sender.code(email)})
	if rec.Code != http.StatusOK {
		t.Fatalf("проверка кода: статус %d, тело %s", rec.Code, rec.Body.String())
	}
	tok, _ := body["access_token"].(string)
	if tok == "" {
		t.Fatal("ответ без access_token")
	}
	return tok
}

func TestLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodPost, "/api/v1/auth/otp", "", map[string]string{"email": "Maria@Example.com"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	if body["email"] != "maria@example.com" || body["message"] != "Código enviado para maria@example.com" {
		t.Errorf("ответ = %v", body)
	}

	// Неверный код
	rec, body = e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
		map[string]string{"email": "maria@example.com", "code": "!!!!"})
	if rec.Code != http.StatusUnauthorized || errorCode(body) != "OTP_MISMATCH" {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	if remaining := body["error"].(map[string]any)["remaining_attempts"]; remaining != float64(2) {
		t.Errorf("remaining_attempts = %v, ожидалось 2", remaining)
	}

	// Верный код в нижнем регистре
	code := strings.ToLower(e.sender.code("maria@example.com"))
	rec, body = e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
		map[string]string{"email": "maria@example.com", "code": code})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	tok := body["access_token"].(string)
	if body["token_type"] != "Bearer" || body["message"] != "Login realizado com sucesso!" {
		t.Errorf("ответ = %v", body)
	}

	// Текущая сессия и профиль
	rec, body = e.do(t, http.MethodGet, "/api/v1/auth/session", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("сессия: статус = %d", rec.Code)
	}
	sess := body["session"].(map[string]any)
	profile := body["profile"].(map[string]any)
	if sess["email"] != "maria@example.com" || profile["login_count"] != float64(1) {
		t.Errorf("ответ сессии = %v", body)
	}

	// Повторная проверка уже использованного кода
	rec, body = e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
		map[string]string{"email": "maria@example.com", "code": code})
	if rec.Code != http.StatusGone || errorCode(body) != "OTP_NO_ACTIVE_CODE" {
		t.Errorf("повторная проверка: статус = %d, тело %s", rec.Code, rec.Body.String())
	}

	// Выход отзывает токен
	rec, _ = e.do(t, http.MethodPost, "/api/v1/auth/logout", tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("выход: статус = %d", rec.Code)
	}
	rec, _ = e.do(t, http.MethodGet, "/api/v1/auth/session", tok, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("токен после выхода: статус = %d, ожидался 401", rec.Code)
	}
}

func TestRequestOTP_Validation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"невалидный email", map[string]string{"email": "not-an-email"}},
		{"пустой email", map[string]string{"email": ""}},
		{"лишнее поле", map[string]string{"email": "a@b.com", "extra": "x"}},
		{"не объект", []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := e.do(t, http.MethodPost, "/api/v1/auth/otp", "", tt.body)
			if rec.Code != http.StatusBadRequest || errorCode(body) != "VALIDATION_ERROR" {
				t.Errorf("статус = %d, тело %s", rec.Code, rec.Body.String())
			}
		})
	}
}

// TestRequestOTP_RateLimited проверяет ограничение 5 кодов в час.
func TestRequestOTP_RateLimited(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 5; i++ {
		rec, _ := e.do(t, http.MethodPost, "/api/v1/auth/otp", "", map[string]string{"email": "a@b.com"})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("запрос %d: статус = %d", i+1, rec.Code)
		}
	}

	rec, body := e.do(t, http.MethodPost, "/api/v1/auth/otp?lang=en", "", map[string]string{"email": "A@B.com"})
	if rec.Code != http.StatusTooManyRequests || errorCode(body) != "RATE_LIMITED" {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || secs < 3500 || secs > 3600 {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	detail := body["error"].(map[string]any)
	if detail["retry_at"] == nil || !strings.Contains(detail["message"].(string), "min") {
		t.Errorf("детали ошибки = %v", detail)
	}
}

func TestVerifyLockout(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/v1/auth/otp", "", map[string]string{"email": "a@b.com"})

	for i := 0; i < 3; i++ {
		rec, _ := e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
			map[string]string{"email": "a@b.com", "code": "!!!!"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("попытка %d: статус = %d", i+1, rec.Code)
		}
	}

	rec, body := e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
		map[string]string{"email": "a@b.com", "code": e.sender.code("a@b.com")})
	if rec.Code != http.StatusTooManyRequests || errorCode(body) != "RATE_LIMITED" {
		t.Errorf("после блокировки: статус = %d, тело %s", rec.Code, rec.Body.String())
	}
}

func TestCancelOTP(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/v1/auth/otp", "", map[string]string{"email": "a@b.com"})

	for i := 0; i < 2; i++ {
		rec, _ := e.do(t, http.MethodDelete, "/api/v1/auth/otp?email=a@b.com", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("отмена %d: статус = %d", i+1, rec.Code)
		}
	}

	rec, _ := e.do(t, http.MethodPost, "/api/v1/auth/otp/verify", "",
		map[string]string{"email": "a@b.com", "code": e.sender.code("a@b.com")})
	if rec.Code != http.StatusGone {
		t.Errorf("проверка после отмены: статус = %d, ожидался 410", rec.Code)
	}

	rec, _ = e.do(t, http.MethodDelete, "/api/v1/auth/otp?email=bad", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("невалидный email: статус = %d", rec.Code)
	}
}

func TestSubmitReview(t *testing.T) {
	e := newTestEnv(t)
	tok := e.login(t, "maria@example.com")

	rec, body := e.do(t, http.MethodPost, "/api/v1/reviews", tok, map[string]any{
		"rating":  5,
		"comment": "  Ótimo produto!  ",
		"tags":    []string{"entrega", " "},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
	id, _ := body["id"].(string)
	data, err := os.ReadFile(filepath.Join(e.corpusDir, id+".md"))
	if err != nil {
		t.Fatalf("файл отзыва не записан: %v", err)
	}
	if !strings.Contains(string(data), "email: maria@example.com") || !strings.HasSuffix(strings.TrimSpace(string(data)), "Ótimo produto!") {
		t.Errorf("содержимое файла:\n%s", data)
	}

	// Второй отзыв допустим, третий — нет
	rec, _ = e.do(t, http.MethodPost, "/api/v1/reviews", tok, map[string]any{"rating": 4, "comment": "bom"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("второй отзыв: статус = %d", rec.Code)
	}
	rec, body = e.do(t, http.MethodPost, "/api/v1/reviews", tok, map[string]any{"rating": 4, "comment": "bom"})
	if rec.Code != http.StatusTooManyRequests || errorCode(body) != "RATE_LIMITED" {
		t.Fatalf("третий отзыв: статус = %d", rec.Code)
	}
	if secs, _ := strconv.Atoi(rec.Header().Get("Retry-After")); secs < 86000 {
		t.Errorf("Retry-After = %d", secs)
	}

	entries, _ := os.ReadDir(e.corpusDir)
	if len(entries) != 2 {
		t.Errorf("файлов в корпусе: %d, ожидалось 2", len(entries))
	}
}

func TestSubmitReview_Validation(t *testing.T) {
	e := newTestEnv(t)
	tok := e.login(t, "a@b.com")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"оценка 0", map[string]any{"rating": 0, "comment": "x"}},
		{"оценка 6", map[string]any{"rating": 6, "comment": "x"}},
		{"пустой комментарий", map[string]any{"rating": 3, "comment": "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := e.do(t, http.MethodPost, "/api/v1/reviews", tok, tt.body)
			if rec.Code != http.StatusBadRequest || errorCode(body) != "VALIDATION_ERROR" {
				t.Errorf("статус = %d, тело %s", rec.Code, rec.Body.String())
			}
		})
	}

	// Отклонённые запросы не расходуют лимит
	for i := 0; i < 2; i++ {
		rec, _ := e.do(t, http.MethodPost, "/api/v1/reviews", tok, map[string]any{"rating": 3, "comment": "ok"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("отзыв %d: статус = %d", i+1, rec.Code)
		}
	}
}

func TestSubmitReview_Unauthorized(t *testing.T) {
	e := newTestEnv(t)
	rec, body := e.do(t, http.MethodPost, "/api/v1/reviews", "", map[string]any{"rating": 5, "comment": "x"})
	if rec.Code != http.StatusUnauthorized || errorCode(body) != "UNAUTHORIZED" {
		t.Errorf("статус = %d, тело %s", rec.Code, rec.Body.String())
	}
}

func TestListReviews(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodGet, "/api/v1/reviews", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	if meta := body["metadata"].(map[string]any); meta["total_reviews"] != float64(0) {
		t.Errorf("пустой фид: metadata = %v", meta)
	}

	if err := os.MkdirAll(filepath.Dir(e.feedPath), 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := `[{"id":"a","rating":5,"timestamp":1},{"id":"b","rating":4,"timestamp":2}]`
	if err := os.WriteFile(e.feedPath, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond) // истечение TTL кэша

	rec, body = e.do(t, http.MethodGet, "/api/v1/reviews", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	meta := body["metadata"].(map[string]any)
	if meta["total_reviews"] != float64(2) || meta["average_rating"] != 4.5 || meta["schema_version"] != float64(1) {
		t.Errorf("metadata = %v", meta)
	}
	if first := body["reviews"].([]any)[0].(map[string]any); first["id"] != "b" {
		t.Errorf("первый отзыв = %v, ожидался самый новый", first["id"])
	}
}

func TestJWKSAndHealth(t *testing.T) {
	e := newTestEnv(t)

	rec, body := e.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("jwks: статус = %d", rec.Code)
	}
	if keys, _ := body["keys"].([]any); len(keys) != 1 {
		t.Errorf("jwks = %v", body)
	}

	rec, body = e.do(t, http.MethodGet, "/health/live", "", nil)
	if rec.Code != http.StatusOK || body["service"] != "storefront" {
		t.Errorf("live: статус = %d, тело %v", rec.Code, body)
	}

	rec, body = e.do(t, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("ready: статус = %d, тело %v", rec.Code, body)
	}

	if err := os.RemoveAll(e.corpusDir); err != nil {
		t.Fatal(err)
	}
	rec, _ = e.do(t, http.MethodGet, "/health/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready без корпуса: статус = %d, ожидался 503", rec.Code)
	}
}
