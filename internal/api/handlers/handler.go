// handler.go — основной обработчик API storefront.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/gostorefront/internal/api/errors"
	"github.com/bigkaa/gostorefront/internal/i18n"
	"github.com/bigkaa/gostorefront/internal/otp"
	"github.com/bigkaa/gostorefront/internal/ratelimit"
	"github.com/bigkaa/gostorefront/internal/service"
	"github.com/bigkaa/gostorefront/internal/session"
	"github.com/bigkaa/gostorefront/internal/storage/corpus"
	"github.com/bigkaa/gostorefront/internal/token"
)

// maxBodyBytes — предельный размер тела JSON-запроса.
const maxBodyBytes = 64 << 10

// Deps — зависимости APIHandler.
type Deps struct {
	OTP      *otp.Service
	Gate     *ratelimit.Gate
	Sessions *session.Manager
	Tokens   *token.Issuer
	Feed     *service.FeedService
	Corpus   *corpus.Store
	Bundle   *i18n.Bundle
	// Now — источник времени (по умолчанию time.Now)
	Now func() time.Time
}

// APIHandler — основной обработчик API storefront.
type APIHandler struct {
	otp      *otp.Service
	gate     *ratelimit.Gate
	sessions *session.Manager
	tokens   *token.Issuer
	feed     *service.FeedService
	corpus   *corpus.Store
	bundle   *i18n.Bundle
	now      func() time.Time
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &APIHandler{
		otp:      deps.OTP,
		gate:     deps.Gate,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		feed:     deps.Feed,
		corpus:   deps.Corpus,
		bundle:   deps.Bundle,
		now:      deps.Now,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// messageResponse — ответ с локализованным сообщением.
type messageResponse struct {
	Message string `json:"message"`
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON читает тело запроса в dst с ограничением размера.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// parseEmail проверяет адрес по правилам openapi_types.Email
// и возвращает его в нормализованном виде.
func parseEmail(raw string) (openapi_types.Email, bool) {
	normalized := ratelimit.NormalizeIdentity(raw)
	quoted, err := json.Marshal(normalized)
	if err != nil {
		return "", false
	}
	var email openapi_types.Email
	if err := email.UnmarshalJSON(quoted); err != nil || normalized == "" {
		return "", false
	}
	return email, true
}

// writeDenied отвечает 429 с локализованным оставшимся временем.
func (h *APIHandler) writeDenied(w http.ResponseWriter, r *http.Request, action ratelimit.Kind, retryAt time.Time) {
	now := h.now()
	lang := h.bundle.Lang(r.Context())
	remaining := h.bundle.FormatRemaining(lang, retryAt.Sub(now))
	msg := h.bundle.Translatef(lang, "rate_limited."+string(action), remaining)
	apierrors.RateLimited(w, msg, retryAt, now)
}

// writeServiceError отображает ошибки OTP-сервиса в HTTP-ответы.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var denied *otp.DeniedError
	var mismatch *otp.MismatchError
	switch {
	case errors.As(err, &denied):
		h.writeDenied(w, r, denied.Action, denied.RetryAt)
	case errors.As(err, &mismatch):
		apierrors.OTPMismatch(w, h.bundle.Tf(ctx, "otp.mismatch", mismatch.Remaining), mismatch.Remaining)
	case errors.Is(err, otp.ErrNoActiveCode):
		apierrors.OTPNoActiveCode(w, h.bundle.T(ctx, "otp.no_active_code"))
	case errors.Is(err, otp.ErrDeliveryFailed):
		apierrors.DeliveryFailed(w, h.bundle.T(ctx, "otp.delivery_failed"))
	default:
		h.internalError(w, r, err)
	}
}

func (h *APIHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("Ошибка обработки запроса",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, h.bundle.T(r.Context(), "error.internal"))
}
