// Пакет errors — конструкторы стандартных ошибок API storefront.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeOTPMismatch     = "OTP_MISMATCH"
	CodeOTPNoActiveCode = "OTP_NO_ACTIVE_CODE"
	CodeDeliveryFailed  = "DELIVERY_FAILED"
	CodeFeedUnavailable = "FEED_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки. RetryAt и RemainingAttempts заполняются
// только для ограничений шлюза и неверного кода.
type errorDetail struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAt           string `json:"retry_at,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeDetail(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeDetail(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// RateLimited — 429 действие ограничено шлюзом до retryAt.
// Retry-After содержит оставшиеся секунды с округлением вверх.
func RateLimited(w http.ResponseWriter, message string, retryAt, now time.Time) {
	secs := int64((retryAt.Sub(now) + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
	writeDetail(w, http.StatusTooManyRequests, errorDetail{
		Code:    CodeRateLimited,
		Message: message,
		RetryAt: retryAt.UTC().Format(time.RFC3339),
	})
}

// OTPMismatch — 401 неверный код, remaining — оставшиеся попытки.
func OTPMismatch(w http.ResponseWriter, message string, remaining int) {
	writeDetail(w, http.StatusUnauthorized, errorDetail{
		Code:              CodeOTPMismatch,
		Message:           message,
		RemainingAttempts: &remaining,
	})
}

// OTPNoActiveCode — 410 код истёк или не запрашивался.
func OTPNoActiveCode(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeOTPNoActiveCode, message)
}

// DeliveryFailed — 502 код не удалось доставить.
func DeliveryFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeDeliveryFailed, message)
}

// FeedUnavailable — 503 фид отзывов недоступен.
func FeedUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeFeedUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
