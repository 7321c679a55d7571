// auth.go — обработчики входа по одноразовому коду.
// POST   /api/v1/auth/otp         — запрос кода
// DELETE /api/v1/auth/otp         — отмена кода (окно ввода закрыто)
// POST   /api/v1/auth/otp/verify  — проверка кода, выдача токена и сессии
// GET    /api/v1/auth/session     — текущая сессия
// POST   /api/v1/auth/logout      — выход
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/gostorefront/internal/api/errors"
	"github.com/bigkaa/gostorefront/internal/api/middleware"
	"github.com/bigkaa/gostorefront/internal/domain/model"
	"github.com/bigkaa/gostorefront/internal/session"
)

type otpRequest struct {
	Email string `json:"email"`
}

type otpResponse struct {
	Message   string              `json:"message"`
	Email     openapi_types.Email `json:"email"`
	ExpiresAt time.Time           `json:"expires_at"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type verifyResponse struct {
	Message     string          `json:"message"`
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Session     session.Session `json:"session"`
}

type sessionResponse struct {
	Session session.Session    `json:"session"`
	Profile *model.UserProfile `json:"profile,omitempty"`
}

// RequestOTP — POST /api/v1/auth/otp.
func (h *APIHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "validation.body"))
		return
	}
	email, ok := parseEmail(req.Email)
	if !ok {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "validation.email"))
		return
	}

	issued, err := h.otp.RequestCode(r.Context(), string(email))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, otpResponse{
		Message:   h.bundle.Tf(r.Context(), "otp.sent", string(email)),
		Email:     email,
		ExpiresAt: issued.ExpiresAt.UTC(),
	})
}

// CancelOTP — DELETE /api/v1/auth/otp?email=...
// Повторная отмена и отмена без кода тоже возвращают 200.
func (h *APIHandler) CancelOTP(w http.ResponseWriter, r *http.Request) {
	email, ok := parseEmail(r.URL.Query().Get("email"))
	if !ok {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "validation.email"))
		return
	}
	if err := h.otp.CancelCode(string(email)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: h.bundle.T(r.Context(), "otp.cancelled")})
}

// VerifyOTP — POST /api/v1/auth/otp/verify.
// При успехе открывается сессия и выдаётся RS256 токен со сроком сессии.
func (h *APIHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "validation.body"))
		return
	}
	email, ok := parseEmail(req.Email)
	if !ok {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "validation.email"))
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		apierrors.ValidationError(w, h.bundle.T(r.Context(), "validation.code"))
		return
	}

	if err := h.otp.VerifyCode(r.Context(), string(email), code); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	sess, err := h.sessions.Start(r.Context(), string(email))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	raw, expiresAt, err := h.tokens.Issue(sess.Email, sess.ID, h.sessions.Duration())
	if err != nil {
		h.sessions.Logout(sess.ID)
		h.internalError(w, r, err)
		return
	}

	h.logger.Info("Вход выполнен",
		slog.String("email", sess.Email),
		slog.String("session_id", sess.ID),
	)
	writeJSON(w, http.StatusOK, verifyResponse{
		Message:     h.bundle.T(r.Context(), "auth.login_success"),
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.UTC(),
		Session:     sess,
	})
}

// GetSession — GET /api/v1/auth/session.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		apierrors.Unauthorized(w, h.bundle.T(r.Context(), "auth.unauthorized"))
		return
	}

	resp := sessionResponse{Session: principal.Session}
	profile, err := h.sessions.Profile(r.Context(), principal.Email)
	switch {
	case err == nil:
		resp.Profile = profile
	case errors.Is(err, session.ErrProfileNotFound):
	default:
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout — POST /api/v1/auth/logout.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	if principal == nil {
		apierrors.Unauthorized(w, h.bundle.T(r.Context(), "auth.unauthorized"))
		return
	}
	h.sessions.Logout(principal.SessionID)
	writeJSON(w, http.StatusOK, messageResponse{Message: h.bundle.T(r.Context(), "auth.logout")})
}
