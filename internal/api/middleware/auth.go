// auth.go — JWT middleware storefront.
// Проверяет подпись RS256 через keyfunc поверх собственного JWKS,
// требует claim sid и живую сессию; каждый запрос фиксирует активность.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/gostorefront/internal/api/errors"
	"github.com/bigkaa/gostorefront/internal/i18n"
	"github.com/bigkaa/gostorefront/internal/session"
	"github.com/bigkaa/gostorefront/internal/token"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyPrincipal — аутентифицированный пользователь в контексте запроса.
const ContextKeyPrincipal contextKey = "principal"

// Principal — пользователь, прошедший аутентификацию.
type Principal struct {
	Email     string
	SessionID string
	// Session — состояние сессии после фиксации активности
	Session session.Session
}

// SessionToucher — фиксация активности сессии.
// Реализуется session.Manager.
type SessionToucher interface {
	Touch(id string) (session.Session, error)
}

// JWTAuth — middleware аутентификации по Bearer-токену.
type JWTAuth struct {
	jwks     keyfunc.Keyfunc
	sessions SessionToucher
	bundle   *i18n.Bundle
	issuer   string
	leeway   time.Duration
	logger   *slog.Logger
}

// NewJWTAuth создаёт middleware. kf — ключи издателя токенов (token.Issuer.Keyfunc).
func NewJWTAuth(
	kf keyfunc.Keyfunc,
	issuer string,
	sessions SessionToucher,
	bundle *i18n.Bundle,
	leeway time.Duration,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:     kf,
		sessions: sessions,
		bundle:   bundle,
		issuer:   issuer,
		leeway:   leeway,
		logger:   logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			unauthorized := func(reason string, attrs ...slog.Attr) {
				attrs = append(attrs,
					slog.String("reason", reason),
					slog.String("remote_addr", r.RemoteAddr),
				)
				j.logger.LogAttrs(r.Context(), slog.LevelDebug, "Аутентификация не пройдена", attrs...)
				apierrors.Unauthorized(w, j.bundle.T(r.Context(), "auth.unauthorized"))
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized("нет заголовка Authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				unauthorized("неверный формат Authorization")
				return
			}

			claims := &token.Claims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}
			tok, err := jwt.ParseWithClaims(parts[1], claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !tok.Valid {
				unauthorized("невалидный токен", slog.Any("error", err))
				return
			}
			if claims.SessionID == "" {
				unauthorized("нет sid в токене")
				return
			}

			sess, err := j.sessions.Touch(claims.SessionID)
			if err != nil {
				unauthorized("сессия не найдена", slog.String("session_id", claims.SessionID))
				return
			}
			if !strings.EqualFold(sess.Email, claims.Email) {
				unauthorized("email токена не совпадает с сессией", slog.String("session_id", claims.SessionID))
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, &Principal{
				Email:     sess.Email,
				SessionID: sess.ID,
				Session:   sess,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext извлекает пользователя из контекста запроса.
// Возвращает nil, если запрос не аутентифицирован.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ContextKeyPrincipal).(*Principal)
	return p
}
