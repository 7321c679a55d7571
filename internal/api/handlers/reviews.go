// reviews.go — обработчики /api/v1/reviews.
// GET  — опубликованный фид (нормализованный, из кэша)
// POST — новый отзыв авторизованного посетителя в корпус
package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/gostorefront/internal/api/errors"
	"github.com/bigkaa/gostorefront/internal/api/middleware"
	"github.com/bigkaa/gostorefront/internal/ratelimit"
	"github.com/bigkaa/gostorefront/internal/reviews"
)

// maxTags — предельное число тегов в отзыве.
const maxTags = 10

type submitReviewRequest struct {
	Rating    int      `json:"rating"`
	Comment   string   `json:"comment"`
	ProductID string   `json:"product_id,omitempty"`
	Location  string   `json:"location,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type submitReviewResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ListReviews — GET /api/v1/reviews.
// Заголовок X-Feed-Stale: true — отдана последняя удачная копия.
func (h *APIHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	feed, stale, err := h.feed.Get(r.Context())
	if err != nil {
		h.logger.Error("Фид отзывов недоступен", slog.String("error", err.Error()))
		apierrors.FeedUnavailable(w, h.bundle.T(r.Context(), "review.feed_unavailable"))
		return
	}
	if stale {
		w.Header().Set("X-Feed-Stale", "true")
	}
	writeJSON(w, http.StatusOK, feed)
}

// SubmitReview — POST /api/v1/reviews.
// Попытка учитывается шлюзом до записи: ошибка записи попытку не возвращает.
func (h *APIHandler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := middleware.PrincipalFromContext(ctx)
	if principal == nil {
		apierrors.Unauthorized(w, h.bundle.T(ctx, "auth.unauthorized"))
		return
	}

	var req submitReviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, h.bundle.T(ctx, "validation.body"))
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		apierrors.ValidationError(w, h.bundle.T(ctx, "validation.rating"))
		return
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		apierrors.ValidationError(w, h.bundle.T(ctx, "validation.comment"))
		return
	}

	now := h.now()
	allowed, retryAt, err := h.gate.TryPostReview(ctx, principal.Email, now)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if !allowed {
		h.writeDenied(w, r, ratelimit.KindReview, retryAt)
		return
	}

	res, err := h.corpus.Save(reviews.Submission{
		Email:     principal.Email,
		Rating:    req.Rating,
		Comment:   comment,
		ProductID: strings.TrimSpace(req.ProductID),
		Location:  strings.TrimSpace(req.Location),
		Tags:      cleanTags(req.Tags),
		Submitted: now,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	h.logger.Info("Отзыв принят",
		slog.String("email", principal.Email),
		slog.String("file", res.Name),
		slog.Int("rating", req.Rating),
		slog.String("checksum", res.Checksum),
	)
	writeJSON(w, http.StatusCreated, submitReviewResponse{
		Message: h.bundle.T(ctx, "review.submitted"),
		ID:      res.ID,
	})
}

// cleanTags убирает пустые теги и ограничивает их число.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
		if len(out) == maxTags {
			break
		}
	}
	return out
}
