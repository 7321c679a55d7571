package handlers

import (
	"net/http"
)

// GetJWKS — GET /.well-known/jwks.json, открытые ключи подписи токенов.
func (h *APIHandler) GetJWKS(w http.ResponseWriter, r *http.Request) {
	data, err := h.tokens.JWKS(r.Context())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
