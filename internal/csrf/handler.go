package csrf

import (
	"net/http"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
)

// TokenResponse is the body of GET /api/csrf-token.
type TokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// TokenHandler serves fresh tokens for the caller's session.
type TokenHandler struct {
	guard    *Guard
	sessions *SessionResolver
}

// NewTokenHandler returns the handler for GET /api/csrf-token.
func NewTokenHandler(guard *Guard, sessions *SessionResolver) *TokenHandler {
	return &TokenHandler{guard: guard, sessions: sessions}
}

// ServeHTTP issues a token. A failed store write is logged and the token is still returned.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := h.guard.GenerateToken(r.Context(), h.sessions.SessionID(r))
	if token == "" {
		apierror.Write(w, apierror.Internal(err))
		return
	}
	if err != nil {
		h.guard.logger.Warn("csrf token not persisted", zap.Error(err))
	}
	w.Header().Set("Cache-Control", "no-store")
	apierror.WriteJSON(w, http.StatusOK, TokenResponse{CSRFToken: token})
}
