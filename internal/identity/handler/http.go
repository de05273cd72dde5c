// Package handler exposes the token lifecycle over HTTP: refresh, logout and bulk revocation.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/identity/domain"
	"security-gateway/backend/internal/identity/service"
	"security-gateway/backend/internal/logging"
	"security-gateway/backend/internal/platform/rbac"
	policydomain "security-gateway/backend/internal/policy/domain"
	"security-gateway/backend/internal/policy/engine"
	"security-gateway/backend/internal/querysafety"
	"security-gateway/backend/internal/server/interceptors"
	"security-gateway/backend/internal/validation"
)

// PermissionRevokeTokens allows revoking another subject's tokens.
const PermissionRevokeTokens = "tokens:revoke"

// refreshSubject keys refresh failures in the brute-force guard; a rejected token names no user.
const refreshSubject = "refresh"

// TokenService is the subset of the token lifecycle manager the handlers need.
type TokenService interface {
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	RevokeAllUserTokens(ctx context.Context, userID string) (int, error)
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=4096"`
}

// RefreshResponse is the rotated pair.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// LogoutRequest is the optional body of POST /api/auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"omitempty,max=4096"`
}

// RevokeAllRequest is the optional body of POST /api/auth/revoke-all. An empty UserID means
// the caller.
type RevokeAllRequest struct {
	UserID string `json:"userId" validate:"omitempty,max=128"`
}

// StatusResponse acknowledges logout and revoke-all.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Revoked *int   `json:"revoked,omitempty"`
}

// AuthHandler serves the token endpoints.
type AuthHandler struct {
	tokens    TokenService
	authz     engine.Authorizer
	validator *validation.Validator
	guard     *querysafety.BruteForceGuard
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthHandler returns the handler. authz guards revoking other users' tokens.
func NewAuthHandler(tokens TokenService, authz engine.Authorizer, v *validation.Validator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		tokens:    tokens,
		authz:     authz,
		validator: v,
		logger:    logging.WithComponent(logger, "auth_handler"),
		now:       time.Now,
	}
}

// WithBruteForceGuard counts rejected refresh tokens per client IP and blocks the IP once the
// guard threshold is reached.
func (h *AuthHandler) WithBruteForceGuard(g *querysafety.BruteForceGuard) *AuthHandler {
	h.guard = g
	return h
}

// Refresh handles POST /api/auth/refresh. It is public; the refresh token is the credential.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := interceptors.GetClientIP(ctx)
	if h.guard != nil {
		if wait, blocked := h.guard.Blocked(ip); blocked {
			apierror.Write(w, apierror.RateLimited(apierror.CodeBruteForce, wait))
			return
		}
	}
	var req RefreshRequest
	if err := h.validator.DecodeJSON(r, &req); err != nil {
		apierror.Write(w, err)
		return
	}
	pair, err := h.tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if h.guard != nil && (errors.Is(err, service.ErrInvalidToken) || errors.Is(err, service.ErrTokenRevoked)) {
			if wait, blocked := h.guard.RecordFailure(ctx, ip, refreshSubject); blocked {
				apierror.Write(w, apierror.RateLimited(apierror.CodeBruteForce, wait))
				return
			}
		}
		h.writeTokenError(w, "refresh", err)
		return
	}
	if h.guard != nil {
		h.guard.RecordSuccess(ctx, ip, refreshSubject)
	}
	w.Header().Set("Cache-Control", "no-store")
	apierror.WriteJSON(w, http.StatusOK, RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn(h.now()),
	})
}

// Logout handles POST /api/auth/logout behind the auth middleware. The body is optional.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	access, ok := interceptors.GetBearerToken(ctx)
	if !ok {
		apierror.Write(w, apierror.Auth(nil))
		return
	}
	var req LogoutRequest
	if r.ContentLength != 0 {
		if err := h.validator.DecodeJSON(r, &req); err != nil {
			apierror.Write(w, err)
			return
		}
	}
	if err := h.tokens.Logout(ctx, access, req.RefreshToken); err != nil {
		h.writeTokenError(w, "logout", err)
		return
	}
	apierror.WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "Logged out"})
}

// RevokeAll handles POST /api/auth/revoke-all behind the auth middleware. Callers may revoke
// their own tokens; revoking another user's requires tokens:revoke.
func (h *AuthHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req RevokeAllRequest
	if r.ContentLength != 0 {
		if err := h.validator.DecodeJSON(r, &req); err != nil {
			apierror.Write(w, err)
			return
		}
	}
	caller, ok := interceptors.GetUserID(ctx)
	if !ok {
		apierror.Write(w, apierror.Auth(nil))
		return
	}
	target := req.UserID
	if target == "" {
		target = caller
	}
	if _, err := rbac.RequirePermission(ctx, h.authz, PermissionRevokeTokens, policydomain.Resource{OwnerID: target}); err != nil {
		apierror.Write(w, err)
		return
	}
	n, err := h.tokens.RevokeAllUserTokens(ctx, target)
	if err != nil {
		h.writeTokenError(w, "revoke_all", err)
		return
	}
	h.logger.Info("revoked all tokens", zap.String("user_id", target), zap.String("by", caller), zap.Int("count", n))
	apierror.WriteJSON(w, http.StatusOK, StatusResponse{Success: true, Message: "All tokens revoked", Revoked: &n})
}

// writeTokenError maps lifecycle errors to the client envelope. Every token failure, including
// an unreachable store, reads "Invalid or expired token".
func (h *AuthHandler) writeTokenError(w http.ResponseWriter, op string, err error) {
	var throttled *service.ThrottledError
	switch {
	case errors.As(err, &throttled):
		apierror.Write(w, apierror.RateLimited(apierror.CodeRefreshThrottle, throttled.RetryAfter))
	case errors.Is(err, service.ErrStoreUnavailable):
		h.logger.Error("token store unavailable", zap.String("op", op), zap.Error(err))
		apierror.Write(w, apierror.Auth(err))
	case errors.Is(err, service.ErrInvalidToken), errors.Is(err, service.ErrTokenRevoked):
		apierror.Write(w, apierror.Auth(err))
	default:
		h.logger.Error("token operation failed", zap.String("op", op), zap.Error(err))
		apierror.Write(w, apierror.Internal(err))
	}
}
