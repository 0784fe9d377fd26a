package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"autosync/pkg/config"
	"autosync/pkg/logger"
	"autosync/pkg/utils"
)

const (
	SessionAdmin = "admin"
	SessionUser  = "user"
)

// Session is the identity this agent acts as toward the upstream API.
// Admin sessions sync every conversation; user sessions sync their own.
type Session struct {
	Role   string
	UserID string
	Name   string
	Email  string
}

func (s Session) IsAdmin() bool { return s.Role == SessionAdmin }

// SessionFromToken reads identity claims out of an upstream-issued JWT
// without verifying it. The upstream API is the verifier; this side
// only needs to know who the token says it is.
func SessionFromToken(token string) Session {
	var s Session
	if token == "" {
		return s
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		logger.Warn("token_claims_unreadable", "error", err)
		return s
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return s
	}
	s.UserID = claimString(claims, "sub", "userId", "id")
	s.Name = claimString(claims, "name")
	s.Email = claimString(claims, "email")
	s.Role = strings.ToLower(claimString(claims, "role"))
	if s.Role != SessionAdmin {
		if b, ok := claims["isAdmin"].(bool); ok && b {
			s.Role = SessionAdmin
		}
	}
	return s
}

// ResolveSession builds the effective session: token claims first,
// explicit configuration on top. Explicit values always win.
func ResolveSession(sc config.SessionConfig, token string) (Session, error) {
	s := SessionFromToken(token)
	if sc.Role != "" {
		s.Role = strings.ToLower(strings.TrimSpace(sc.Role))
	}
	if sc.UserID != "" {
		s.UserID = sc.UserID
	}
	if sc.Name != "" {
		s.Name = sc.Name
	}
	if sc.Email != "" {
		s.Email = sc.Email
	}
	if s.Role == "" {
		s.Role = SessionUser
	}
	if s.Role != SessionAdmin && s.Role != SessionUser {
		return s, fmt.Errorf("invalid session role %q", s.Role)
	}
	if s.Role == SessionUser && s.UserID == "" {
		return s, errors.New("user sessions require a user id")
	}
	return s, nil
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k].(string); ok {
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// SignUserID computes the hex HMAC-SHA256 signature a dashboard caller
// presents in X-User-Signature for a user id.
func SignUserID(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureValid(userID, sig string) bool {
	for k := range config.GetSigningKeys() {
		expected := SignUserID(k, userID)
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

type ctxUserKey struct{}

// RequireSignedUser verifies HMAC signature headers and injects the
// verified user id into the request context. Admin keys may skip the
// signature entirely; if they present one it is still verified.
func RequireSignedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		sig := strings.TrimSpace(r.Header.Get("X-User-Signature"))

		if role == "admin" && sig == "" {
			next.ServeHTTP(w, r)
			return
		}

		if sig == "" || userID == "" {
			logger.Warn("missing_signature_headers", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}

		if len(config.GetSigningKeys()) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}

		if !signatureValid(userID, sig) {
			logger.Warn("invalid_signature", "user", userID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		logger.Debug("signature_verified", "user", userID)
		ctx := context.WithValue(r.Context(), ctxUserKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromContext returns the signature-verified user id or empty.
func UserIDFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxUserKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
