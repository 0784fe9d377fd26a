package auth

import (
	"net/http"

	"autosync/pkg/logger"
)

// AuthorizeUserAccess checks that the caller may read conversation data
// for userID. Admin keys pass unconditionally. Dashboard keys need a
// signature verified by RequireSignedUser over the same user id.
// Returns a zero status when allowed, else the status and message to
// send.
func AuthorizeUserAccess(r *http.Request, userID string) (int, string) {
	if r.Header.Get("X-Role-Name") == "admin" {
		return 0, ""
	}
	if id := UserIDFromContext(r.Context()); id != "" {
		if id == userID {
			return 0, ""
		}
		logger.Warn("user_mismatch_signature_path", "signature", id, "path_user", userID, "remote", r.RemoteAddr)
		return http.StatusForbidden, "user mismatch between signature and path"
	}
	logger.Warn("missing_user_signature", "path", r.URL.Path, "remote", r.RemoteAddr)
	return http.StatusUnauthorized, "missing or invalid user signature"
}
