package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"autosync/pkg/config"
)

func setRuntimeKeys(t *testing.T, signing ...string) {
	t.Helper()
	rc := &config.RuntimeConfig{
		DashboardKeys: map[string]struct{}{"dash-key": {}},
		AdminKeys:     map[string]struct{}{"admin-key": {}},
		SigningKeys:   map[string]struct{}{},
	}
	for _, k := range signing {
		rc.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(rc)
	t.Cleanup(func() { config.SetRuntime(nil) })
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("upstream-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestSessionFromTokenClaims(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{
		"sub":   "u1",
		"name":  "Dana",
		"email": "dana@example.com",
		"role":  "Admin",
	})
	s := SessionFromToken(tok)
	if s.UserID != "u1" || s.Name != "Dana" || s.Email != "dana@example.com" {
		t.Fatalf("session = %+v", s)
	}
	if !s.IsAdmin() {
		t.Fatalf("role = %q", s.Role)
	}
}

func TestSessionFromTokenLegacyClaims(t *testing.T) {
	// older tokens carry userId + isAdmin instead of sub + role
	tok := signedToken(t, jwt.MapClaims{"userId": "u2", "isAdmin": true})
	s := SessionFromToken(tok)
	if s.UserID != "u2" || s.Role != SessionAdmin {
		t.Fatalf("session = %+v", s)
	}

	if s := SessionFromToken("not-a-jwt"); s.UserID != "" || s.Role != "" {
		t.Fatalf("garbage token yielded %+v", s)
	}
	if s := SessionFromToken(""); s.UserID != "" {
		t.Fatalf("empty token yielded %+v", s)
	}
}

func TestResolveSessionExplicitWins(t *testing.T) {
	tok := signedToken(t, jwt.MapClaims{"sub": "token-user", "role": "admin", "name": "Token Name"})
	s, err := ResolveSession(config.SessionConfig{Role: "User", UserID: "cfg-user"}, tok)
	if err != nil {
		t.Fatal(err)
	}
	if s.Role != SessionUser || s.UserID != "cfg-user" {
		t.Fatalf("explicit config must win: %+v", s)
	}
	if s.Name != "Token Name" {
		t.Fatalf("unset fields keep token claims: %+v", s)
	}
}

func TestResolveSessionValidation(t *testing.T) {
	if _, err := ResolveSession(config.SessionConfig{Role: "owner", UserID: "u1"}, ""); err == nil {
		t.Fatal("invalid role accepted")
	}
	if _, err := ResolveSession(config.SessionConfig{Role: "user"}, ""); err == nil {
		t.Fatal("user session without an id accepted")
	}
	s, err := ResolveSession(config.SessionConfig{Role: "admin"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !s.IsAdmin() {
		t.Fatalf("session = %+v", s)
	}
	// role defaults to user when neither source names one
	if _, err := ResolveSession(config.SessionConfig{UserID: "u1"}, ""); err != nil {
		t.Fatal(err)
	}
}

func TestSignUserID(t *testing.T) {
	a := SignUserID("key", "u1")
	if a != SignUserID("key", "u1") {
		t.Fatal("signature not deterministic")
	}
	if a == SignUserID("key", "u2") || a == SignUserID("other", "u1") {
		t.Fatal("signature ignores its inputs")
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Verified-User", UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSignedUser(t *testing.T) {
	setRuntimeKeys(t, "signing-secret")
	h := RequireSignedUser(echoUser())

	// valid signature injects the user id
	r := httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/messages", nil)
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("X-User-Signature", SignUserID("signing-secret", "u1"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || w.Header().Get("X-Verified-User") != "u1" {
		t.Fatalf("code = %d verified = %q", w.Code, w.Header().Get("X-Verified-User"))
	}

	// wrong key
	r = httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/messages", nil)
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("X-User-Signature", SignUserID("wrong", "u1"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key code = %d", w.Code)
	}

	// missing headers
	r = httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/messages", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing headers code = %d", w.Code)
	}

	// admin without a signature passes through
	r = httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/messages", nil)
	r.Header.Set("X-Role-Name", "admin")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("admin bypass code = %d", w.Code)
	}
}

func TestRequireSignedUserNoKeysConfigured(t *testing.T) {
	setRuntimeKeys(t) // no signing keys
	h := RequireSignedUser(echoUser())

	r := httptest.NewRequest(http.MethodGet, "/v1/conversations/u1/messages", nil)
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("X-User-Signature", "deadbeef")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestAuthorizeUserAccess(t *testing.T) {
	// admin role passes
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Role-Name", "admin")
	if code, _ := AuthorizeUserAccess(r, "u1"); code != 0 {
		t.Fatalf("admin code = %d", code)
	}

	// matching verified signature passes
	setRuntimeKeys(t, "k")
	var got int
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = AuthorizeUserAccess(r, "u1")
	})
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("X-User-Signature", SignUserID("k", "u1"))
	RequireSignedUser(inner).ServeHTTP(httptest.NewRecorder(), r)
	if got != 0 {
		t.Fatalf("matching signature code = %d", got)
	}

	// signature for another user is forbidden
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-ID", "u2")
	r.Header.Set("X-User-Signature", SignUserID("k", "u2"))
	RequireSignedUser(inner).ServeHTTP(httptest.NewRecorder(), r)
	if got != http.StatusForbidden {
		t.Fatalf("mismatch code = %d", got)
	}

	// no signature at all
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	if code, _ := AuthorizeUserAccess(r, "u1"); code != http.StatusUnauthorized {
		t.Fatalf("unsigned code = %d", code)
	}
}

func TestAuthenticateMiddlewareRoles(t *testing.T) {
	cfg := SecConfig{
		RPS:           100,
		Burst:         100,
		DashboardKeys: map[string]struct{}{"dash-key": {}},
		AdminKeys:     map[string]struct{}{"admin-key": {}},
	}
	var seenRole string
	h := AuthenticateRequestMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRole = r.Header.Get("X-Role-Name")
	}))

	// admin key via bearer
	r := httptest.NewRequest(http.MethodGet, "/v1/outbox", nil)
	r.Header.Set("Authorization", "Bearer admin-key")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || seenRole != "admin" {
		t.Fatalf("admin: code = %d role = %q", w.Code, seenRole)
	}

	// dashboard key via x-api-key, allowed surface
	r = httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	r.Header.Set("X-API-Key", "dash-key")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK || seenRole != "dashboard" {
		t.Fatalf("dashboard: code = %d role = %q", w.Code, seenRole)
	}

	// dashboard key on an operational route is forbidden
	r = httptest.NewRequest(http.MethodPost, "/v1/refresh", nil)
	r.Header.Set("X-API-Key", "dash-key")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("dashboard scope: code = %d", w.Code)
	}

	// unknown key
	r = httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	r.Header.Set("X-API-Key", "nope")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown key: code = %d", w.Code)
	}

	// health endpoints skip auth
	r = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: code = %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := SecConfig{
		AllowedOrigins: []string{"https://dash.example.com"},
		RPS:            100,
		Burst:          100,
		DashboardKeys:  map[string]struct{}{},
	}
	h := AuthenticateRequestMiddleware(cfg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	r := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	r.Header.Set("Origin", "https://dash.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight code = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Fatalf("allow-origin = %q", got)
	}

	// unlisted origin gets no CORS headers
	r = httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin allowed: %q", got)
	}
}
