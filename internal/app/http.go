package app

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/valyala/fasthttp"

	"autosync/pkg/auth"
	"autosync/pkg/banner"
	"autosync/pkg/httpx"
	"autosync/pkg/logger"
	"autosync/pkg/security"
	"autosync/pkg/telemetry"
)

//go:embed openapi.yaml
var openapiSpec []byte

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.eff, a.session.Role, a.session.UserID, verStr, security.Enabled())
}

// router builds the local API surface.
func (a *App) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapiSpec)
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	v1.Handle("/conversations/{userId}/messages",
		auth.RequireSignedUser(http.HandlerFunc(a.conversationMessages))).Methods(http.MethodGet)
	v1.HandleFunc("/messages", a.ownMessages).Methods(http.MethodGet)
	v1.HandleFunc("/messages", a.postMessage).Methods(http.MethodPost)
	v1.HandleFunc("/refresh", a.refreshNow).Methods(http.MethodPost)
	v1.HandleFunc("/users", a.listUsers).Methods(http.MethodGet)
	v1.HandleFunc("/selection", a.getSelection).Methods(http.MethodGet)
	v1.HandleFunc("/selection", a.putSelection).Methods(http.MethodPut)
	v1.HandleFunc("/notifications", a.listNotifications).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/read-all", a.readAllNotifications).Methods(http.MethodPost)
	v1.HandleFunc("/notifications/{id}/read", a.readNotification).Methods(http.MethodPost)
	v1.HandleFunc("/notifications/{id}", a.dismissNotification).Methods(http.MethodDelete)
	v1.HandleFunc("/outbox", a.listOutbox).Methods(http.MethodGet)
	v1.HandleFunc("/status", a.statusHandler).Methods(http.MethodGet)

	secCfg := auth.SecConfig{
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		RPS:            a.eff.Config.Security.RateLimit.RPS,
		Burst:          a.eff.Config.Security.RateLimit.Burst,
		DashboardKeys:  map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range a.eff.Config.Security.APIKeys.Dashboard {
		secCfg.DashboardKeys[k] = struct{}{}
	}
	for _, k := range a.eff.Config.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}

	wrapped := auth.AuthenticateRequestMiddleware(secCfg)(r)
	return telemetry.Middleware(wrapped)
}

// startHTTP starts the local API listener (and the optional ops
// listener) and returns the server error channel.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()

	if opsAddr := a.eff.Config.Server.OpsAddr; opsAddr != "" {
		a.startOps(opsAddr, errCh)
	}
	return errCh
}

// startOps runs the lightweight health listener on the configured
// engine. It shares no middleware with the API: probes must answer
// even when keys are misconfigured.
func (a *App) startOps(addr string, errCh chan<- error) {
	h := httpx.OpsHandler(httpx.OpsConfig{
		Version:  a.version,
		Ready:    a.ready,
		Snapshot: func() any { return a.statusSnapshot() },
	})

	engine := a.eff.Config.Server.OpsEngine
	if engine == "" {
		engine = "fasthttp"
	}
	logger.Info("ops_listener_starting", "addr", addr, "engine", engine)

	switch engine {
	case "nethttp":
		srv := &http.Server{Addr: addr, Handler: httpx.NetHTTPAdapter(h), ReadHeaderTimeout: 5 * time.Second}
		a.opsClose = srv.Shutdown
		go func() { errCh <- srv.ListenAndServe() }()
	default:
		srv := &fasthttp.Server{
			Handler:      httpx.FastHTTPAdapter(h),
			Name:         "autosync-ops",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		a.opsClose = func(context.Context) error { return srv.Shutdown() }
		go func() { errCh <- srv.ListenAndServe(addr) }()
	}
}

// ready reports whether the store is open and the schema is current.
func (a *App) ready() bool {
	if !a.schemaOK {
		return false
	}
	if a.pebble != nil {
		return a.pebble.Ready()
	}
	return a.kv != nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}
