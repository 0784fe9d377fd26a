package httpx

import (
	"encoding/json"
	"net/http"
)

// OpsConfig wires the ops endpoints to the running agent. Snapshot
// feeds /statusz and may be nil; Ready feeds /readyz and may be nil
// (always ready).
type OpsConfig struct {
	Version  string
	Ready    func() bool
	Snapshot func() any
}

// OpsHandler serves the container-probe surface: /healthz, /readyz and
// /statusz. Anything else is a 404. The same handler runs on either
// engine through the adapters.
func OpsHandler(cfg OpsConfig) HandlerFunc {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return func(w ResponseWriter, r *Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.Path {
		case "/health", "/healthz":
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
		case "/readyz":
			if cfg.Ready != nil && !cfg.Ready() {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
		case "/statusz":
			var body any = map[string]string{"status": "ok"}
			if cfg.Snapshot != nil {
				body = cfg.Snapshot()
			}
			writeJSON(w, http.StatusOK, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func writeJSON(w ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
