// Package httpx abstracts the ops listener's HTTP engine. The agent's
// health surface can run on fasthttp or net/http behind one handler
// shape; the adapters translate either transport into Request and
// ResponseWriter.
package httpx

import (
	"context"
	"io"
	"net/http"
)

// Request is the engine-neutral request handed to handlers. Prefer
// Ctx for cancellation and values.
type Request struct {
	Ctx        context.Context
	Method     string
	Path       string
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string
	// Raw holds the transport-specific request object (*http.Request or
	// *fasthttp.RequestCtx) as an escape hatch.
	Raw interface{}
}

// ResponseWriter is the subset of http.ResponseWriter semantics the
// adapters guarantee.
type ResponseWriter interface {
	Header() http.Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// HandlerFunc is the handler signature shared by both engines.
type HandlerFunc func(w ResponseWriter, r *Request)
