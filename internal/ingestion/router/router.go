// Package router wires the archive's HTTP routes and middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/pkg/ratelimit"
)

// Options configures the optional parts of the chain.
type Options struct {
	// Metrics, when set, records per-request Prometheus metrics.
	Metrics *metrics.Metrics
	// RequestTimeout bounds each request. Zero disables it.
	RequestTimeout time.Duration
	// UploadLimiter, when set, caps uploads per client address.
	UploadLimiter *ratelimit.Limiter
}

// New builds the archive HTTP handler.
//
// Route table:
//
//	POST    /api/conversation       → store a conversation
//	GET     /api/conversation       → list conversations, newest first
//	GET     /api/conversation/{id}  → fetch one conversation with content
//	OPTIONS /api/conversation[/…]   → CORS preflight (answered by middleware)
//	GET     /health/live            → liveness
//	GET     /health/ready           → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit (POST only) → Timeout → handler
func New(h *handler.Handler, checker *health.Checker, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/conversation", h.Ingest)
	mux.HandleFunc("GET /api/conversation", h.List)
	mux.HandleFunc("GET /api/conversation/{id}", h.Get)

	var chain http.Handler = mux
	chain = pkgmw.Timeout(opts.RequestTimeout)(chain)
	if opts.UploadLimiter != nil {
		chain = pkgmw.RateLimit(opts.UploadLimiter, http.MethodPost)(chain)
	}
	if opts.Metrics != nil {
		chain = pkgmw.Metrics(opts.Metrics, mux)(chain)
	}
	chain = pkgmw.CORS(pkgmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
