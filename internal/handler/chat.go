package handler

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/DukeRupert/chatquota/internal/domain"
)

// ChatHandler forwards metered chat requests to the chat pipeline. The
// quota has already been charged by the time a request reaches it.
type ChatHandler struct {
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewChatHandler creates a ChatHandler that proxies to upstream.
func NewChatHandler(upstream *url.URL, logger *slog.Logger) *ChatHandler {
	h := &ChatHandler{logger: logger}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = h.proxyError
	// Stream model output as it arrives.
	proxy.FlushInterval = -1
	h.proxy = proxy

	return h
}

// RegisterRoutes registers the chat route behind the given middleware,
// which must resolve identity and enforce the quota.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, stack func(http.Handler) http.Handler) {
	mux.Handle("POST /api/chat", stack(h))
}

// ServeHTTP implements http.Handler.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The session cookie never leaves this service.
	r.Header.Del("Cookie")
	h.proxy.ServeHTTP(w, r)
}

func (h *ChatHandler) proxyError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("chat upstream failed",
		"path", r.URL.Path,
		"error", err,
	)
	writeJSONError(w, http.StatusBadGateway, domain.EUNAVAILABLE, "The chat service is temporarily unavailable.")
}
