package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog/log"
)

// ProxyHandler forwards requests under a prefix to the platform API
// unchanged. It serves the screens the console has no logic for.
type ProxyHandler struct {
	prefix  string
	handler fiber.Handler
}

// NewProxyHandler creates a proxy that strips prefix and forwards to target.
func NewProxyHandler(prefix, target, token string) (*ProxyHandler, error) {
	remote, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid platform URL: %w", err)
	}
	if remote.Scheme == "" || remote.Host == "" {
		return nil, fmt.Errorf("invalid platform URL: %q", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Rewrite Host and path so the platform sees a request addressed to it
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		req.URL.Path = strings.TrimPrefix(req.URL.Path, prefix)
		req.URL.RawPath = ""
		originalDirector(req)
		req.Host = remote.Host
		if token != "" && req.Header.Get("Authorization") == "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// Error Handler: Return standard BadGateway if connectivity fails
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn().Err(err).Str("target", remote.Host).Str("path", r.URL.Path).Msg("Platform proxy failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, `{"error":%q}`, "platform unreachable: "+err.Error())
	}

	return &ProxyHandler{prefix: prefix, handler: adaptor.HTTPHandler(proxy)}, nil
}

// ProxyRequest forwards the request to the platform.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	return h.handler(c)
}
