// This file forwards page requests that passed the route guard to the
// frontend server.
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// FrontendHandler proxies everything outside /api to the frontend.
type FrontendHandler struct {
	proxy  *httputil.ReverseProxy
	logger *slog.Logger
}

// NewFrontendHandler creates a proxy to frontendURL. An empty URL yields a
// handler that answers 503.
func NewFrontendHandler(frontendURL string, logger *slog.Logger) (*FrontendHandler, error) {
	h := &FrontendHandler{logger: logger}
	if frontendURL == "" {
		return h, nil
	}

	target, err := url.Parse(frontendURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend url %q", frontendURL)
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("frontend proxy failed",
				"error", err,
				"path", r.URL.Path,
			)
			http.Error(w, "The application is temporarily unavailable.", http.StatusBadGateway)
		},
	}
	return h, nil
}

func (h *FrontendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		http.Error(w, "Frontend not configured.", http.StatusServiceUnavailable)
		return
	}
	h.proxy.ServeHTTP(w, r)
}
