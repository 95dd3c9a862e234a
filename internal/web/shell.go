package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
)

// NewShellProxy forwards requests to the static shell at origin through
// transport. With the response cache as transport, pages and stylesheets
// seen once (or precached) keep loading when origin is unreachable.
func NewShellProxy(origin string, transport http.RoundTripper, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid shell origin %q: %w", origin, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid shell origin %q: scheme and host are required", origin)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if pr.In.URL.Path == "/" {
				pr.Out.URL.Path = strings.TrimSuffix(pr.Out.URL.Path, "/") + "/index.html"
				pr.Out.URL.RawPath = ""
			}
			// Conditional requests would bypass the stored copy with a 304.
			pr.Out.Header.Del("If-None-Match")
			pr.Out.Header.Del("If-Modified-Since")
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("shell unavailable", "path", r.URL.Path, "error", err)
			http.Error(w, "offline", http.StatusServiceUnavailable)
		},
	}, nil
}
