package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	je "github.com/netsift/netsift/pkg/jsonerr"
)

// AdminHeader carries the shared secret on admin requests.
const AdminHeader = "X-Admin-Secret"

var authFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "netsift",
		Subsystem: "httpapi",
		Name:      "auth_failures_total",
		Help:      "Total number of admin requests rejected by the guard.",
	},
)

// guard gates the admin surface behind the shared secret. Developer mode
// waves everything through.
type guard struct {
	secret []byte
	dev    bool
}

// admin wraps next so that it only runs for requests carrying the secret.
// The check happens before the request body is touched: a rejected upload
// costs nothing.
func (g *guard) admin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.dev {
			next(w, r)
			return
		}
		got := r.Header.Get(AdminHeader)
		if len(g.secret) == 0 || subtle.ConstantTimeCompare([]byte(got), g.secret) != 1 {
			authFailures.Inc()
			resp := &je.Response{
				Code:    "unauthorized",
				Message: "missing or wrong " + AdminHeader,
			}
			je.Error(w, resp, http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

// clientIP is the rate-limit key for a request: the first hop recorded in
// X-Forwarded-For when a proxy is in front, the socket peer otherwise.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// cors wraps next with the allowed-origins policy. Preflights are answered
// here; disallowed origins get no CORS headers and the browser does the
// enforcing.
func cors(origins []string, next http.Handler) http.Handler {
	anyOrigin := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			switch {
			case anyOrigin:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case ok:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			if anyOrigin || ok {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AdminHeader)
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
