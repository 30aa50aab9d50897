// Package httpapi is the HTTP surface over the analysis, scanning,
// verification, inventory, and update components.
//
// One handler method per endpoint, JSON bodies both ways, errors rendered
// through pkg/jsonerr. Rate limits apply per (client IP, category) before
// any work happens; the admin surface under /system/ additionally requires
// the shared secret unless the process runs in developer mode.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/netsift/netsift/datastore"
	"github.com/netsift/netsift/inference"
	"github.com/netsift/netsift/inventory"
	je "github.com/netsift/netsift/pkg/jsonerr"
	"github.com/netsift/netsift/scanner"
	"github.com/netsift/netsift/taxonomy"
	"github.com/netsift/netsift/updater"
	"github.com/netsift/netsift/verifier"
)

// Core bundles the components the API serves. cmd/netsiftd builds one and
// hands it to NewHandler; every field is required.
type Core struct {
	Store     datastore.Store
	Analyzer  *inference.Engine
	Scanner   *scanner.Scanner
	Verifier  *verifier.Verifier
	Inventory *inventory.Coordinator
	Updater   *updater.Updater
	Taxonomy  *taxonomy.Store
}

// Config is the API's environment: the guard secret, developer mode, the
// CORS allowlist, and rate limits.
type Config struct {
	// AdminSecret gates the /system/ surface. Empty means every admin
	// request is rejected unless DevMode is set.
	AdminSecret string
	// DevMode waves admin requests through without the secret.
	DevMode bool
	// AllowedOrigins is the CORS allowlist. Empty disables cross-origin
	// access; "*" allows everything.
	AllowedOrigins []string
	// RateWindow and RateLimits tune the limiter; zero values mean the
	// package defaults.
	RateWindow time.Duration
	RateLimits Limits
}

var _ http.Handler = (*HTTP)(nil)

// HTTP is the assembled API handler.
type HTTP struct {
	*http.ServeMux
	core  *Core
	lim   *Limiter
	guard *guard
	// wrapped is the mux behind the CORS policy; ServeHTTP goes through
	// it.
	wrapped http.Handler
}

// NewHandler wires every endpoint over the given core.
func NewHandler(core *Core, cfg Config) *HTTP {
	h := &HTTP{
		core:  core,
		lim:   NewLimiter(cfg.RateWindow, cfg.RateLimits),
		guard: &guard{secret: []byte(cfg.AdminSecret), dev: cfg.DevMode},
	}
	m := http.NewServeMux()
	m.HandleFunc("/health", h.Health)
	m.HandleFunc("/analyze-psirt", h.AnalyzePSIRT)
	m.HandleFunc("/results/", h.Results)
	m.HandleFunc("/verify-device", h.VerifyDevice)
	m.HandleFunc("/verify-snapshot", h.VerifySnapshot)
	m.HandleFunc("/extract-features", h.ExtractFeatures)
	m.HandleFunc("/scan-device", h.ScanDevice)
	m.HandleFunc("/vulnerability/", h.Vulnerability)
	m.HandleFunc("/taxonomy/", h.Taxonomy)

	m.HandleFunc("/inventory/devices", h.Devices)
	m.HandleFunc("/inventory/devices/", h.Device)
	m.HandleFunc("/inventory/sync", h.Sync)
	m.HandleFunc("/inventory/scan-all", h.ScanAll)
	m.HandleFunc("/inventory/discover-all", h.DiscoverAll)
	m.HandleFunc("/inventory/compare-scans", h.CompareScans)
	m.HandleFunc("/inventory/compare-versions", h.CompareVersions)
	m.HandleFunc("/inventory/scan-result/", h.ScanResultByID)

	m.Handle("/system/update/offline", h.guard.admin(h.UpdateOffline))
	m.Handle("/system/update/validate", h.guard.admin(h.UpdateValidate))
	m.Handle("/system/stats/database", h.guard.admin(h.DatabaseStats))
	m.Handle("/system/health", h.guard.admin(h.SystemHealth))
	m.Handle("/system/cache/stats", h.guard.admin(h.CacheStats))
	m.Handle("/system/cache/clear", h.guard.admin(h.CacheClear))

	h.ServeMux = m
	h.wrapped = cors(cfg.AllowedOrigins, m)
	return h
}

// ServeHTTP dispatches through the CORS wrapper. It shadows the embedded
// mux's method so the policy cannot be bypassed.
func (h *HTTP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.wrapped.ServeHTTP(w, r)
}

// allow applies the category's rate limit, answering 429 when the client is
// over budget.
func (h *HTTP) allow(w http.ResponseWriter, r *http.Request, cat Category) bool {
	if h.lim.Allow(clientIP(r), cat) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(h.lim.window/time.Second)))
	resp := &je.Response{
		Code:    "rate-limited",
		Message: "client over the request budget for this endpoint class",
	}
	je.Error(w, resp, http.StatusTooManyRequests)
	return false
}

// respond writes v as the JSON response body.
func respond(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Can't change the header or write a different body, because the
		// response already started.
		zlog.Warn(ctx).Err(err).Msg("failed to encode response")
	}
}

// decode reads the JSON request body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		resp := &je.Response{
			Code:    "bad-input",
			Message: fmt.Sprintf("could not deserialize request: %v", err),
		}
		je.Error(w, resp, http.StatusBadRequest)
		return false
	}
	return true
}

// methodOnly answers 405 unless the request used one of the allowed
// methods.
func methodOnly(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	resp := &je.Response{
		Code:    "method-not-allowed",
		Message: "endpoint only allows " + strings.Join(methods, " and "),
	}
	je.Error(w, resp, http.StatusMethodNotAllowed)
	return false
}

// Health is the open liveness endpoint: process up, components wired, the
// database answering. It is deliberately outside the rate limiter so probes
// cannot starve themselves.
func (h *HTTP) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	type component struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}

	dbctx, done := context.WithTimeout(ctx, 2*time.Second)
	defer done()
	db := component{OK: true}
	if _, _, _, err := h.core.Store.CacheStats(dbctx); err != nil {
		db = component{Error: err.Error()}
	}

	resp := struct {
		Status     string               `json:"status"`
		Components map[string]component `json:"components"`
	}{
		Status: "ok",
		Components: map[string]component{
			"database":  db,
			"analysis":  {OK: h.core.Analyzer != nil},
			"scanner":   {OK: h.core.Scanner != nil},
			"verifier":  {OK: h.core.Verifier != nil},
			"inventory": {OK: h.core.Inventory != nil},
			"updater":   {OK: h.core.Updater != nil},
		},
	}
	status := http.StatusOK
	if !db.OK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respond(ctx, w, status, &resp)
}
