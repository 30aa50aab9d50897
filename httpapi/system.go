package httpapi

import (
	"context"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/netsift/netsift/datastore"
	je "github.com/netsift/netsift/pkg/jsonerr"
)

// openUpload pulls the offline package out of a multipart request. The
// form field is named "package"; fh.Size gives the archive reader its
// bounds.
func openUpload(w http.ResponseWriter, r *http.Request) (multipart.File, int64, bool) {
	f, fh, err := r.FormFile("package")
	if err != nil {
		resp := &je.Response{
			Code:    "bad-input",
			Message: `request needs a multipart "package" file`,
		}
		je.Error(w, resp, http.StatusBadRequest)
		return nil, 0, false
	}
	return f, fh.Size, true
}

// UpdateOffline ingests an offline update package: validate, upsert,
// invalidate. The summary reports what changed.
func (h *HTTP) UpdateOffline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	f, size, ok := openUpload(w, r)
	if !ok {
		return
	}
	defer f.Close()
	sum, err := h.core.Updater.Import(ctx, f, size)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, sum)
}

// UpdateValidate runs the package checks without writing anything.
func (h *HTTP) UpdateValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	f, size, ok := openUpload(w, r)
	if !ok {
		return
	}
	defer f.Close()
	v, err := h.core.Updater.Validate(ctx, f, size)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, v)
}

// DatabaseStats reports catalog shape and size.
func (h *HTTP) DatabaseStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	stats, err := h.core.Store.DatabaseStats(ctx)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, stats)
}

// cacheStatsWire is the admin view of the persistent inference cache.
type cacheStatsWire struct {
	Entries int64     `json:"entries"`
	Oldest  time.Time `json:"oldest,omitzero"`
	Newest  time.Time `json:"newest,omitzero"`
}

// SystemHealth is the admin health view: the open endpoint's liveness
// answer plus catalog and cache statistics.
func (h *HTTP) SystemHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	resp := struct {
		Status   string                   `json:"status"`
		Database *datastore.DatabaseStats `json:"database,omitempty"`
		Cache    *cacheStatsWire          `json:"cache,omitempty"`
		Error    string                   `json:"error,omitempty"`
	}{Status: "ok"}

	dbctx, done := context.WithTimeout(ctx, 10*time.Second)
	defer done()
	stats, err := h.core.Store.DatabaseStats(dbctx)
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		respond(ctx, w, http.StatusServiceUnavailable, &resp)
		return
	}
	resp.Database = stats
	if n, oldest, newest, err := h.core.Store.CacheStats(dbctx); err == nil {
		resp.Cache = &cacheStatsWire{Entries: n, Oldest: oldest, Newest: newest}
	}
	respond(ctx, w, http.StatusOK, &resp)
}

// CacheStats reports the persistent inference cache's entry count and age
// bounds.
func (h *HTTP) CacheStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	n, oldest, newest, err := h.core.Store.CacheStats(ctx)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, &cacheStatsWire{Entries: n, Oldest: oldest, Newest: newest})
}

// CacheClear drops cached analysis state. cache_type selects the tier:
// "analysis" clears the in-memory result registry, "psirt" the persistent
// cache, "all" both.
func (h *HTTP) CacheClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	ct := r.URL.Query().Get("cache_type")
	if ct == "" {
		ct = "all"
	}
	var analysis, psirt bool
	switch ct {
	case "analysis":
		analysis = true
	case "psirt":
		psirt = true
	case "all":
		analysis, psirt = true, true
	default:
		resp := &je.Response{
			Code:    "bad-input",
			Message: `cache_type must be "analysis", "psirt" or "all"`,
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}

	resp := struct {
		CacheType string `json:"cache_type"`
		Analysis  int    `json:"analysis_cleared"`
		PSIRT     int64  `json:"psirt_cleared"`
	}{CacheType: ct}
	if analysis {
		resp.Analysis = h.core.Analyzer.ClearResults()
	}
	if psirt {
		n, err := h.core.Store.ClearCache(ctx)
		if err != nil {
			je.From(w, err)
			return
		}
		resp.PSIRT = n
	}
	respond(ctx, w, http.StatusOK, &resp)
}
