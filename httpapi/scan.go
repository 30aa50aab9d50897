package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/netsift/netsift"
	je "github.com/netsift/netsift/pkg/jsonerr"
	"github.com/netsift/netsift/scanner"
)

// ScanDevice matches one (platform, version, hardware, features) tuple
// against the catalog.
func (h *HTTP) ScanDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatScan) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Platform string `json:"platform"`
		Version  string `json:"version"`
		Hardware string `json:"hardware"`
		// Features nil means "unknown": the feature tier is skipped
		// rather than treated as an empty configuration.
		Features   []string           `json:"features"`
		Severities []netsift.Severity `json:"severity_filter"`
		Limit      int                `json:"limit"`
		Offset     int                `json:"offset"`
	}
	if !decode(w, r, &req) {
		return
	}
	platform, err := netsift.ParsePlatform(req.Platform)
	if err != nil {
		je.From(w, err)
		return
	}
	for _, s := range req.Severities {
		if !s.Valid() {
			resp := &je.Response{
				Code:    "bad-input",
				Message: fmt.Sprintf("severity_filter value %d is outside 1..6", int(s)),
			}
			je.Error(w, resp, http.StatusBadRequest)
			return
		}
	}
	res, err := h.core.Scanner.Scan(ctx, &scanner.Request{
		Platform:   platform,
		Version:    req.Version,
		Hardware:   req.Hardware,
		Features:   req.Features,
		Severities: req.Severities,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, res)
}

// Vulnerability serves one catalog record by identifier.
func (h *HTTP) Vulnerability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/vulnerability/")
	if id == "" {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "path needs a vulnerability identifier",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}
	v, err := h.core.Store.Vulnerability(ctx, id)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, v)
}

// Taxonomy lists a platform's label catalog.
func (h *HTTP) Taxonomy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	platform, err := netsift.ParsePlatform(strings.TrimPrefix(r.URL.Path, "/taxonomy/"))
	if err != nil {
		je.From(w, err)
		return
	}
	entries := h.core.Taxonomy.Catalog(platform)
	resp := struct {
		Platform netsift.Platform        `json:"platform"`
		Labels   []netsift.TaxonomyEntry `json:"labels"`
		Total    int                     `json:"total"`
	}{platform, entries, len(entries)}
	respond(ctx, w, http.StatusOK, &resp)
}
