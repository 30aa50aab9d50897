package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
	"github.com/netsift/netsift/inventory"
	je "github.com/netsift/netsift/pkg/jsonerr"
	"github.com/netsift/netsift/verifier"
)

// parseFilter builds a device filter from optional platform and status
// names, answering 400 itself on unknown values.
func parseFilter(w http.ResponseWriter, platform, status string) (datastore.DeviceFilter, bool) {
	var f datastore.DeviceFilter
	if platform != "" {
		p, err := netsift.ParsePlatform(platform)
		if err != nil {
			je.From(w, err)
			return f, false
		}
		f.Platform = p
	}
	if status != "" {
		st, err := netsift.ParseDeviceStatus(status)
		if err != nil {
			je.From(w, err)
			return f, false
		}
		f.Status = st
	}
	return f, true
}

// Devices lists the inventory (GET, with optional platform/status query
// filters) or registers one device (POST).
func (h *HTTP) Devices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		f, ok := parseFilter(w, q.Get("platform"), q.Get("status"))
		if !ok {
			return
		}
		devs, err := h.core.Inventory.Devices(ctx, f)
		if err != nil {
			je.From(w, err)
			return
		}
		if devs == nil {
			devs = []*netsift.Device{}
		}
		resp := struct {
			Devices []*netsift.Device `json:"devices"`
			Total   int               `json:"total"`
		}{devs, len(devs)}
		respond(ctx, w, http.StatusOK, &resp)

	case http.MethodPost:
		var req struct {
			Host     string `json:"host"`
			Platform string `json:"platform"`
		}
		if !decode(w, r, &req) {
			return
		}
		var platform netsift.Platform
		if req.Platform != "" {
			p, err := netsift.ParsePlatform(req.Platform)
			if err != nil {
				je.From(w, err)
				return
			}
			platform = p
		}
		d, err := h.core.Inventory.Add(ctx, req.Host, platform)
		if err != nil {
			je.From(w, err)
			return
		}
		respond(ctx, w, http.StatusCreated, d)

	default:
		methodOnly(w, r, http.MethodGet, http.MethodPost)
	}
}

// Device routes the per-device subtree: GET and DELETE on the device
// itself, POST {id}/discover, POST {id}/scan.
func (h *HTTP) Device(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/inventory/devices/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		id := parts[0]
		if !h.allow(w, r, CatDefault) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			d, err := h.core.Inventory.Device(ctx, id)
			if err != nil {
				je.From(w, err)
				return
			}
			respond(ctx, w, http.StatusOK, d)
		case http.MethodDelete:
			if err := h.core.Inventory.Remove(ctx, id); err != nil {
				je.From(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodOnly(w, r, http.MethodGet, http.MethodDelete)
		}

	case len(parts) == 2 && parts[1] == "discover":
		if !h.allow(w, r, CatVerify) {
			return
		}
		if !methodOnly(w, r, http.MethodPost) {
			return
		}
		h.discover(w, r, parts[0])

	case len(parts) == 2 && parts[1] == "scan":
		if !h.allow(w, r, CatScan) {
			return
		}
		if !methodOnly(w, r, http.MethodPost) {
			return
		}
		res, err := h.core.Inventory.ScanDevice(ctx, parts[0])
		if err != nil {
			je.From(w, err)
			return
		}
		respond(ctx, w, http.StatusOK, res)

	default:
		resp := &je.Response{
			Code:    "not-found",
			Message: "no such inventory route",
		}
		je.Error(w, resp, http.StatusNotFound)
	}
}

// discover runs one on-demand discovery. A failed attempt still updates the
// device's failure bookkeeping, so the updated record rides along with the
// error body.
func (h *HTTP) discover(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "discovery needs username and password",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}
	d, err := h.core.Inventory.Discover(ctx, id, verifier.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		resp := &je.Response{
			Code:    je.Kind(err),
			Message: err.Error(),
		}
		if d != nil {
			resp.Additional = struct {
				Device *netsift.Device `json:"device"`
			}{d}
		}
		je.Error(w, resp, je.Status(err))
		return
	}
	respond(ctx, w, http.StatusOK, d)
}

// Sync imports devices from an external inventory export. Hosts already
// present are skipped, so the same export can be replayed.
func (h *HTTP) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Devices []inventory.ImportEntry `json:"devices"`
	}
	if !decode(w, r, &req) {
		return
	}
	sum, err := h.core.Inventory.Import(ctx, req.Devices)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, sum)
}

// ScanAll scans every discovered device matching the optional filter. The
// body may be empty.
func (h *HTTP) ScanAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatScan) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Platform string `json:"platform"`
		Status   string `json:"status"`
	}
	if err := readOptional(r, &req); err != nil {
		je.From(w, err)
		return
	}
	f, ok := parseFilter(w, req.Platform, req.Status)
	if !ok {
		return
	}
	res, err := h.core.Inventory.BulkScan(ctx, f)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, res)
}

// DiscoverAll runs discovery across the inventory with one credential set,
// honoring each device's retry schedule.
func (h *HTTP) DiscoverAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatVerify) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Platform string `json:"platform"`
		Status   string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "discovery needs username and password",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}
	f, ok := parseFilter(w, req.Platform, req.Status)
	if !ok {
		return
	}
	res, err := h.core.Inventory.BulkDiscover(ctx, f, verifier.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, res)
}

// CompareScans diffs a device's two retained scans.
func (h *HTTP) CompareScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "request needs a device_id",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}
	cmp, err := h.core.Inventory.CompareScans(ctx, req.DeviceID)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, cmp)
}

// CompareVersions scans a device tuple at two versions and grades the
// upgrade between them.
func (h *HTTP) CompareVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatScan) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req inventory.CompareRequest
	if !decode(w, r, &req) {
		return
	}
	vc, err := h.core.Inventory.CompareVersions(ctx, &req)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, vc)
}

// ScanResultByID serves one retained scan by its id.
func (h *HTTP) ScanResultByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/inventory/scan-result/")
	if id == "" {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "path needs a scan id",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}
	res, err := h.core.Inventory.ScanResult(ctx, id)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, res)
}

// readOptional decodes a JSON body into v, treating an empty body as the
// zero value.
func readOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil || errors.Is(err, io.EOF):
		return nil
	default:
		return &netsift.Error{Kind: netsift.ErrBadInput, Message: "could not deserialize request: " + err.Error()}
	}
}
