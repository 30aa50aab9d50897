package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/netsift/netsift"
	je "github.com/netsift/netsift/pkg/jsonerr"
	"github.com/netsift/netsift/verifier"
)

// deviceWire is the address+credentials block of verification requests.
// The password goes straight into a transient Credentials value; nothing
// here is logged or retained.
type deviceWire struct {
	Host       string `json:"host"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceType string `json:"device_type,omitempty"`
}

// validate answers 400 itself when the block is unusable, so callers just
// bail on !ok.
func (d *deviceWire) validate(w http.ResponseWriter) (creds verifier.Credentials, hint netsift.Platform, ok bool) {
	if d.Host == "" || d.Username == "" || d.Password == "" {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "device needs host, username and password",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return creds, hint, false
	}
	if d.DeviceType != "" {
		p, err := netsift.ParsePlatform(d.DeviceType)
		if err != nil {
			je.From(w, err)
			return creds, hint, false
		}
		hint = p
	}
	return verifier.Credentials{Username: d.Username, Password: d.Password}, hint, true
}

// AnalyzePSIRT runs the tiered label analysis for one advisory summary.
func (h *HTTP) AnalyzePSIRT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatAnalyze) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Summary    string `json:"summary"`
		Platform   string `json:"platform"`
		AdvisoryID string `json:"advisory_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	platform, err := netsift.ParsePlatform(req.Platform)
	if err != nil {
		je.From(w, err)
		return
	}
	a, err := h.core.Analyzer.Analyze(ctx, req.Summary, platform, req.AdvisoryID)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, a)
}

// Results serves a previously returned analysis while its TTL lasts.
func (h *HTTP) Results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatDefault) {
		return
	}
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/results/")
	a, ok := h.core.Analyzer.Analysis(id)
	if !ok {
		resp := &je.Response{
			Code:    "not-found",
			Message: fmt.Sprintf("analysis %q is not retained; results lapse after their TTL", id),
		}
		je.Error(w, resp, http.StatusNotFound)
		return
	}
	respond(ctx, w, http.StatusOK, a)
}

// verifyResponse is a verification report plus the discovery facts it was
// judged against, when discovery got that far.
type verifyResponse struct {
	*verifier.Report
	Facts *verifier.DeviceFacts `json:"device_facts,omitempty"`
}

// VerifyDevice checks an analysis against a live device over SSH.
//
// The response body is always the report shape. When discovery itself
// failed the report verdict is ERROR and the HTTP status reflects the
// transport failure class instead of 200.
func (h *HTTP) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatVerify) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		AnalysisID string          `json:"analysis_id"`
		Device     deviceWire      `json:"device"`
		Metadata   *verifier.Claim `json:"psirt_metadata"`
	}
	if !decode(w, r, &req) {
		return
	}
	creds, hint, ok := req.Device.validate(w)
	if !ok {
		return
	}
	a, ok := h.core.Analyzer.Analysis(req.AnalysisID)
	if !ok {
		resp := &je.Response{
			Code:    "not-found",
			Message: fmt.Sprintf("analysis %q is not retained; run the analysis again", req.AnalysisID),
		}
		je.Error(w, resp, http.StatusNotFound)
		return
	}

	rep, facts, err := h.core.Verifier.VerifyDevice(ctx, req.Device.Host, creds, hint, a, req.Metadata)
	status := http.StatusOK
	if err != nil {
		status = je.Status(err)
	}
	respond(ctx, w, status, &verifyResponse{Report: rep, Facts: facts})
}

// VerifySnapshot checks an analysis against an already-extracted snapshot,
// no device access involved.
func (h *HTTP) VerifySnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatVerify) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		AnalysisID string                   `json:"analysis_id"`
		Snapshot   *netsift.FeatureSnapshot `json:"snapshot"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Snapshot == nil {
		resp := &je.Response{
			Code:    "bad-input",
			Message: "request carries no snapshot",
		}
		je.Error(w, resp, http.StatusBadRequest)
		return
	}
	if err := req.Snapshot.Validate(); err != nil {
		je.From(w, err)
		return
	}
	a, ok := h.core.Analyzer.Analysis(req.AnalysisID)
	if !ok {
		resp := &je.Response{
			Code:    "not-found",
			Message: fmt.Sprintf("analysis %q is not retained; run the analysis again", req.AnalysisID),
		}
		je.Error(w, resp, http.StatusNotFound)
		return
	}
	respond(ctx, w, http.StatusOK, verifier.VerifySnapshot(a, req.Snapshot))
}

// ExtractFeatures connects to a device and returns its sanitized feature
// snapshot. Credentials are used for the one session and dropped.
func (h *HTTP) ExtractFeatures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allow(w, r, CatVerify) {
		return
	}
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Device   deviceWire `json:"device"`
		Platform string     `json:"platform"`
	}
	if !decode(w, r, &req) {
		return
	}
	creds, hint, ok := req.Device.validate(w)
	if !ok {
		return
	}
	if req.Platform != "" {
		p, err := netsift.ParsePlatform(req.Platform)
		if err != nil {
			je.From(w, err)
			return
		}
		hint = p
	}
	facts, err := h.core.Verifier.Discover(ctx, req.Device.Host, creds, hint)
	if err != nil {
		je.From(w, err)
		return
	}
	respond(ctx, w, http.StatusOK, facts.Snapshot)
}
