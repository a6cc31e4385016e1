package handlers

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"

	"git.home.luguber.info/inful/nbrunner/internal/dashboard"
	ferrors "git.home.luguber.info/inful/nbrunner/internal/foundation/errors"
)

// DashboardHandlers serve the CSV dashboard queries. Query endpoints return bare
// JSON arrays.
type DashboardHandlers struct {
	dash         *dashboard.Dashboard
	errorAdapter *ferrors.HTTPErrorAdapter
}

// NewDashboardHandlers creates the dashboard handlers.
func NewDashboardHandlers(d *dashboard.Dashboard) *DashboardHandlers {
	return &DashboardHandlers{dash: d, errorAdapter: ferrors.NewHTTPErrorAdapter(slog.Default())}
}

func (h *DashboardHandlers) list(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		h.errorAdapter.WriteErrorResponse(w, r, err)
		return
	}
	respond(h.errorAdapter, w, r, http.StatusOK, v)
}

// HandleStates lists states.
func (h *DashboardHandlers) HandleStates(w http.ResponseWriter, r *http.Request) {
	v, err := h.dash.States()
	h.list(w, r, v, err)
}

// HandleCounties lists counties, optionally within ?state=.
func (h *DashboardHandlers) HandleCounties(w http.ResponseWriter, r *http.Request) {
	v, err := h.dash.Counties(r.URL.Query().Get("state"))
	h.list(w, r, v, err)
}

// HandleZips lists zip codes within ?state= and ?county=.
func (h *DashboardHandlers) HandleZips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, err := h.dash.Zips(q.Get("state"), q.Get("county"))
	h.list(w, r, v, err)
}

// HandleFilter returns matching rows, capped at dashboard.FilterLimit.
func (h *DashboardHandlers) HandleFilter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, err := h.dash.Filter(q.Get("state"), q.Get("county"), q.Get("zip"))
	h.list(w, r, v, err)
}

// HandleCountyDensity returns density rows. ?state_fips= (or ?state=), ?county_fips=,
// ?county= and ?limit= narrow the result. limit=0 returns no rows; an absent,
// unparsable or negative limit uses the default.
func (h *DashboardHandlers) HandleCountyDensity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dq := dashboard.DensityQuery{
		StateFIPS:  q.Get("state_fips"),
		CountyFIPS: q.Get("county_fips"),
		County:     q.Get("county"),
	}
	if dq.StateFIPS == "" {
		dq.StateFIPS = q.Get("state")
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		if n == 0 {
			h.list(w, r, []map[string]any{}, nil)
			return
		}
		dq.Limit = n
	}
	v, err := h.dash.CountyDensity(dq)
	h.list(w, r, v, err)
}

// HandleDownloadDensity serves the county density CSV as an attachment.
func (h *DashboardHandlers) HandleDownloadDensity(w http.ResponseWriter, r *http.Request) {
	ds := h.dash.DensityFile()
	if !ds.Exists() {
		h.errorAdapter.WriteErrorResponse(w, r, ferrors.NotFoundError("CSV not found").Build())
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(ds.Path())+`"`)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	http.ServeFile(w, r, ds.Path())
}
