package audit

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantry/pkg/httputil"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handlers provides HTTP handlers for the audit log API. Routes are
// registered on a project subrouter whose middleware has already checked
// membership and the view_audit policy.
type Handlers struct {
	store Store
}

// NewHandlers creates new audit handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers audit routes relative to /projects/{project_id}
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit", h.listEntries).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/audit/{entry_id:[0-9]+}", h.getEntry).Methods("GET")
}

// listEntries handles GET /projects/{project_id}/audit
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}

	httputil.WriteSuccess(w, ListResponse{
		Entries: entries,
		Count:   len(entries),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// ListResponse is one page of audit entries
type ListResponse struct {
	Entries []*Entry `json:"entries"`
	Count   int      `json:"count"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// getEntry handles GET /projects/{project_id}/audit/{entry_id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}
	entryID, ok := httputil.ParsePathInt64OrError(w, r, "entry_id")
	if !ok {
		return
	}

	entry, err := h.store.Get(r.Context(), projectID, entryID)
	if errors.Is(err, ErrEntryNotFound) {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, entry)
}

// exportEntries handles GET /projects/{project_id}/audit/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.parseFilter(w, r)
	if !ok {
		return
	}
	// Exports are not paginated unless asked to be
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 0
	}

	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))
	if format != ExportFormatJSON && format != ExportFormatCSV && format != ExportFormatNDJSON {
		httputil.WriteBadRequest(w, "format must be one of json, csv, ndjson")
		return
	}

	data, err := h.store.Export(r.Context(), filter, format)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	filename := "audit-" + strconv.FormatInt(filter.ProjectID, 10)
	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename+".csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename+".ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename+".json")
	}

	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// getStats handles GET /projects/{project_id}/audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return
	}

	from, err := httputil.ParseQueryTime(r, "from")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	to, err := httputil.ParseQueryTime(r, "to")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.Stats(r.Context(), projectID, from, to)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// parseFilter builds a filter from the path and query parameters
func (h *Handlers) parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	projectID, ok := httputil.ParsePathInt64OrError(w, r, "project_id")
	if !ok {
		return Filter{}, false
	}

	filter := Filter{
		ProjectID:  projectID,
		EntityType: r.URL.Query().Get("entity_type"),
		EntityID:   r.URL.Query().Get("entity_id"),
		Action:     r.URL.Query().Get("action"),
		Area:       r.URL.Query().Get("area"),
		Ascending:  r.URL.Query().Get("order") == "asc",
	}

	actorID, err := httputil.ParseQueryInt64(r, "actor_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return Filter{}, false
	}
	if actorID > 0 {
		filter.ActorID = &actorID
	}

	if filter.From, err = httputil.ParseQueryTime(r, "from"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return Filter{}, false
	}
	if filter.To, err = httputil.ParseQueryTime(r, "to"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return Filter{}, false
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return Filter{}, false
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil || filter.Offset < 0 {
		httputil.WriteBadRequest(w, "offset must be a non-negative integer")
		return Filter{}, false
	}

	return filter, true
}
