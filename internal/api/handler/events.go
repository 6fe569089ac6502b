package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	mw "github.com/codex-team/hawk.events/internal/api/middleware"
	"github.com/codex-team/hawk.events/internal/api/response"
	"github.com/codex-team/hawk.events/internal/chart"
	"github.com/codex-team/hawk.events/internal/store"
	"github.com/codex-team/hawk.events/pkg/delta"
	"github.com/codex-team/hawk.events/pkg/search"
)

const defaultLimit = 20

// Events serves the grouped-event retrieval surface. Stores are built per
// request from the project id in the route; nothing project-scoped is
// cached process-wide.
type Events struct {
	db     *mongo.Database
	charts *chart.Reader
}

// NewEvents creates the events handler.
func NewEvents(db *mongo.Database, charts *chart.Reader) *Events {
	return &Events{db: db, charts: charts}
}

func (h *Events) projectStore(w http.ResponseWriter, r *http.Request) (*store.ProjectStore, bool) {
	s, err := store.NewProjectStore(h.db, chi.URLParam(r, "projectID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "project id is required", nil)
		return nil, false
	}
	return s, true
}

// List handles GET /projects/{projectID}/events: the one-row-per-group
// daily listing.
func (h *Events) List(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}

	params := store.DailyListParams{
		Limit:   queryInt64(r, "limit", defaultLimit),
		Sort:    store.Sort(r.URL.Query().Get("sort")),
		Search:  r.URL.Query().Get("search"),
		Filters: markFilters(r),
	}
	cursor, ok := queryCursor(w, r)
	if !ok {
		return
	}
	params.Cursor = cursor

	page, err := s.DailyEvents(r.Context(), params)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	response.Page(w, page.Items, pageMeta(params.Limit, page.NextCursor))
}

// Repetitions handles GET /projects/{projectID}/events/{eventID}/repetitions.
func (h *Events) Repetitions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	eventID, ok := pathObjectID(w, r, "eventID")
	if !ok {
		return
	}
	cursor, ok := queryCursor(w, r)
	if !ok {
		return
	}
	limit := queryInt64(r, "limit", defaultLimit)

	page, err := s.Repetitions(r.Context(), eventID, limit, cursor)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response.Page(w, page.Items, pageMeta(limit, page.NextCursor))
}

// ProjectChart handles GET /projects/{projectID}/chart.
func (h *Events) ProjectChart(w http.ResponseWriter, r *http.Request) {
	params, ok := chartParams(w, r)
	if !ok {
		return
	}
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	points, err := h.charts.ProjectSeries(r.Context(), s.ProjectID(), s, params)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response.JSON(w, points)
}

// GroupChart handles GET /projects/{projectID}/events/{eventID}/chart. The
// id may belong to a repetition; it resolves to the group either way.
func (h *Events) GroupChart(w http.ResponseWriter, r *http.Request) {
	params, ok := chartParams(w, r)
	if !ok {
		return
	}
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	eventID, ok := pathObjectID(w, r, "eventID")
	if !ok {
		return
	}

	event, err := s.ResolveOriginal(r.Context(), eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	points, err := h.charts.GroupSeries(r.Context(), event.GroupHash, s, params)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response.JSON(w, points)
}

// ToggleMark handles POST /projects/{projectID}/events/{eventID}/marks/{mark}.
func (h *Events) ToggleMark(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	eventID, ok := pathObjectID(w, r, "eventID")
	if !ok {
		return
	}
	mark := chi.URLParam(r, "mark")
	if mark == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "mark name is required", nil)
		return
	}

	if err := s.ToggleMark(r.Context(), eventID, mark); err != nil {
		writeStoreError(w, err)
		return
	}
	response.NoContent(w)
}

// Visit handles POST /projects/{projectID}/events/{eventID}/visit.
func (h *Events) Visit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	eventID, ok := pathObjectID(w, r, "eventID")
	if !ok {
		return
	}
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return
	}

	if err := s.VisitEvent(r.Context(), eventID, userID); err != nil {
		writeStoreError(w, err)
		return
	}
	response.NoContent(w)
}

// UpdateAssignee handles PUT /projects/{projectID}/events/{eventID}/assignee.
func (h *Events) UpdateAssignee(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	eventID, ok := pathObjectID(w, r, "eventID")
	if !ok {
		return
	}

	var req struct {
		Assignee string `json:"assignee"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.UpdateAssignee(r.Context(), eventID, req.Assignee); err != nil {
		writeStoreError(w, err)
		return
	}
	response.NoContent(w)
}

// UnreadCount handles GET /projects/{projectID}/unread-count.
func (h *Events) UnreadCount(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	lastVisit := queryInt64(r, "last_visit", 0)

	count, err := s.UnreadCount(r.Context(), lastVisit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response.JSON(w, map[string]int64{"count": count})
}

// GetRelease handles GET /projects/{projectID}/releases/{release}.
func (h *Events) GetRelease(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	release, err := s.FindRelease(r.Context(), chi.URLParam(r, "release"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	response.JSON(w, release)
}

// Provision handles POST /projects/{projectID}: creates the project's
// collections and their required indexes. Idempotent.
func (h *Events) Provision(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	if err := s.EnsureIndexes(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	response.NoContent(w)
}

// RemoveProject handles DELETE /projects/{projectID}: drops all three
// per-project collections.
func (h *Events) RemoveProject(w http.ResponseWriter, r *http.Request) {
	s, ok := h.projectStore(w, r)
	if !ok {
		return
	}
	if err := s.Remove(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	response.NoContent(w)
}

// --- helpers ---

func writeStoreError(w http.ResponseWriter, err error) {
	var decodeErr *delta.DecodeError
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrInvalidLimit):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, chart.ErrInvalidBucket):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "bucket must be at least one minute", nil)
	case errors.Is(err, search.ErrUnsafePattern):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unsafe search pattern", nil)
	case errors.As(err, &decodeErr):
		response.Error(w, http.StatusInternalServerError, "CORRUPT_DATA", decodeErr.Error(), nil)
	case errors.Is(err, store.ErrIntegrity):
		response.Error(w, http.StatusInternalServerError, "CORRUPT_DATA", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Operation failed", nil)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

func pathObjectID(w http.ResponseWriter, r *http.Request, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid object id", nil)
		return primitive.NilObjectID, false
	}
	return id, true
}

func queryCursor(w http.ResponseWriter, r *http.Request) (store.Cursor, bool) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return nil, true
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "cursor is not a valid pagination token", nil)
		return nil, false
	}
	return &id, true
}

func queryInt64(r *http.Request, name string, defaultVal int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return defaultVal
	}
	return v
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	return int(queryInt64(r, name, int64(defaultVal)))
}

// markFilters collects mark filters from query parameters of the form
// filter[resolved]=true / filter[starred]=false. Only the conventional
// mark names are accepted from the URL; the store itself takes any name.
func markFilters(r *http.Request) map[string]bool {
	filters := make(map[string]bool)
	for _, mark := range []string{"resolved", "ignored", "starred"} {
		raw := r.URL.Query().Get("filter[" + mark + "]")
		if raw == "" {
			continue
		}
		want, err := strconv.ParseBool(raw)
		if err != nil {
			continue
		}
		filters[mark] = want
	}
	return filters
}

func chartParams(w http.ResponseWriter, r *http.Request) (chart.Params, bool) {
	p := chart.Params{
		Since:          queryInt64(r, "since", 0),
		Until:          queryInt64(r, "until", 0),
		BucketMinutes:  queryInt(r, "bucket", 1),
		TimezoneOffset: queryInt(r, "tz_offset", 0),
	}
	if p.BucketMinutes < 1 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "bucket must be at least one minute", nil)
		return chart.Params{}, false
	}
	return p, true
}

func pageMeta(limit int64, cursor store.Cursor) response.PageMeta {
	meta := response.PageMeta{Limit: limit, HasMore: cursor != nil}
	if cursor != nil {
		meta.NextCursor = cursor.Hex()
	}
	return meta
}
