package httpapi

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/pkg/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// queryAPI serves reads of the state the hub writes to the store
type queryAPI struct {
	store    store.Store
	presence *realtime.Presence
}

type chatHistory struct {
	Room     string            `json:"room"`
	Messages []json.RawMessage `json:"messages"`
}

type productAnalytics struct {
	ProductID  string `json:"productId"`
	TotalViews int64  `json:"totalViews"`
	DailyViews int64  `json:"dailyViews"`
}

type aiUsage struct {
	UserID       string `json:"userId"`
	TotalQueries int64  `json:"totalQueries"`
}

type presenceView struct {
	UserID string `json:"userId"`
	realtime.PresenceRecord
}

// history returns the newest chat messages of a room, newest first
func (a *queryAPI) history(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, response{Error: "Invalid limit"})
			return
		}
		limit = n
	}

	entries, err := a.store.ListRange(r.Context(), store.ChatKey(room), 0, int64(limit-1))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	out := chatHistory{Room: room, Messages: make([]json.RawMessage, 0, len(entries))}
	for _, e := range entries {
		out.Messages = append(out.Messages, json.RawMessage(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *queryAPI) productViews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productId")

	total, err := a.counter(r, store.KeyProductViews, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	daily, err := a.counter(r, store.KeyProductViewsDay, id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productAnalytics{ProductID: id, TotalViews: total, DailyViews: daily})
}

func (a *queryAPI) aiStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")

	n, err := a.counter(r, store.AIStatsKey(id), store.FieldTotalQueries)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, aiUsage{UserID: id, TotalQueries: n})
}

func (a *queryAPI) userPresence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")

	record, err := a.presence.Get(r.Context(), id)
	if stderrors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, response{Error: "Unknown user"})
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presenceView{UserID: id, PresenceRecord: *record})
}

// counter reads a numeric hash field; a missing field counts as zero
func (a *queryAPI) counter(r *http.Request, key, field string) (int64, error) {
	raw, err := a.store.HashGet(r.Context(), key, field)
	if stderrors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (a *queryAPI) fail(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("query failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, response{Error: "Failed to read state"})
}
