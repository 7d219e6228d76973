package httpapi

import (
	stderrors "errors"
	"net/http"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/realtime"
	"github.com/goccy/go-json"
)

// maxBodyBytes bounds a control request body
const maxBodyBytes = 64 << 10

type controlAPI struct {
	publisher *realtime.Publisher
	logger    *logging.Logger
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (a *controlAPI) inventory(w http.ResponseWriter, r *http.Request) {
	var req realtime.InventoryUpdate
	if !decode(w, r, &req) {
		return
	}
	a.respond(w, r, a.publisher.PublishInventoryUpdate(r.Context(), req))
}

// price treats a missing originalPrice as no discount
func (a *controlAPI) price(w http.ResponseWriter, r *http.Request) {
	var req realtime.PriceUpdate
	if !decode(w, r, &req) {
		return
	}
	if req.OriginalPrice == nil {
		req.OriginalPrice = req.Price
	}
	a.respond(w, r, a.publisher.PublishPriceUpdate(r.Context(), req))
}

func (a *controlAPI) order(w http.ResponseWriter, r *http.Request) {
	var req realtime.OrderUpdate
	if !decode(w, r, &req) {
		return
	}
	a.respond(w, r, a.publisher.PublishOrderUpdate(r.Context(), req))
}

func (a *controlAPI) notification(w http.ResponseWriter, r *http.Request) {
	var req realtime.Notification
	if !decode(w, r, &req) {
		return
	}
	a.respond(w, r, a.publisher.PublishNotification(r.Context(), req))
}

func (a *controlAPI) respond(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, response{Success: true})
	case stderrors.Is(err, realtime.ErrInvalidEvent):
		writeJSON(w, http.StatusBadRequest, response{Error: "Invalid event"})
	default:
		logging.FromContext(r.Context()).Error("control request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, response{Error: "Failed to publish event"})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, response{Error: "Malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
