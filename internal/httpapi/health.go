package httpapi

import (
	"net/http"

	"github.com/HMasataka/relay/pkg/realtime"
)

type health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

func healthHandler(hub *realtime.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := health{Status: "ok"}
		if hub != nil {
			h.Connections = hub.Count()
			h.Rooms = hub.Rooms().Count()
		}
		writeJSON(w, http.StatusOK, h)
	}
}
