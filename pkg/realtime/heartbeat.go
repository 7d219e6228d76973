package realtime

import (
	"time"

	"github.com/HMasataka/relay/pkg/domain"
)

// startHeartbeat pings client every HeartbeatInterval until the client or
// the hub is done
func (h *Hub) startHeartbeat(client domain.Client) {
	interval := h.options.HeartbeatInterval
	if interval <= 0 {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-client.Context().Done():
				return
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				if !client.IsOpen() {
					return
				}
				if err := h.Reply(client, domain.NewPing()); err != nil {
					return
				}
			}
		}
	}()
}
