package domain

import "context"

// Hub represents the realtime connection hub
type Hub interface {
	// Start starts the hub
	Start(ctx context.Context) error

	// Stop closes every client and stops background work
	Stop() error

	// Register adds a new client
	Register(client Client) error

	// Unregister removes a client and every membership it holds
	Unregister(sessionID string) error

	// SendTo delivers an event to one session
	SendTo(sessionID string, event Event) error

	// SendToUser delivers an event to every session of a user
	SendToUser(userID string, event Event) error

	// SendToRoom delivers an event to room members, skipping exclude
	SendToRoom(room string, event Event, exclude string) error

	// Broadcast delivers an event to every registered session
	Broadcast(event Event) error

	// Lookup retrieves a client by session ID
	Lookup(sessionID string) (Client, bool)

	// LookupByUser retrieves every client of a user
	LookupByUser(userID string) []Client
}

// HubStats provides statistics about the hub
type HubStats struct {
	ConnectedClients int     `json:"connected_clients"`
	ConnectedUsers   int     `json:"connected_users"`
	Rooms            int     `json:"rooms"`
	MessagesSent     int64   `json:"messages_sent"`
	MessagesReceived int64   `json:"messages_received"`
	MessagesDropped  int64   `json:"messages_dropped"`
	Uptime           float64 `json:"uptime_seconds"`
}
