package domain

import (
	"errors"
)

// Common domain errors
var (
	// ErrClientNotFound is returned when a session is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrClientAlreadyExists is returned when a session id is registered twice
	ErrClientAlreadyExists = errors.New("client already exists")

	// ErrUnknownMessageType is returned for frames with a missing or unsupported type
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrHubStopped is returned when trying to use a hub that has been stopped
	ErrHubStopped = errors.New("hub stopped")

	// ErrConnectionClosed is returned when trying to use a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a client's outbound queue is full
	ErrSendBufferFull = errors.New("send buffer full")
)
