// Package store holds the shared key-value state written by the hub:
// presence, product view counters, recent chat history, cart snapshots and
// AI usage counters.
package store

import (
	"context"
	"errors"
	"time"
)

// Keys and key prefixes used by the hub
const (
	KeyPresence        = "user:presence"
	KeyProductViews    = "product:views"
	KeyProductViewsDay = "product:views:today"
	PrefixChat         = "chat:"
	PrefixCart         = "cart:"
	PrefixAIStats      = "user:ai:stats:"

	FieldTotalQueries = "totalQueries"
)

// ErrNotFound is returned by reads of missing keys or fields
var ErrNotFound = errors.New("store: not found")

// Store is the contract the hub needs from the external key-value store
type Store interface {
	// HashSet writes field in the hash at key
	HashSet(ctx context.Context, key, field, value string) error

	// HashGet reads field from the hash at key
	HashGet(ctx context.Context, key, field string) (string, error)

	// HashIncrement adds delta to field and returns the new value
	HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error)

	// HashIncrementExpireAt adds delta to field and makes the whole hash
	// expire at deadline
	HashIncrementExpireAt(ctx context.Context, key, field string, delta int64, deadline time.Time) (int64, error)

	// ListPush prepends value, keeps the newest max entries and refreshes ttl
	ListPush(ctx context.Context, key, value string, max int64, ttl time.Duration) error

	// ListRange returns entries start..stop inclusive, newest first
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Set writes key with an expiry; ttl <= 0 means no expiry
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get reads key
	Get(ctx context.Context, key string) (string, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases the connection
	Close() error
}

// ChatKey returns the history list key for room
func ChatKey(room string) string {
	return PrefixChat + room
}

// CartKey returns the cart snapshot key for userID
func CartKey(userID string) string {
	return PrefixCart + userID
}

// AIStatsKey returns the AI usage hash key for userID
func AIStatsKey(userID string) string {
	return PrefixAIStats + userID
}

// NextMidnight returns the start of the UTC day after t. Daily counters
// expire there.
func NextMidnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
