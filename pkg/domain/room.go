package domain

import "strings"

// Prefixes of the rooms the hub manages itself. Clients reach them only
// through order-tracking and product-view, never by name.
const (
	OrderRoomPrefix   = "order:"
	ProductRoomPrefix = "product:"
)

// IsSyntheticRoom reports whether room is a hub-managed broadcast scope
func IsSyntheticRoom(room string) bool {
	return strings.HasPrefix(room, OrderRoomPrefix) || strings.HasPrefix(room, ProductRoomPrefix)
}
