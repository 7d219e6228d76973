package realtime

import (
	"sort"
	"sync"

	"github.com/HMasataka/relay/pkg/domain"
)

// Synthetic room prefixes used as broadcast scopes
const (
	OrderRoomPrefix   = domain.OrderRoomPrefix
	ProductRoomPrefix = domain.ProductRoomPrefix
)

// OrderRoom returns the broadcast scope for orderID
func OrderRoom(orderID string) string {
	return OrderRoomPrefix + orderID
}

// ProductRoom returns the broadcast scope for productID
func ProductRoom(productID string) string {
	return ProductRoomPrefix + productID
}

// RoomIndex maps room names to member sessions. Rooms exist while they have
// at least one member.
type RoomIndex struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]struct{}
	bySession map[string]map[string]struct{}
}

// NewRoomIndex creates an empty index
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		rooms:     make(map[string]map[string]struct{}),
		bySession: make(map[string]map[string]struct{}),
	}
}

// Join adds sessionID to room and reports whether it was not a member yet
func (r *RoomIndex) Join(sessionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, exists := members[sessionID]; exists {
		return false
	}
	members[sessionID] = struct{}{}

	joined, ok := r.bySession[sessionID]
	if !ok {
		joined = make(map[string]struct{})
		r.bySession[sessionID] = joined
	}
	joined[room] = struct{}{}
	return true
}

// Leave removes sessionID from room and reports whether it was a member
func (r *RoomIndex) Leave(sessionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(sessionID, room)
}

// LeaveAll removes sessionID from every room and returns the rooms it left
func (r *RoomIndex) LeaveAll(sessionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.bySession[sessionID]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(sessionID, room)
	}
	sort.Strings(left)
	return left
}

func (r *RoomIndex) leaveLocked(sessionID, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[sessionID]; !ok {
		return false
	}

	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}

	if joined, ok := r.bySession[sessionID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.bySession, sessionID)
		}
	}
	return true
}

// Members returns a copy of room's member sessions
func (r *RoomIndex) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns the rooms sessionID belongs to, sorted
func (r *RoomIndex) RoomsOf(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.bySession[sessionID]
	out := make([]string, 0, len(joined))
	for room := range joined {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Has reports whether room currently exists
func (r *RoomIndex) Has(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[room]
	return ok
}

// Size returns the member count of room
func (r *RoomIndex) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms[room])
}

// Count returns the number of rooms
func (r *RoomIndex) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
