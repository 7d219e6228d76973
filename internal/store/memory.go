package store

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory. It backs single-instance
// deployments and tests; expiry is applied lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	lists   map[string][]string
	values  map[string]string
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		values:  make(map[string]string),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// HashSet implements Store
func (s *MemoryStore) HashSet(ctx context.Context, key, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	h[field] = value
	return nil
}

// HashGet implements Store
func (s *MemoryStore) HashGet(ctx context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	v, ok := s.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// HashIncrement implements Store
func (s *MemoryStore) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.incrementLocked(key, field, delta)
}

// HashIncrementExpireAt implements Store
func (s *MemoryStore) HashIncrementExpireAt(ctx context.Context, key, field string, delta int64, deadline time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.incrementLocked(key, field, delta)
	if err != nil {
		return 0, err
	}
	s.expires[key] = deadline
	return n, nil
}

func (s *MemoryStore) incrementLocked(key, field string, delta int64) (int64, error) {
	s.expireLocked(key)

	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}

	var n int64
	if cur, ok := h[field]; ok {
		parsed, err := strconv.ParseInt(cur, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n += delta
	h[field] = strconv.FormatInt(n, 10)
	return n, nil
}

// ListPush implements Store
func (s *MemoryStore) ListPush(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	list := append([]string{value}, s.lists[key]...)
	if max > 0 && int64(len(list)) > max {
		list = list[:max]
	}
	s.lists[key] = list
	s.setTTLLocked(key, ttl)
	return nil
}

// ListRange implements Store
func (s *MemoryStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	list := s.lists[key]
	n := int64(len(list))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []string{}, nil
	}

	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

// Set implements Store
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	delete(s.expires, key)
	s.setTTLLocked(key, ttl)
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expires[key] = s.now().Add(ttl)
	}
}

func (s *MemoryStore) expireLocked(key string) {
	deadline, ok := s.expires[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.expires, key)
	delete(s.hashes, key)
	delete(s.lists, key)
	delete(s.values, key)
}
