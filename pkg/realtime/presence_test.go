package realtime

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/internal/worker"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jitterStore delays every hash write by up to 2ms so concurrent writes
// finish in arbitrary order
type jitterStore struct {
	*store.MemoryStore
}

func (s jitterStore) HashSet(ctx context.Context, key, field, value string) error {
	time.Sleep(time.Duration(rand.Intn(2000)) * time.Microsecond)
	return s.MemoryStore.HashSet(ctx, key, field, value)
}

func newJitterPresence(t *testing.T) (*Presence, *store.MemoryStore) {
	t.Helper()
	logger := logging.Discard()

	pool := worker.NewPool(8, 1024, logger)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	mem := store.NewMemoryStore()
	return NewPresence(jitterStore{mem}, pool, time.Second, logger), mem
}

func TestPresence_DisconnectAlwaysEndsOffline(t *testing.T) {
	presence, mem := newJitterPresence(t)

	hub := NewHub(WithPresence(presence), WithHeartbeatInterval(0))
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { hub.Stop() })

	const users = 200
	for i := 0; i < users; i++ {
		c := newFakeClient(fmt.Sprintf("s%d", i), fmt.Sprintf("u%d", i))
		require.NoError(t, hub.Register(c))
		require.NoError(t, hub.Unregister(c.ID()))
	}

	notOffline := func() []string {
		var out []string
		for i := 0; i < users; i++ {
			record, err := presence.Get(context.Background(), fmt.Sprintf("u%d", i))
			if err != nil || record.Status != domain.PresenceOffline {
				out = append(out, fmt.Sprintf("u%d", i))
			}
		}
		return out
	}

	require.Eventually(t, func() bool { return len(notOffline()) == 0 }, 5*time.Second, 10*time.Millisecond)

	// Nothing queued may flip a user back afterwards.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, notOffline())

	_, err := mem.HashGet(context.Background(), store.KeyPresence, "u0")
	assert.NoError(t, err)
}

func TestPresence_LatestStatusWins(t *testing.T) {
	presence, _ := newJitterPresence(t)

	for i := 0; i < 50; i++ {
		presence.Update("u1", domain.PresenceOnline)
		presence.Update("u1", domain.PresenceAway)
	}
	presence.Update("u1", domain.PresenceOffline)

	require.Eventually(t, func() bool {
		record, err := presence.Get(context.Background(), "u1")
		return err == nil && record.Status == domain.PresenceOffline
	}, 5*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	record, err := presence.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PresenceOffline, record.Status)
}

func TestPresence_UpdateWhenPoolStopped(t *testing.T) {
	logger := logging.Discard()
	pool := worker.NewPool(1, 1, logger)
	mem := store.NewMemoryStore()
	presence := NewPresence(mem, pool, time.Second, logger)

	presence.Update("u1", domain.PresenceOnline)

	_, err := presence.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	presence.Update("u1", domain.PresenceAway)
	require.Eventually(t, func() bool {
		record, err := presence.Get(context.Background(), "u1")
		return err == nil && record.Status == domain.PresenceAway
	}, waitFor, 5*time.Millisecond)
}
