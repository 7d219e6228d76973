package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/internal/worker"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/goccy/go-json"
)

// PresenceRecord is stored per user in the presence hash
type PresenceRecord struct {
	Status   domain.PresenceStatus `json:"status"`
	LastSeen time.Time             `json:"lastSeen"`
}

// Presence writes presence records in the background. Writes are best
// effort: failures are logged and never reach clients.
//
// Writes for one user are serialized: at most one task per user is queued
// or running, and it always stores the newest status it finds, so an
// offline that follows an online is never overwritten by it.
type Presence struct {
	store   store.Store
	tasks   TaskRunner
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]PresenceRecord
	active  map[string]struct{}
}

// NewPresence creates a presence writer
func NewPresence(s store.Store, tasks TaskRunner, timeout time.Duration, logger *logging.Logger) *Presence {
	return &Presence{
		store:   s,
		tasks:   tasks,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		pending: make(map[string]PresenceRecord),
		active:  make(map[string]struct{}),
	}
}

// Update records status for userID without blocking the caller
func (p *Presence) Update(userID string, status domain.PresenceStatus) {
	p.mu.Lock()
	p.pending[userID] = PresenceRecord{Status: status, LastSeen: p.now().UTC()}
	if _, running := p.active[userID]; running {
		p.mu.Unlock()
		return
	}
	p.active[userID] = struct{}{}
	p.mu.Unlock()

	err := p.tasks.Submit(func(ctx context.Context) {
		p.drain(ctx, userID)
	})
	if err != nil {
		p.mu.Lock()
		delete(p.active, userID)
		delete(p.pending, userID)
		p.mu.Unlock()

		metrics.WorkerQueueRejected.Inc()
		p.logger.Warn("presence write not queued", "user_id", userID, "status", status, "error", err)
	}
}

// drain writes the newest pending record for userID until none is left
func (p *Presence) drain(ctx context.Context, userID string) {
	for {
		p.mu.Lock()
		record, ok := p.pending[userID]
		if !ok {
			delete(p.active, userID)
			p.mu.Unlock()
			return
		}
		delete(p.pending, userID)
		p.mu.Unlock()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		err := p.write(wctx, userID, record)
		cancel()
		if err != nil {
			p.logger.Warn("presence write failed", "user_id", userID, "status", record.Status, "error", err)
		}
	}
}

// Get reads the stored record for userID
func (p *Presence) Get(ctx context.Context, userID string) (*PresenceRecord, error) {
	raw, err := p.store.HashGet(ctx, store.KeyPresence, userID)
	if err != nil {
		return nil, err
	}

	var record PresenceRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *Presence) write(ctx context.Context, userID string, record PresenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return p.store.HashSet(ctx, store.KeyPresence, userID, string(data))
}

var _ TaskRunner = (*worker.Pool)(nil)
