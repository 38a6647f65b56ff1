package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/metrics"
	"github.com/opd-ai/go-emby-bridge/pkg/config"
)

// Store persists poll results.
type Store interface {
	SaveActivity(activity canonical.Activity, observedAt time.Time) error
	SaveUsers(users []canonical.User) error
	SaveLibraries(libraries []canonical.Library) error
	SaveIdentity(identity canonical.ServerIdentity) error
}

// Publisher receives every activity snapshot, e.g. to push it to
// WebSocket subscribers. PublishActivity must not block.
type Publisher interface {
	PublishActivity(activity canonical.Activity, observedAt time.Time)
}

// Poller refreshes the activity view every Interval and the inventory every
// InventoryInterval. Both run once immediately on Start.
type Poller struct {
	bridge *Bridge
	store  Store
	config *config.PollerConfig
	logger *slog.Logger
	now    func() time.Time

	publishers []Publisher

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewPoller creates a poller. store may be nil, in which case results are
// only published.
func NewPoller(b *Bridge, store Store, cfg *config.PollerConfig, logger *slog.Logger) *Poller {
	return &Poller{
		bridge: b,
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// AddPublisher registers a subscriber for activity snapshots.
func (p *Poller) AddPublisher(pub Publisher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishers = append(p.publishers, pub)
}

// Start launches the polling loop. Returns an error if it is already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller is already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Starting poller",
		"interval", p.config.Interval,
		"inventory_interval", p.config.InventoryInterval)

	p.wg.Add(1)
	go p.run()

	p.running = true
	return nil
}

// Stop cancels the loop and waits for the in-flight poll to finish.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.logger.Info("Stopping poller")
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Poller stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) run() {
	defer p.wg.Done()

	p.SyncInventory(p.ctx)
	p.PollActivity(p.ctx)

	activityTicker := time.NewTicker(p.config.Interval)
	defer activityTicker.Stop()
	inventoryTicker := time.NewTicker(p.config.InventoryInterval)
	defer inventoryTicker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-activityTicker.C:
			p.PollActivity(p.ctx)
		case <-inventoryTicker.C:
			p.SyncInventory(p.ctx)
		}
	}
}

// PollActivity builds, persists and publishes one activity snapshot.
func (p *Poller) PollActivity(ctx context.Context) canonical.Activity {
	pollID := uuid.NewString()
	ctx = ContextWithPollID(ctx, pollID)
	logger := p.logger.With("poll_id", pollID)

	activity := p.bridge.CurrentActivity(ctx)
	observedAt := p.now()

	if p.store != nil {
		if err := p.store.SaveActivity(activity, observedAt); err != nil {
			logger.Error("Failed to save activity snapshot", "error", err)
		}
	}

	metrics.RecordActivity(activity.StreamCountDirectPlay, activity.StreamCountDirectStream, activity.StreamCountTranscode)

	p.mu.RLock()
	publishers := p.publishers
	p.mu.RUnlock()
	for _, pub := range publishers {
		pub.PublishActivity(activity, observedAt)
	}

	logger.Debug("Activity poll completed", "stream_count", activity.StreamCount)
	return activity
}

// SyncInventory refreshes and persists users, libraries and the server
// identity. A failed identity lookup does not fail the sync.
func (p *Poller) SyncInventory(ctx context.Context) (*Inventory, error) {
	pollID := uuid.NewString()
	ctx = ContextWithPollID(ctx, pollID)
	logger := p.logger.With("poll_id", pollID)

	inv, err := p.bridge.SyncInventory(ctx)
	if err != nil {
		logger.Error("Inventory sync failed", "error", err)
		return nil, err
	}

	identity, idErr := p.bridge.ServerIdentity(ctx)
	if idErr != nil {
		logger.Warn("Failed to refresh server identity", "error", idErr)
	}

	if p.store == nil {
		return inv, nil
	}

	if err := p.store.SaveUsers(inv.Users); err != nil {
		logger.Error("Failed to save users", "error", err)
	}
	if err := p.store.SaveLibraries(inv.Libraries); err != nil {
		logger.Error("Failed to save libraries", "error", err)
	}
	if identity != nil {
		if err := p.store.SaveIdentity(*identity); err != nil {
			logger.Error("Failed to save server identity", "error", err)
		}
	}

	return inv, nil
}
