// Package accountsync polls venue accounts on a fixed interval and
// aggregates balances and positions into per-venue snapshots. One
// venue failing never blocks the others.
package accountsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "venueflow/config"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/storage"
	"venueflow/venues"
)

// Archiver receives snapshots for long-term storage. Satisfied by
// storage.SnapshotArchiver.
type Archiver interface {
	Add(snapshot models.AccountSnapshot)
}

// Syncer runs the polling loop.
type Syncer struct {
	registry *venues.Registry
	store    storage.SnapshotStore
	archiver Archiver
	cfg      appconfig.SyncConfig
	log      *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSyncer wires the loop. archiver may be nil when persistence to
// object storage is disabled.
func NewSyncer(registry *venues.Registry, store storage.SnapshotStore, archiver Archiver, cfg appconfig.SyncConfig, log *logger.Log) *Syncer {
	return &Syncer{
		registry: registry,
		store:    store,
		archiver: archiver,
		cfg:      cfg,
		log:      log,
	}
}

// Start launches the polling loop. The first tick runs immediately.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("account syncer already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.WithComponent("accountsync").WithFields(logger.Fields{
		"polling_interval": s.cfg.PollingInterval,
		"venues":           s.venueNames(),
	}).Info("starting account synchronization")

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop halts the loop. An in-flight tick completes before Stop returns.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.WithComponent("accountsync").Info("account synchronization stopped")
}

func (s *Syncer) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollingInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// venueNames resolves the configured venue list, defaulting to every
// registered adapter.
func (s *Syncer) venueNames() []venues.Name {
	if len(s.cfg.Exchanges) == 0 {
		return s.registry.Names()
	}
	var names []venues.Name
	for _, raw := range s.cfg.Exchanges {
		name, err := venues.ParseName(raw)
		if err != nil {
			s.log.WithComponent("accountsync").WithError(err).Warn("skipping unknown venue in sync config")
			continue
		}
		names = append(names, name)
	}
	return names
}

// Tick polls every configured venue once. Results are isolated per
// venue: a failure is recorded in that venue's PollingResult and the
// remaining venues still run.
func (s *Syncer) Tick(ctx context.Context) []models.PollingResult {
	names := s.venueNames()
	results := make([]models.PollingResult, 0, len(names))

	for _, name := range names {
		result := s.pollVenue(ctx, name)
		results = append(results, result)

		log := s.log.WithComponent("accountsync").WithFields(logger.Fields{"venue": string(name)})
		if !result.Success {
			log.WithFields(logger.Fields{"error": result.Error}).Warn("venue poll failed")
			continue
		}
		snap := result.Snapshot
		log.WithFields(logger.Fields{
			"balances":  len(snap.Balances),
			"positions": snap.PositionCount,
		}).Debug("venue polled")

		if err := s.store.Append(ctx, *snap); err != nil {
			log.WithError(err).Error("failed to store snapshot")
		}
		if s.cfg.EnablePersistence && s.archiver != nil {
			s.archiver.Add(*snap)
		}
	}
	return results
}

func (s *Syncer) pollVenue(ctx context.Context, name venues.Name) models.PollingResult {
	result := models.PollingResult{Venue: string(name)}

	adapter, err := s.registry.Get(name)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	snap, err := s.snapshotWithRetry(ctx, adapter)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Snapshot = snap
	return result
}

// snapshotWithRetry fetches balances and positions with bounded
// retries. Context cancellation stops the retry loop immediately.
func (s *Syncer) snapshotWithRetry(ctx context.Context, adapter venues.Adapter) (*models.AccountSnapshot, error) {
	attempts := s.cfg.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
		snap, err := buildSnapshot(ctx, adapter)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		s.log.WithComponent("accountsync").WithFields(logger.Fields{
			"venue":   string(adapter.Name()),
			"attempt": attempt + 1,
		}).WithError(err).Debug("poll attempt failed")
	}
	return nil, lastErr
}

func buildSnapshot(ctx context.Context, adapter venues.Adapter) (*models.AccountSnapshot, error) {
	balances, err := adapter.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	positions, err := adapter.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	snap := &models.AccountSnapshot{
		Venue:         string(adapter.Name()),
		Balances:      balances,
		Positions:     positions,
		PositionCount: len(positions),
		Timestamp:     time.Now().UTC(),
	}
	for _, b := range balances {
		snap.TotalBalance += b.Total
	}
	for _, p := range positions {
		snap.TotalNotional += p.Notional()
		snap.TotalPnL += p.UnrealizedPnL
	}
	return snap, nil
}
