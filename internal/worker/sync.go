// Package worker refreshes the local fallback cache from the remote game
// document. Pub/sub delivery is fire-and-forget, so a periodic full read
// repairs any update a node missed while disconnected.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/qrmaster/internal/config"
	"github.com/qrmaster/internal/domain"
	"github.com/qrmaster/internal/game"
	"github.com/qrmaster/internal/localstore"
)

// Reconciler receives the freshly read snapshot.
type Reconciler interface {
	ApplySnapshot(snap domain.Snapshot)
}

// SyncWorker periodically reads the remote document, reconciles it into the
// in-memory state and rewrites the local cache.
type SyncWorker struct {
	doc        game.DocStore
	local      game.LocalStore
	reconciler Reconciler
	config     *config.SyncConfig
	logger     *slog.Logger
	stopCh     chan struct{}
	doneCh     chan struct{}
	mu         sync.Mutex
	running    bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	doc game.DocStore,
	local game.LocalStore,
	reconciler Reconciler,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		doc:        doc,
		local:      local,
		reconciler: reconciler,
		config:     cfg,
		logger:     logger,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncOnce(ctx)
		}
	}
}

// syncOnce reads the remote document and refreshes the local cache.
func (w *SyncWorker) syncOnce(ctx context.Context) {
	startTime := time.Now()

	snap, err := w.doc.Read(ctx)
	if err != nil {
		w.logger.Error("failed to read remote document", "error", err)
		return
	}

	if w.reconciler != nil {
		w.reconciler.ApplySnapshot(snap)
	}

	data, err := json.Marshal(snap.Results)
	if err != nil {
		w.logger.Error("failed to encode results for cache", "error", err)
		return
	}
	if err := w.local.Set(ctx, localstore.KeyResults, data); err != nil {
		w.logger.Error("failed to refresh cached results", "error", err)
		return
	}

	started, err := json.Marshal(snap.Status == domain.StatusActive)
	if err == nil {
		if err := w.local.Set(ctx, localstore.KeyGameStarted, started); err != nil {
			w.logger.Warn("failed to refresh game started flag", "error", err)
		}
	}

	w.logger.Debug("sync cycle completed",
		"duration", time.Since(startTime),
		"results", len(snap.Results),
		"status", snap.Status,
	)
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncOnce(ctx)
}
