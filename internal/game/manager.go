// Package game holds the authoritative in-memory view of the match and
// reconciles it against the shared remote document. Mutations are applied
// optimistically, persisted best-effort, and eventually confirmed (or
// overwritten) by the remote snapshot echoed back through the subscription.
package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/qrmaster/internal/domain"
	"github.com/qrmaster/internal/localstore"
	"github.com/qrmaster/internal/qr"
)

// DocStore is the remote realtime document store. The remote document is the
// eventual source of truth shared across all player devices.
type DocStore interface {
	Read(ctx context.Context) (domain.Snapshot, error)
	MergeWrite(ctx context.Context, fields map[string]any) error
	Subscribe(ctx context.Context) (<-chan domain.Snapshot, error)
}

// LocalStore is the single-device fallback cache. Get returns (nil, nil) for
// a missing key.
type LocalStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ScanArchive records accepted scans durably.
type ScanArchive interface {
	RecordScan(ctx context.Context, playerName string, result domain.ScanResult) error
}

// Broadcaster pushes reconciled snapshots to connected presentation clients.
type Broadcaster interface {
	BroadcastGameUpdate(snap domain.Snapshot)
}

// Manager owns the in-memory game aggregate and orchestrates every
// player-initiated mutation.
type Manager struct {
	doc     DocStore
	local   LocalStore
	archive ScanArchive
	hub     Broadcaster
	clock   clockwork.Clock
	logger  *slog.Logger

	mu     sync.RWMutex
	state  domain.Snapshot
	synced bool
}

// NewManager creates a game state manager. The manager starts uninitialized;
// call Start to load the local cache and begin reconciling remote snapshots.
func NewManager(doc DocStore, local LocalStore, clock clockwork.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		doc:    doc,
		local:  local,
		clock:  clock,
		logger: logger,
		state: domain.Snapshot{
			Results:        []domain.ScanResult{},
			ScannedQRCodes: []string{},
			Status:         domain.StatusWaiting,
			TimeRemaining:  domain.DefaultTimeRemaining,
			Teams: domain.Teams{
				Blue: domain.TeamState{Players: []string{}},
				Red:  domain.TeamState{Players: []string{}},
			},
		},
	}
}

// SetArchive sets the durable scan archive. Archive failures never fail a
// scan.
func (m *Manager) SetArchive(archive ScanArchive) {
	m.archive = archive
}

// SetHub sets the broadcaster notified after every reconciliation.
func (m *Manager) SetHub(hub Broadcaster) {
	m.hub = hub
}

// Start loads the local cache as an offline fallback, subscribes to the
// remote document, and spawns the reconciliation loop. It returns once the
// subscription is established.
func (m *Manager) Start(ctx context.Context) error {
	m.loadLocal(ctx)

	snapshots, err := m.doc.Subscribe(ctx)
	if err != nil {
		return err
	}
	go m.run(snapshots)
	return nil
}

// loadLocal restores the cached player identity and results. Best-effort: a
// broken cache is logged and ignored.
func (m *Manager) loadLocal(ctx context.Context) {
	if data, err := m.local.Get(ctx, localstore.KeyPlayer); err != nil {
		m.logger.Warn("failed to load cached player", "error", err)
	} else if data != nil {
		var player domain.Player
		if err := json.Unmarshal(data, &player); err != nil {
			m.logger.Warn("discarding malformed cached player", "error", err)
		} else if player.Team.Valid() {
			m.mu.Lock()
			m.state.Player = &player
			m.synced = true
			m.mu.Unlock()
		}
	}

	if data, err := m.local.Get(ctx, localstore.KeyResults); err != nil {
		m.logger.Warn("failed to load cached results", "error", err)
	} else if data != nil {
		var results []domain.ScanResult
		if err := json.Unmarshal(data, &results); err != nil {
			m.logger.Warn("discarding malformed cached results", "error", err)
		} else {
			m.mu.Lock()
			m.state.Results = results
			m.state.ScannedQRCodes = scanIDs(results)
			m.synced = true
			m.mu.Unlock()
		}
	}
}

// run applies every delivered snapshot wholesale. A slow write whose
// snapshot arrives after a newer one is superseded: last snapshot wins.
func (m *Manager) run(snapshots <-chan domain.Snapshot) {
	for snap := range snapshots {
		m.ApplySnapshot(snap)
		if m.hub != nil {
			m.hub.BroadcastGameUpdate(m.State())
		}
	}
	m.logger.Info("snapshot subscription closed")
}

// ApplySnapshot reconciles a remote snapshot into the in-memory state,
// overwriting any in-flight optimistic delta for the fields it carries.
func (m *Manager) ApplySnapshot(snap domain.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The document's player field is a legacy last-writer snapshot; the
	// local identity survives unless the document carries one.
	if snap.Player != nil {
		m.state.Player = snap.Player
	}
	m.state.Results = snap.Results
	m.state.ScannedQRCodes = snap.ScannedQRCodes
	m.state.Status = snap.Status
	m.state.TimeRemaining = snap.TimeRemaining
	m.state.Teams = snap.Teams
	m.synced = true
}

// Synced reports whether the manager has left the uninitialized state, via
// either the local cache or a first remote snapshot.
func (m *Manager) Synced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synced
}

// State returns a copy of the current in-memory aggregate.
func (m *Manager) State() domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copySnapshot(m.state)
}

// Player returns the registered local player, or nil.
func (m *Manager) Player() *domain.Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Player == nil {
		return nil
	}
	p := *m.state.Player
	return &p
}

// TotalScore sums the points of every recorded result.
func (m *Manager) TotalScore() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.TotalScore()
}

// RegisterPlayer validates the identity, inserts the name into the chosen
// team's roster (idempotent), pushes the merged roster remotely and caches
// the identity locally. Remote or cache failures are logged and tolerated;
// the optimistic registration stands.
func (m *Manager) RegisterPlayer(ctx context.Context, name, team string) (domain.Player, error) {
	name, err := domain.ValidatePlayerName(name)
	if err != nil {
		return domain.Player{}, err
	}
	parsedTeam, err := domain.ParseTeam(team)
	if err != nil {
		return domain.Player{}, err
	}

	player := domain.Player{Name: name, Team: parsedTeam}

	// Read the current remote roster first so a concurrent registration on
	// another device is not clobbered.
	teams := m.currentTeams(ctx)

	// A name lives on at most one roster; re-registering under the other
	// team moves it.
	opponent := teams.Get(parsedTeam.Opponent())
	if opponent.HasPlayer(name) {
		opponent.Players = removeName(opponent.Players, name)
		teams.Set(parsedTeam.Opponent(), opponent)
	}

	state := teams.Get(parsedTeam)
	if !state.HasPlayer(name) {
		state.Players = append(state.Players, name)
		teams.Set(parsedTeam, state)
	}

	m.mu.Lock()
	m.state.Player = &player
	m.state.Teams = teams
	m.mu.Unlock()

	if err := m.doc.MergeWrite(ctx, map[string]any{domain.FieldTeams: teams}); err != nil {
		m.logger.Warn("failed to push roster update", "player", name, "error", err)
	}
	m.cachePlayer(ctx, &player)

	return player, nil
}

// RecordScan validates a raw QR payload, rejects duplicates for the acting
// player's team, appends the result and recomputes the team score as the sum
// of that team's results. Persistence is best-effort and never rolls back
// the optimistic update.
func (m *Manager) RecordScan(ctx context.Context, raw string) (domain.ScanResult, error) {
	payload, err := qr.Validate(raw)
	if err != nil {
		return domain.ScanResult{}, err
	}

	m.mu.Lock()
	if m.state.Player == nil {
		m.mu.Unlock()
		return domain.ScanResult{}, domain.ErrNotRegistered
	}
	team := m.state.Player.Team

	if m.state.ScannedByTeam(payload.ID, team) {
		m.mu.Unlock()
		return domain.ScanResult{}, domain.ErrDuplicateScan
	}

	result := domain.ScanResult{
		Category: payload.Category,
		Points:   payload.Points(),
		Date:     m.clock.Now().UTC(),
		ID:       payload.ID,
		Team:     team,
	}

	m.state.Results = append(m.state.Results, result)
	m.state.ScannedQRCodes = scanIDs(m.state.Results)

	acting := m.state.Teams.Get(team)
	acting.Score = m.state.TeamScore(team)
	m.state.Teams.Set(team, acting)

	results := append([]domain.ScanResult(nil), m.state.Results...)
	scanned := append([]string(nil), m.state.ScannedQRCodes...)
	// The other team is passed through from the last known local state
	// rather than re-read transactionally, so concurrent scans by two
	// devices on the same team can drop a point. Known consistency gap.
	teams := m.state.Teams
	playerName := m.state.Player.Name
	m.mu.Unlock()

	m.cacheResults(ctx, results)

	if err := m.doc.MergeWrite(ctx, map[string]any{
		domain.FieldResults:        results,
		domain.FieldScannedQRCodes: scanned,
		domain.FieldTeams:          teams,
	}); err != nil {
		m.logger.Warn("failed to push scan", "scan_id", result.ID, "error", err)
	}

	if m.archive != nil {
		if err := m.archive.RecordScan(ctx, playerName, result); err != nil {
			m.logger.Warn("failed to archive scan", "scan_id", result.ID, "error", err)
		}
	}

	return result, nil
}

// LeaveMatch removes the local player from their team's roster with the same
// read-merge-write pattern as registration and clears the cached identity.
func (m *Manager) LeaveMatch(ctx context.Context) error {
	m.mu.Lock()
	if m.state.Player == nil {
		m.mu.Unlock()
		return domain.ErrNotRegistered
	}
	name := m.state.Player.Name
	team := m.state.Player.Team
	m.state.Player = nil
	m.mu.Unlock()

	teams := m.currentTeams(ctx)
	state := teams.Get(team)
	state.Players = removeName(state.Players, name)
	teams.Set(team, state)

	m.mu.Lock()
	m.state.Teams = teams
	m.mu.Unlock()

	if err := m.doc.MergeWrite(ctx, map[string]any{domain.FieldTeams: teams}); err != nil {
		m.logger.Warn("failed to push roster removal", "player", name, "error", err)
	}
	if err := m.local.Delete(ctx, localstore.KeyPlayer); err != nil {
		m.logger.Warn("failed to clear cached player", "error", err)
	}
	return nil
}

// ClearAll resets the in-memory aggregate to empty defaults, clears the
// local cache keys and writes a reset marker remotely. The other team's
// remote data is untouched. Entirely best-effort.
func (m *Manager) ClearAll(ctx context.Context) {
	m.mu.Lock()
	m.state.Player = nil
	m.state.Results = []domain.ScanResult{}
	m.state.ScannedQRCodes = []string{}
	m.state.Status = domain.StatusWaiting
	m.state.TimeRemaining = domain.DefaultTimeRemaining
	m.mu.Unlock()

	for _, key := range []string{localstore.KeyPlayer, localstore.KeyResults, localstore.KeyGameStarted} {
		if err := m.local.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to clear cache key", "key", key, "error", err)
		}
	}

	if err := m.doc.MergeWrite(ctx, map[string]any{
		domain.FieldPlayer:      nil,
		domain.FieldResults:     []domain.ScanResult{},
		domain.FieldGameStarted: false,
	}); err != nil {
		m.logger.Warn("failed to push reset marker", "error", err)
	}
}

// ApplyControl applies an operator match-control action as a merge-write.
// The resulting status change reaches the in-memory state through the
// subscription like any other remote change.
func (m *Manager) ApplyControl(ctx context.Context, action string, timeRemaining int) error {
	if timeRemaining < 0 {
		return domain.ErrInvalidRequest
	}

	var fields map[string]any
	switch action {
	case "start":
		fields = map[string]any{
			domain.FieldStatus:        domain.StatusActive,
			domain.FieldTimeRemaining: timeRemaining,
		}
	case "tick":
		fields = map[string]any{domain.FieldTimeRemaining: timeRemaining}
	case "finish":
		fields = map[string]any{
			domain.FieldStatus:        domain.StatusFinished,
			domain.FieldTimeRemaining: 0,
		}
	default:
		return domain.ErrInvalidRequest
	}

	return m.doc.MergeWrite(ctx, fields)
}

// currentTeams reads the remote rosters, falling back to the last known
// local state when the read fails.
func (m *Manager) currentTeams(ctx context.Context) domain.Teams {
	snap, err := m.doc.Read(ctx)
	if err != nil {
		m.logger.Warn("failed to read remote rosters, using local state", "error", err)
		m.mu.RLock()
		defer m.mu.RUnlock()
		return copyTeams(m.state.Teams)
	}
	return copyTeams(snap.Teams)
}

func (m *Manager) cachePlayer(ctx context.Context, player *domain.Player) {
	data, err := json.Marshal(player)
	if err != nil {
		m.logger.Warn("failed to encode player for cache", "error", err)
		return
	}
	if err := m.local.Set(ctx, localstore.KeyPlayer, data); err != nil {
		m.logger.Warn("failed to cache player", "error", err)
	}
}

func (m *Manager) cacheResults(ctx context.Context, results []domain.ScanResult) {
	data, err := json.Marshal(results)
	if err != nil {
		m.logger.Warn("failed to encode results for cache", "error", err)
		return
	}
	if err := m.local.Set(ctx, localstore.KeyResults, data); err != nil {
		m.logger.Warn("failed to cache results", "error", err)
	}
}

func scanIDs(results []domain.ScanResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func removeName(players []string, name string) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		if p != name {
			out = append(out, p)
		}
	}
	return out
}

func copyTeams(teams domain.Teams) domain.Teams {
	return domain.Teams{
		Blue: domain.TeamState{
			Players: append([]string(nil), teams.Blue.Players...),
			Score:   teams.Blue.Score,
		},
		Red: domain.TeamState{
			Players: append([]string(nil), teams.Red.Players...),
			Score:   teams.Red.Score,
		},
	}
}

func copySnapshot(snap domain.Snapshot) domain.Snapshot {
	out := snap
	if snap.Player != nil {
		p := *snap.Player
		out.Player = &p
	}
	out.Results = append([]domain.ScanResult(nil), snap.Results...)
	out.ScannedQRCodes = append([]string(nil), snap.ScannedQRCodes...)
	out.Teams = copyTeams(snap.Teams)
	return out
}
