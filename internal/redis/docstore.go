// Package redis hosts the shared game document in a Redis hash and delivers
// change notifications over pub/sub. Each hash field is one top-level
// document field holding a JSON blob, so a merge-write touches only the
// named fields and leaves the rest of the document alone.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/qrmaster/internal/config"
	"github.com/qrmaster/internal/domain"
)

// DocStore provides merge-write and snapshot-subscription access to the
// single shared game document.
type DocStore struct {
	client  *redis.Client
	docKey  string
	channel string
	logger  *slog.Logger
}

// NewDocStore connects to Redis and returns a document store for the game
// document named by cfg.
func NewDocStore(cfg *config.RedisConfig, game *config.GameConfig, logger *slog.Logger) (*DocStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &DocStore{
		client:  client,
		docKey:  game.DocKey,
		channel: game.Channel,
		logger:  logger,
	}, nil
}

// Close closes the Redis connection
func (s *DocStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *DocStore) Client() *redis.Client {
	return s.client
}

// MergeWrite updates only the named top-level fields of the game document,
// then publishes a change notification so every subscriber (the writer
// included) re-reads the full document.
func (s *DocStore) MergeWrite(ctx context.Context, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	args := make([]any, 0, len(fields)*2)
	for name, value := range fields {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding field %s: %w", name, err)
		}
		args = append(args, name, string(data))
	}

	if err := s.client.HSet(ctx, s.docKey, args...).Err(); err != nil {
		return fmt.Errorf("merging document fields: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, "updated").Err(); err != nil {
		return fmt.Errorf("publishing change notification: %w", err)
	}
	return nil
}

// Read returns the full current game document.
func (s *DocStore) Read(ctx context.Context) (domain.Snapshot, error) {
	raw, err := s.client.HGetAll(ctx, s.docKey).Result()
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("reading document: %w", err)
	}
	return decodeSnapshot(raw), nil
}

// Subscribe returns a channel delivering the full current document on every
// remote change, the subscriber's own writes echoed back included. The
// current document is delivered once up front. The channel is closed when
// ctx is cancelled.
func (s *DocStore) Subscribe(ctx context.Context) (<-chan domain.Snapshot, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Force the subscription to be established before the initial read so
	// no change between the two is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to document changes: %w", err)
	}

	out := make(chan domain.Snapshot, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()

		if snap, err := s.Read(ctx); err != nil {
			s.logger.Warn("failed to read initial snapshot", "error", err)
		} else {
			out <- snap
		}

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				snap, err := s.Read(ctx)
				if err != nil {
					s.logger.Warn("failed to read snapshot after change", "error", err)
					continue
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// rawTeamState mirrors TeamState with raw fields so a malformed roster or
// score degrades to its zero value instead of failing the whole decode.
type rawTeamState struct {
	Players json.RawMessage `json:"players"`
	Score   json.RawMessage `json:"score"`
}

// decodeSnapshot turns the stored hash fields into a typed Snapshot. Missing
// or malformed fields default to empty/zero values; a bad document never
// produces an error, only a degraded snapshot.
func decodeSnapshot(fields map[string]string) domain.Snapshot {
	snap := domain.Snapshot{
		Results:        []domain.ScanResult{},
		ScannedQRCodes: []string{},
		Status:         domain.StatusWaiting,
		TimeRemaining:  domain.DefaultTimeRemaining,
		Teams: domain.Teams{
			Blue: domain.TeamState{Players: []string{}},
			Red:  domain.TeamState{Players: []string{}},
		},
	}

	if raw, ok := fields[domain.FieldPlayer]; ok {
		var p *domain.Player
		if err := json.Unmarshal([]byte(raw), &p); err == nil && p != nil && p.Team.Valid() {
			snap.Player = p
		}
	}

	if raw, ok := fields[domain.FieldResults]; ok {
		var results []domain.ScanResult
		if err := json.Unmarshal([]byte(raw), &results); err == nil && results != nil {
			snap.Results = results
		}
	}

	if raw, ok := fields[domain.FieldScannedQRCodes]; ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil && ids != nil {
			snap.ScannedQRCodes = ids
		}
	}

	if raw, ok := fields[domain.FieldStatus]; ok {
		var status domain.Status
		if err := json.Unmarshal([]byte(raw), &status); err == nil && status.Valid() {
			snap.Status = status
		}
	}

	if raw, ok := fields[domain.FieldTimeRemaining]; ok {
		var seconds int
		// A malformed or negative countdown keeps the pre-match default
		// rather than zero, which would read as an expired match.
		if err := json.Unmarshal([]byte(raw), &seconds); err == nil && seconds >= 0 {
			snap.TimeRemaining = seconds
		}
	}

	if raw, ok := fields[domain.FieldTeams]; ok {
		var teams map[string]rawTeamState
		if err := json.Unmarshal([]byte(raw), &teams); err == nil {
			snap.Teams.Blue = decodeTeamState(teams[string(domain.TeamBlue)])
			snap.Teams.Red = decodeTeamState(teams[string(domain.TeamRed)])
		}
	}

	return snap
}

// decodeTeamState coerces one team's raw fields, defaulting a non-array
// roster to empty and a non-numeric score to zero.
func decodeTeamState(raw rawTeamState) domain.TeamState {
	state := domain.TeamState{Players: []string{}}

	if len(raw.Players) > 0 {
		var players []string
		if err := json.Unmarshal(raw.Players, &players); err == nil && players != nil {
			state.Players = players
		}
	}
	if len(raw.Score) > 0 {
		var score int
		if err := json.Unmarshal(raw.Score, &score); err == nil && score >= 0 {
			state.Score = score
		}
	}
	return state
}
