package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/platform/kv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HistoryLog is the append-only per-client state log. It is written for
// audit only; the reconciler never reads it.
type HistoryLog interface {
	Append(ctx context.Context, entries ...domain.StateLogEntry) error
	List(ctx context.Context, clientID uuid.UUID, limit int) ([]domain.StateLogEntry, error)
	Move(ctx context.Context, from, to uuid.UUID) error
}

// RedisHistory keeps the state log as one Redis list per client.
type RedisHistory struct {
	rdb  *redis.Client
	keys kv.Keyspace
}

// NewRedisHistory creates a Redis-backed state log.
func NewRedisHistory(rdb *redis.Client, keys kv.Keyspace) *RedisHistory {
	return &RedisHistory{rdb: rdb, keys: keys}
}

func (h *RedisHistory) key(id uuid.UUID) string {
	return h.keys.Key("client", id.String(), "history")
}

// Append pushes entries in order.
func (h *RedisHistory) Append(ctx context.Context, entries ...domain.StateLogEntry) error {
	pipe := h.rdb.Pipeline()
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode state log entry: %w", err)
		}
		pipe.RPush(ctx, h.key(e.ClientID), raw)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// List returns the last limit entries, oldest first. limit <= 0 returns all.
func (h *RedisHistory) List(ctx context.Context, clientID uuid.UUID, limit int) ([]domain.StateLogEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raws, err := h.rdb.LRange(ctx, h.key(clientID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeEntries(raws)
}

// Move appends the history of from onto to, ordered by time, and removes from.
func (h *RedisHistory) Move(ctx context.Context, from, to uuid.UUID) error {
	if from == to {
		return nil
	}
	fromKey, toKey := h.key(from), h.key(to)

	txf := func(tx *redis.Tx) error {
		fromRaw, err := tx.LRange(ctx, fromKey, 0, -1).Result()
		if err != nil {
			return err
		}
		if len(fromRaw) == 0 {
			return nil
		}
		toRaw, err := tx.LRange(ctx, toKey, 0, -1).Result()
		if err != nil {
			return err
		}

		moved, err := decodeEntries(fromRaw)
		if err != nil {
			return err
		}
		existing, err := decodeEntries(toRaw)
		if err != nil {
			return err
		}
		for i := range moved {
			moved[i].ClientID = to
		}
		merged := append(existing, moved...)
		slices.SortStableFunc(merged, func(a, b domain.StateLogEntry) int {
			return a.OccurredAt.Compare(b.OccurredAt)
		})

		values := make([]interface{}, 0, len(merged))
		for _, e := range merged {
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			values = append(values, raw)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, toKey)
			p.RPush(ctx, toKey, values...)
			p.Del(ctx, fromKey)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < defaultRetries; attempt++ {
		err := h.rdb.Watch(ctx, txf, fromKey, toKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrVersionConflict
}

func decodeEntries(raws []string) ([]domain.StateLogEntry, error) {
	out := make([]domain.StateLogEntry, 0, len(raws))
	for _, raw := range raws {
		var e domain.StateLogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode state log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// PostgresHistory keeps the state log in the client_state_log table.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory creates a Postgres-backed state log.
func NewPostgresHistory(pool *pgxpool.Pool) *PostgresHistory {
	return &PostgresHistory{pool: pool}
}

// Append inserts entries in one batch.
func (h *PostgresHistory) Append(ctx context.Context, entries ...domain.StateLogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode state log metadata: %w", err)
		}
		if e.Metadata == nil {
			metadata = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO client_state_log (id, client_id, occurred_at, state_to, state_from, event_id, reason, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), e.ClientID, e.OccurredAt, string(e.To), string(e.From), e.EventID, e.Reason, metadata,
		)
	}

	results := h.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert state log entry: %w", err)
		}
	}
	return nil
}

// List returns the last limit entries, oldest first. limit <= 0 returns all.
func (h *PostgresHistory) List(ctx context.Context, clientID uuid.UUID, limit int) ([]domain.StateLogEntry, error) {
	query := `
		SELECT client_id, occurred_at, state_to, state_from, event_id, reason, metadata
		FROM client_state_log
		WHERE client_id = $1
		ORDER BY occurred_at DESC`
	args := []any{clientID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query state log: %w", err)
	}
	defer rows.Close()

	var out []domain.StateLogEntry
	for rows.Next() {
		var (
			e        domain.StateLogEntry
			to, from string
			metadata []byte
		)
		if err := rows.Scan(&e.ClientID, &e.OccurredAt, &to, &from, &e.EventID, &e.Reason, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan state log entry: %w", err)
		}
		e.To = domain.LifecycleState(to)
		e.From = domain.LifecycleState(from)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode state log metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Move re-parents every entry of from onto to.
func (h *PostgresHistory) Move(ctx context.Context, from, to uuid.UUID) error {
	_, err := h.pool.Exec(ctx, `UPDATE client_state_log SET client_id = $2 WHERE client_id = $1`, from, to)
	if err != nil {
		return fmt.Errorf("failed to move state log: %w", err)
	}
	return nil
}
