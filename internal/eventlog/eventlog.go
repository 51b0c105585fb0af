// Package eventlog keeps a bounded, newest-first log of raw inbound webhook
// events for replay and diagnostics.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxLen bounds the log when no length is configured.
const DefaultMaxLen int64 = 500

// Entry is one received webhook delivery.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	ReceivedAt time.Time `json:"receivedAt"`
	Resource   string    `json:"resource,omitempty"`
	Status     string    `json:"status,omitempty"`
	ResourceID string    `json:"resourceId,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	// Raw is the body exactly as received; it may not be valid JSON.
	Raw string `json:"raw"`
}

// Archive stores entries beyond the ring buffer's horizon.
type Archive interface {
	Store(ctx context.Context, entry Entry) error
}

// Log is a Redis list trimmed to a fixed length after every append.
type Log struct {
	rdb     *redis.Client
	key     string
	maxLen  int64
	archive Archive
	log     *logger.Logger
	now     func() time.Time
}

// New creates an event log. maxLen <= 0 selects DefaultMaxLen.
func New(rdb *redis.Client, keys kv.Keyspace, maxLen int64, log *logger.Logger) *Log {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Log{
		rdb:    rdb,
		key:    keys.Key("eventlog"),
		maxLen: maxLen,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetArchive attaches an optional archive sink.
func (l *Log) SetArchive(a Archive) {
	l.archive = a
}

// MaxLen returns the ring buffer capacity.
func (l *Log) MaxLen() int64 {
	return l.maxLen
}

// Append records the entry, assigning an id and receive time when missing,
// and trims the log to its maximum length in the same round trip.
func (l *Log) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = l.now()
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("encode event log entry: %w", err)
	}

	pipe := l.rdb.TxPipeline()
	pipe.LPush(ctx, l.key, raw)
	pipe.LTrim(ctx, l.key, 0, l.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return entry, apperr.Unavailable("append event log", err)
	}

	if l.archive != nil {
		if err := l.archive.Store(ctx, entry); err != nil {
			l.log.WithContext(ctx).Warn("eventlog: archive failed", "eventId", entry.ID, "error", err)
		}
	}
	return entry, nil
}

// ReadRecent returns up to n entries, newest first. n <= 0 or n above the
// capacity returns the whole log.
func (l *Log) ReadRecent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 || int64(n) > l.maxLen {
		n = int(l.maxLen)
	}
	raws, err := l.rdb.LRange(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, apperr.Unavailable("read event log", err)
	}

	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			l.log.Warn("eventlog: skipping undecodable entry", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
