package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"booking_sync_backend/internal/adapters/storage"
)

const archivePrefix = "events"

// ObjectArchive writes each entry as a JSON object partitioned by day:
// events/YYYY/MM/DD/<id>.json.
type ObjectArchive struct {
	store  storage.ObjectStore
	bucket string
}

// NewObjectArchive creates an archive in bucket.
func NewObjectArchive(store storage.ObjectStore, bucket string) *ObjectArchive {
	return &ObjectArchive{store: store, bucket: bucket}
}

// ObjectKey returns the archive key of an entry.
func ObjectKey(entry Entry) string {
	return fmt.Sprintf("%s/%s/%s.json", archivePrefix, entry.ReceivedAt.UTC().Format("2006/01/02"), entry.ID)
}

// Store uploads the entry.
func (a *ObjectArchive) Store(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode archived entry: %w", err)
	}
	return a.store.Put(ctx, a.bucket, ObjectKey(entry), "application/json", raw)
}

// ReadDay loads every archived entry received on the given UTC day, oldest first.
func (a *ObjectArchive) ReadDay(ctx context.Context, day time.Time) ([]Entry, error) {
	prefix := fmt.Sprintf("%s/%s/", archivePrefix, day.UTC().Format("2006/01/02"))
	objects, err := a.store.List(ctx, a.bucket, prefix)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		entry, err := a.read(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	sortOldestFirst(out)
	return out, nil
}

func (a *ObjectArchive) read(ctx context.Context, key string) (Entry, error) {
	raw, err := a.store.Get(ctx, a.bucket, key)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode archived entry %s: %w", key, err)
	}
	return entry, nil
}
