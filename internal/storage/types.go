package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Well-known keys the services persist under.
const (
	KeySchedules    = "dnd.schedules"
	KeyManualDND    = "dnd.session"
	KeyQueueEntries = "queue.entries"
	KeyBatches      = "queue.batches"
)

// Store is a per-user key-value persistence API.
//
// Values are opaque JSON blobs owned by the writing service. Put with a nil
// or empty value is equivalent to Delete.
type Store interface {
	Put(ctx context.Context, userID, key string, value []byte) error
	Get(ctx context.Context, userID, key string) (value []byte, ok bool, err error)
	Delete(ctx context.Context, userID, key string) error

	// ListKey returns every user's value stored under key.
	// Used by services to hydrate their in-memory state at startup.
	ListKey(ctx context.Context, key string) (map[string][]byte, error)

	Close() error
}
