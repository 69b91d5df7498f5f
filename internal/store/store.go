// Package store provides the shared key-value coordination store used by
// every webhook invocation: drafts, the per-chat "last draft" pointer,
// per-draft and global publish locks, and update de-duplication markers.
//
// All values are strings with a TTL. SetIfAbsent and DeleteIfValue are
// atomic across concurrent invocations; locks and de-duplication are built
// on them. Three backends exist: DynamoDB (conditional PutItem, the
// production default), Redis (SET NX EX) and an in-process map for the local
// server and tests.
package store

import (
	"context"
	"errors"
	"time"
)

// Default TTLs for coordination records.
const (
	DraftTTL      = 24 * time.Hour
	DedupeTTL     = 24 * time.Hour
	DraftLockTTL  = 10 * time.Minute
	GlobalLockTTL = 60 * time.Second
)

// ErrNotConfigured is returned when a backend is selected without the
// settings it needs.
var ErrNotConfigured = errors.New("store: backend not configured")

// Store is a string key-value store with per-key expiry. Implementations are
// safe for concurrent use.
type Store interface {
	// Get returns the value and true, or ("", false, nil) when the key does
	// not exist or has expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value with the given TTL, replacing any existing value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent writes value only if the key is absent or expired and
	// reports whether this call won. At most one concurrent caller wins.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfValue atomically removes the key only while it holds value
	// and reports whether it did. Lock owners release with it.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}
