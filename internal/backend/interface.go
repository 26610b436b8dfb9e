package backend

import (
	"context"
	"time"

	"finguru/internal/cashback"
)

// Store is the bonus storage used by the cashback service and the ledger worker.
type Store interface {
	cashback.Store
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// ReadyCheck reports whether the backend can currently serve requests.
type ReadyCheck func(ctx context.Context) error

// BackendResult contains the store and its optional readiness check and cleanup.
type BackendResult struct {
	Type    BackendType
	Store   Store
	Ready   ReadyCheck
	Cleanup CleanupFunc
}

// Close runs the cleanup, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
