package usage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend is the persistence contract for usage records. Implementations
// must be safe for concurrent use.
type Backend interface {
	// Enqueue adds a record to the write queue. Non-blocking.
	Enqueue(record Record)

	// Flush forces pending records to storage.
	Flush(ctx context.Context) error

	// QueryGlobalStats returns aggregate statistics since the given time.
	QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error)

	// QueryModelStats returns per-model statistics since the given time.
	QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error)

	// Cleanup removes records older than the given time.
	Cleanup(ctx context.Context, before time.Time) (int64, error)

	// Start begins background workers (write loop, cleanup loop).
	Start() error

	// Stop shuts the backend down, flushing pending writes.
	Stop() error
}

type AggregatedStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	FailureCount  int64 `json:"failure_count"`
	TotalTokens   int64 `json:"total_tokens"`
}

type ModelStats struct {
	Backend  string `json:"backend"`
	Model    string `json:"model"`
	Requests int64  `json:"requests"`
	Tokens   int64  `json:"tokens"`
}

// BackendConfig holds parameters for backend initialization.
type BackendConfig struct {
	// DSN selects the store: sqlite:///path/to.db or postgres://...
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	RetentionDays int
}

// NewBackend creates the backend matching the DSN scheme. An empty DSN
// disables persistence: counters still work, history does not.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch {
	case cfg.DSN == "":
		return nil, nil
	case strings.HasPrefix(cfg.DSN, "sqlite://"):
		return NewSQLiteBackend(strings.TrimPrefix(cfg.DSN, "sqlite://"), cfg)
	case strings.HasPrefix(cfg.DSN, "postgres://"), strings.HasPrefix(cfg.DSN, "postgresql://"):
		return NewPostgresBackend(cfg.DSN, cfg)
	default:
		return nil, fmt.Errorf("unknown usage DSN scheme: %q", cfg.DSN)
	}
}
