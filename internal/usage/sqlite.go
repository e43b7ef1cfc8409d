package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/modelgate/modelgate/internal/logging"

	_ "modernc.org/sqlite"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultRetentionDays = 30
	recordChanCapacity   = 1000
)

// SQLiteBackend persists usage records to a local SQLite database. Writes
// go through a buffered channel and are committed in batches; Enqueue never
// blocks the request path.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string

	recordChan chan Record
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
	retentionDays int

	flushTicker   *time.Ticker
	cleanupTicker *time.Ticker

	flushMu sync.Mutex
}

func NewSQLiteBackend(path string, cfg BackendConfig) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create usage db directory: %w", err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// A single connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{
		db:            db,
		dbPath:        path,
		recordChan:    make(chan Record, recordChanCapacity),
		stopChan:      make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		retentionDays: cfg.RetentionDays,
	}
	if b.batchSize <= 0 {
		b.batchSize = defaultBatchSize
	}
	if b.flushInterval <= 0 {
		b.flushInterval = defaultFlushInterval
	}
	if b.retentionDays <= 0 {
		b.retentionDays = defaultRetentionDays
	}

	if err := b.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			backend TEXT NOT NULL,
			connection_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			source_format TEXT NOT NULL DEFAULT '',
			requested_at TIMESTAMP NOT NULL,
			failed INTEGER NOT NULL DEFAULT 0,
			streamed INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			reasoning_tokens INTEGER NOT NULL DEFAULT 0,
			cached_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			first_token_ms INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			finish_reason TEXT NOT NULL DEFAULT '',
			estimated INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_usage_requested_at ON usage_records(requested_at);
		CREATE INDEX IF NOT EXISTS idx_usage_backend_model ON usage_records(backend, model);
	`)
	if err != nil {
		return fmt.Errorf("migrate usage db: %w", err)
	}
	return nil
}

// Start launches the write and cleanup loops.
func (b *SQLiteBackend) Start() error {
	b.flushTicker = time.NewTicker(b.flushInterval)
	b.cleanupTicker = time.NewTicker(24 * time.Hour)
	b.wg.Add(2)
	go b.writeLoop()
	go b.cleanupLoop()
	return nil
}

// Stop drains pending records and closes the database.
func (b *SQLiteBackend) Stop() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
	if b.flushTicker != nil {
		b.flushTicker.Stop()
	}
	if b.cleanupTicker != nil {
		b.cleanupTicker.Stop()
	}
	return b.db.Close()
}

// Enqueue queues a record for the write loop. Records are dropped when the
// queue is full rather than blocking callers.
func (b *SQLiteBackend) Enqueue(record Record) {
	select {
	case b.recordChan <- record:
	default:
		log.Warnf("Usage record queue full, dropping record for backend %s", record.Backend)
	}
}

// Flush drains the queue and writes everything synchronously.
func (b *SQLiteBackend) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	batch := make([]Record, 0, b.batchSize)
	for {
		select {
		case record := <-b.recordChan:
			batch = append(batch, record)
		default:
			return b.writeBatch(ctx, batch)
		}
	}
}

func (b *SQLiteBackend) writeLoop() {
	defer b.wg.Done()

	batch := make([]Record, 0, b.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := b.writeBatch(ctx, batch); err != nil {
			log.Errorf("Failed to write usage batch: %v", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case record := <-b.recordChan:
			batch = append(batch, record)
			if len(batch) >= b.batchSize {
				flush()
			}
		case <-b.flushTicker.C:
			flush()
		case <-b.stopChan:
			// Drain remaining records before exit.
			for {
				select {
				case record := <-b.recordChan:
					batch = append(batch, record)
					if len(batch) >= b.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (b *SQLiteBackend) writeBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_records (
			backend, connection_id, model, source_format, requested_at,
			failed, streamed, input_tokens, output_tokens, reasoning_tokens,
			cached_tokens, total_tokens, first_token_ms, duration_ms,
			finish_reason, estimated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare usage insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Backend, r.ConnectionID, r.Model, r.SourceFormat, r.RequestedAt,
			r.Failed, r.Streamed, r.InputTokens, r.OutputTokens, r.ReasoningTokens,
			r.CachedTokens, r.TotalTokens, r.FirstTokenMs, r.DurationMs,
			r.FinishReason, r.Estimated,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert usage record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage batch: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) QueryGlobalStats(ctx context.Context, since time.Time) (*AggregatedStats, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total_requests,
			COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0) as success_count,
			COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0) as failure_count,
			COALESCE(SUM(total_tokens), 0) as total_tokens
		FROM usage_records
		WHERE requested_at >= ?
	`, since)

	var stats AggregatedStats
	if err := row.Scan(&stats.TotalRequests, &stats.SuccessCount, &stats.FailureCount, &stats.TotalTokens); err != nil {
		return nil, fmt.Errorf("query global stats: %w", err)
	}
	return &stats, nil
}

func (b *SQLiteBackend) QueryModelStats(ctx context.Context, since time.Time) ([]ModelStats, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT
			COALESCE(NULLIF(backend, ''), 'unknown') as backend,
			COALESCE(NULLIF(model, ''), 'unknown') as model,
			COUNT(*) as requests,
			COALESCE(SUM(total_tokens), 0) as tokens
		FROM usage_records
		WHERE requested_at >= ?
		GROUP BY backend, model
		ORDER BY requests DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query model stats: %w", err)
	}
	defer rows.Close()

	var results []ModelStats
	for rows.Next() {
		var ms ModelStats
		if err := rows.Scan(&ms.Backend, &ms.Model, &ms.Requests, &ms.Tokens); err != nil {
			return nil, err
		}
		results = append(results, ms)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the given time.
func (b *SQLiteBackend) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	result, err := b.db.ExecContext(ctx, `DELETE FROM usage_records WHERE requested_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (b *SQLiteBackend) cleanupLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.cleanupTicker.C:
			cutoff := time.Now().AddDate(0, 0, -b.retentionDays)
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			deleted, err := b.Cleanup(ctx, cutoff)
			cancel()
			if err != nil {
				log.Errorf("Failed to cleanup old usage records: %v", err)
			} else if deleted > 0 {
				log.Infof("Cleaned up %d usage records older than %d days", deleted, b.retentionDays)
			}
		case <-b.stopChan:
			return
		}
	}
}
