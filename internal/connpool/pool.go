package connpool

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/modelgate/modelgate/internal/logging"
)

// Strategy names a credential selection policy.
type Strategy string

const (
	StrategyFillFirst  Strategy = "fill-first"
	StrategyRoundRobin Strategy = "round-robin"
)

const defaultStickyLimit = 3

// Store persists connection bookkeeping. Writes are fire-and-forget and
// eventually consistent; failures never block the request path.
type Store interface {
	Save(conn Connection) error
}

// ErrNoCredentials is returned by Select when no connection can serve the
// request right now. RetryAfter carries the earliest lock expiry when the
// pool has locked candidates, zero when the pool simply has none.
type ErrNoCredentials struct {
	Backend    string
	Model      string
	RetryAfter time.Duration
}

func (e *ErrNoCredentials) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("no available credentials for backend %q model %q, retry after %s", e.Backend, e.Model, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("no credentials configured for backend %q", e.Backend)
}

// Pool is the process-wide credential pool. Selection is read-modify-write
// over shared counters, so selection and bookkeeping share one mutex:
// concurrent requests must observe a consistent least-recently-used view.
type Pool struct {
	mu          sync.Mutex
	conns       map[string]*Connection
	strategy    Strategy
	stickyLimit int
	store       Store
}

type Options struct {
	Strategy    Strategy
	StickyLimit int
	Store       Store
}

func New(opts Options) *Pool {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyFillFirst
	}
	limit := opts.StickyLimit
	if limit <= 0 {
		limit = defaultStickyLimit
	}
	return &Pool{
		conns:       make(map[string]*Connection),
		strategy:    strategy,
		stickyLimit: limit,
		store:       opts.Store,
	}
}

// Upsert adds or replaces a connection record.
func (p *Pool) Upsert(conn Connection) {
	if conn.ModelLocks == nil {
		conn.ModelLocks = make(map[string]time.Time)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[conn.ID]; ok {
		// Preserve runtime bookkeeping across config reloads.
		conn.ModelLocks = existing.ModelLocks
		conn.BackoffLevel = existing.BackoffLevel
		conn.ConsecutiveUseCount = existing.ConsecutiveUseCount
		conn.LastUsedAt = existing.LastUsedAt
	}
	p.conns[conn.ID] = &conn
}

// Rehydrate overlays persisted runtime state onto seeded connections.
// The config file stays authoritative for identity and static credentials;
// refreshed tokens and lock state survive restarts.
func (p *Pool) Rehydrate(records []Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range records {
		conn, ok := p.conns[rec.ID]
		if !ok {
			continue
		}
		if rec.AccessToken != "" {
			conn.AccessToken = rec.AccessToken
		}
		if rec.RefreshToken != "" {
			conn.RefreshToken = rec.RefreshToken
		}
		if !rec.TokenExpiry.IsZero() {
			conn.TokenExpiry = rec.TokenExpiry
		}
		if len(rec.ModelLocks) > 0 {
			conn.ModelLocks = rec.ModelLocks
		}
		if rec.BackoffLevel > conn.BackoffLevel {
			conn.BackoffLevel = rec.BackoffLevel
		}
	}
}

// Remove drops a connection from the pool.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, id)
}

// SetStrategy swaps the selection policy at runtime.
func (p *Pool) SetStrategy(strategy Strategy, stickyLimit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strategy != "" {
		p.strategy = strategy
	}
	if stickyLimit > 0 {
		p.stickyLimit = stickyLimit
	}
}

// Select picks one available connection for the backend and model,
// excluding ids that already failed this request. Usage counters update in
// the same critical section as the read, so no two concurrent selections
// act on a stale view.
func (p *Pool) Select(backend, model string, exclude map[string]struct{}) (Credentials, error) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*Connection
	var earliest time.Time
	for _, conn := range p.conns {
		if conn.Backend != backend || conn.Disabled {
			continue
		}
		if _, skip := exclude[conn.ID]; skip {
			continue
		}
		if locked, expiry := conn.lockedForModel(model, now); locked {
			if earliest.IsZero() || expiry.Before(earliest) {
				earliest = expiry
			}
			continue
		}
		candidates = append(candidates, conn)
	}
	if len(candidates) == 0 {
		err := &ErrNoCredentials{Backend: backend, Model: model}
		if !earliest.IsZero() {
			err.RetryAfter = earliest.Sub(now)
		}
		return Credentials{}, err
	}

	var picked *Connection
	switch p.strategy {
	case StrategyRoundRobin:
		picked = pickSticky(candidates, p.stickyLimit)
	default:
		picked = pickFillFirst(candidates)
		picked.ConsecutiveUseCount++
	}
	picked.LastUsedAt = now
	return picked.snapshot(), nil
}

// pickFillFirst returns the lowest-priority-number candidate, id order as
// the deterministic tie-break.
func pickFillFirst(candidates []*Connection) *Connection {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0]
}

// pickSticky keeps the most-recently-used candidate until its consecutive
// count hits the limit, then rotates to the least-recently-used one.
func pickSticky(candidates []*Connection, limit int) *Connection {
	var mru, lru *Connection
	for _, conn := range candidates {
		if mru == nil || conn.LastUsedAt.After(mru.LastUsedAt) {
			mru = conn
		}
		if lru == nil || conn.LastUsedAt.Before(lru.LastUsedAt) {
			lru = conn
		}
	}
	if mru != nil && mru.ConsecutiveUseCount < limit {
		mru.ConsecutiveUseCount++
		return mru
	}
	lru.ConsecutiveUseCount = 1
	return lru
}

// MarkUnavailable locks a connection for the model per the classification
// decision. An unknown model locks the wildcard. Explicit upstream
// retry-after beats the computed cooldown.
func (p *Pool) MarkUnavailable(id, model string, decision Decision) {
	key := model
	if key == "" {
		key = WildcardModel
	}
	now := time.Now()

	p.mu.Lock()
	conn, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	var cooldown time.Duration
	switch {
	case decision.RetryAfter != nil:
		cooldown = *decision.RetryAfter
	case decision.Exponential:
		cooldown, conn.BackoffLevel = nextBackoffCooldown(conn.BackoffLevel)
	default:
		cooldown = decision.Cooldown
	}
	if conn.ModelLocks == nil {
		conn.ModelLocks = make(map[string]time.Time)
	}
	conn.ModelLocks[key] = now.Add(cooldown)
	conn.LastError = decision.Reason
	conn.LastErrorAt = now
	snapshot := *conn
	p.mu.Unlock()

	log.Debugf("connpool: locked %s for model %s (%s, %s)", id, key, decision.Reason, cooldown.Round(time.Second))
	p.persist(snapshot)
}

// MarkSuccess clears the model lock after a successful call, lazily drops
// expired locks, and resets backoff only when no other active lock remains.
func (p *Pool) MarkSuccess(id, model string) {
	now := time.Now()
	p.mu.Lock()
	conn, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(conn.ModelLocks, model)
	delete(conn.ModelLocks, WildcardModel)
	if !conn.pruneExpiredLocks(now) {
		conn.BackoffLevel = 0
	}
	conn.LastError = ""
	snapshot := *conn
	p.mu.Unlock()

	p.persist(snapshot)
}

// UpdateTokens stores refreshed credentials on the connection.
func (p *Pool) UpdateTokens(id, accessToken, refreshToken string, expiry time.Time) {
	p.mu.Lock()
	conn, ok := p.conns[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	conn.AccessToken = accessToken
	if refreshToken != "" {
		conn.RefreshToken = refreshToken
	}
	conn.TokenExpiry = expiry
	snapshot := *conn
	p.mu.Unlock()

	p.persist(snapshot)
}

// RetryAfter reports the earliest lock expiry for a backend/model pair,
// used to annotate exhaustion responses.
func (p *Pool) RetryAfter(backend, model string) (time.Duration, bool) {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	var earliest time.Time
	for _, conn := range p.conns {
		if conn.Backend != backend || conn.Disabled {
			continue
		}
		if locked, expiry := conn.lockedForModel(model, now); locked {
			if earliest.IsZero() || expiry.Before(earliest) {
				earliest = expiry
			}
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	return earliest.Sub(now), true
}

// Connections returns snapshots of every pooled connection, for health
// reporting.
func (p *Pool) Connections() []Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Credentials, 0, len(p.conns))
	for _, conn := range p.conns {
		out = append(out, conn.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) persist(conn Connection) {
	if p.store == nil {
		return
	}
	go func() {
		if err := p.store.Save(conn); err != nil {
			log.Warnf("connpool: persist %s failed: %v", conn.ID, err)
		}
	}()
}
