package executor

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/modelgate/modelgate/internal/connpool"
	log "github.com/modelgate/modelgate/internal/logging"
)

const (
	warmInterval  = 5 * time.Minute
	warmThreshold = 10 * time.Minute
)

// Warmer refreshes OAuth tokens shortly before they expire so requests
// rarely pay the refresh round trip inline. Sweeps are rate limited to
// avoid hammering token endpoints after a long sleep.
type Warmer struct {
	pool      *connpool.Pool
	refresher *RefreshManager
	limiter   *rate.Limiter
}

func NewWarmer(pool *connpool.Pool, refresher *RefreshManager) *Warmer {
	return &Warmer{
		pool:      pool,
		refresher: refresher,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Run sweeps until the context ends.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(warmInterval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Warmer) sweep(ctx context.Context) {
	for _, creds := range w.pool.Connections() {
		if creds.RefreshToken == "" {
			continue
		}
		if creds.TokenExpiry.IsZero() || time.Until(creds.TokenExpiry) > warmThreshold {
			continue
		}
		exec, ok := Lookup(creds.Backend)
		if !ok {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		tokens, err := w.refresher.Refresh(ctx, exec, creds)
		if err != nil {
			log.Warnf("warmer: refresh for %s failed: %v", creds.ID, err)
			continue
		}
		if tokens == nil {
			continue
		}
		w.pool.UpdateTokens(creds.ID, tokens.AccessToken, tokens.RefreshToken, tokens.Expiry)
		log.Infof("warmer: refreshed tokens for %s ahead of expiry", creds.ID)
	}
}
