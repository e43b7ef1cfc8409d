package executor

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/sync/singleflight"

	"github.com/modelgate/modelgate/internal/connpool"
	log "github.com/modelgate/modelgate/internal/logging"
)

// RefreshManager deduplicates concurrent token refreshes per connection:
// many requests can detect an expired token at once, but only one exchange
// hits the backend, and everyone shares its result.
type RefreshManager struct {
	group singleflight.Group
}

func NewRefreshManager() *RefreshManager {
	return &RefreshManager{}
}

// Refresh runs the backend's token exchange for the connection, retried on
// transient failure. (nil, nil) passes through untouched: the backend has
// no refresh procedure.
func (m *RefreshManager) Refresh(ctx context.Context, exec Executor, creds connpool.Credentials) (*Tokens, error) {
	result, err, shared := m.group.Do(creds.ID, func() (any, error) {
		policy := retrypolicy.NewBuilder[*Tokens]().
			WithMaxRetries(2).
			WithBackoff(500*time.Millisecond, 5*time.Second).
			Build()
		return failsafe.With(policy).WithContext(ctx).Get(func() (*Tokens, error) {
			return exec.Refresh(ctx, creds)
		})
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debugf("refresh: deduplicated concurrent refresh for %s", creds.ID)
	}
	tokens, _ := result.(*Tokens)
	return tokens, nil
}
