// Package connpool owns the pool of upstream credentials. It selects a
// connection per request under a configurable strategy, tracks per-model
// cooldown locks with exponential backoff, and classifies upstream errors
// into fallback decisions.
package connpool

import (
	"time"
)

// WildcardModel is the lock key used when the failing model is unknown; a
// wildcard lock blocks the connection for every model.
const WildcardModel = "__all"

// AuthKind distinguishes how a connection authenticates upstream.
type AuthKind string

const (
	AuthAPIKey AuthKind = "api-key"
	AuthOAuth  AuthKind = "oauth"
)

// Connection is one stored credential for one backend. Records live inside
// the pool and are only touched under its mutex; callers get Credentials
// snapshots instead.
type Connection struct {
	ID       string
	Backend  string
	Label    string
	AuthKind AuthKind

	APIKey       string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	ProjectID    string

	Priority int
	Disabled bool
	ProxyURL string

	// ModelLocks maps model id (or WildcardModel) to lock expiry. A lock
	// whose expiry has passed is inert and treated as absent.
	ModelLocks map[string]time.Time

	BackoffLevel        int
	ConsecutiveUseCount int
	LastUsedAt          time.Time

	LastError   string
	LastErrorAt time.Time
}

// Credentials is the immutable view handed to executors.
type Credentials struct {
	ID       string
	Backend  string
	Label    string
	AuthKind AuthKind

	APIKey       string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	ProjectID    string
	ProxyURL     string
}

func (c *Connection) snapshot() Credentials {
	return Credentials{
		ID:           c.ID,
		Backend:      c.Backend,
		Label:        c.Label,
		AuthKind:     c.AuthKind,
		APIKey:       c.APIKey,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenExpiry:  c.TokenExpiry,
		ProjectID:    c.ProjectID,
		ProxyURL:     c.ProxyURL,
	}
}

// lockedForModel reports whether an active lock covers the model, and the
// expiry of the blocking lock. Checks the model key and the wildcard.
func (c *Connection) lockedForModel(model string, now time.Time) (bool, time.Time) {
	if len(c.ModelLocks) == 0 {
		return false, time.Time{}
	}
	if expiry, ok := c.ModelLocks[model]; ok && expiry.After(now) {
		return true, expiry
	}
	if expiry, ok := c.ModelLocks[WildcardModel]; ok && expiry.After(now) {
		return true, expiry
	}
	return false, time.Time{}
}

// pruneExpiredLocks drops inert locks and reports whether any active lock
// survives.
func (c *Connection) pruneExpiredLocks(now time.Time) bool {
	active := false
	for key, expiry := range c.ModelLocks {
		if !expiry.After(now) {
			delete(c.ModelLocks, key)
			continue
		}
		active = true
	}
	return active
}
