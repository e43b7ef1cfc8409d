package connpool

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func seedPool(strategy Strategy, conns ...Connection) *Pool {
	p := New(Options{Strategy: strategy})
	for _, c := range conns {
		p.Upsert(c)
	}
	return p
}

func TestSelect_FillFirstPriority(t *testing.T) {
	p := seedPool(StrategyFillFirst,
		Connection{ID: "backup", Backend: "gemini", Priority: 2},
		Connection{ID: "primary", Backend: "gemini", Priority: 1},
	)

	for i := 0; i < 3; i++ {
		creds, err := p.Select("gemini", "gemini-2.5-flash", nil)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if creds.ID != "primary" {
			t.Fatalf("pick %d = %s, fill-first must keep the lowest priority number", i, creds.ID)
		}
	}

	// Lock the primary; the backup takes over.
	p.MarkUnavailable("primary", "gemini-2.5-flash", Decision{Cooldown: time.Minute, Reason: "quota"})
	creds, err := p.Select("gemini", "gemini-2.5-flash", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if creds.ID != "backup" {
		t.Errorf("pick = %s, want backup after primary locked", creds.ID)
	}
}

func TestSelect_FillFirstIDTieBreak(t *testing.T) {
	p := seedPool(StrategyFillFirst,
		Connection{ID: "b", Backend: "openai", Priority: 1},
		Connection{ID: "a", Backend: "openai", Priority: 1},
	)
	creds, err := p.Select("openai", "gpt-4o", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if creds.ID != "a" {
		t.Errorf("pick = %s, equal priorities break on id", creds.ID)
	}
}

func TestSelect_StickyRoundRobin(t *testing.T) {
	p := New(Options{Strategy: StrategyRoundRobin, StickyLimit: 2})
	p.Upsert(Connection{ID: "a", Backend: "openai"})
	p.Upsert(Connection{ID: "b", Backend: "openai"})

	var picks []string
	for i := 0; i < 6; i++ {
		creds, err := p.Select("openai", "gpt-4o", nil)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		picks = append(picks, creds.ID)
	}

	// The same connection serves `limit` consecutive requests before the
	// least recently used one takes over.
	first := picks[0]
	if picks[1] != first {
		t.Errorf("picks = %v, expected the first pick to stick", picks)
	}
	if picks[2] == first {
		t.Errorf("picks = %v, expected rotation at the sticky limit", picks)
	}
	if picks[3] != picks[2] {
		t.Errorf("picks = %v, rotated pick should stick too", picks)
	}
	if picks[4] != first {
		t.Errorf("picks = %v, expected rotation back", picks)
	}
}

func TestSelect_ConcurrentStickySelections(t *testing.T) {
	const (
		limit      = 2
		goroutines = 8
		perG       = 25
	)
	p := New(Options{Strategy: StrategyRoundRobin, StickyLimit: limit})
	p.Upsert(Connection{ID: "a", Backend: "openai"})
	p.Upsert(Connection{ID: "b", Backend: "openai"})

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				creds, err := p.Select("openai", "gpt-4o", nil)
				if err != nil {
					t.Errorf("Select failed: %v", err)
					return
				}
				mu.Lock()
				counts[creds.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if total := counts["a"] + counts["b"]; total != goroutines*perG {
		t.Fatalf("selections = %d, want %d", total, goroutines*perG)
	}
	if counts["a"] == 0 || counts["b"] == 0 {
		t.Fatalf("counts = %v, rotation must reach both connections", counts)
	}
	// Rotation at the sticky limit bounds how far one connection can lead,
	// no matter how the callers interleave.
	if diff := counts["a"] - counts["b"]; diff > limit || diff < -limit {
		t.Errorf("counts = %v, lead exceeds the sticky limit", counts)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.conns {
		if conn.ConsecutiveUseCount > limit {
			t.Errorf("connection %s ConsecutiveUseCount = %d, want <= %d", id, conn.ConsecutiveUseCount, limit)
		}
		if conn.LastUsedAt.IsZero() {
			t.Errorf("connection %s LastUsedAt not recorded", id)
		}
	}
}

func TestSelect_ExcludeAndExhaustion(t *testing.T) {
	p := seedPool(StrategyFillFirst,
		Connection{ID: "only", Backend: "claude", Priority: 1},
	)
	_, err := p.Select("claude", "claude-sonnet-4", map[string]struct{}{"only": {}})
	var noCreds *ErrNoCredentials
	if !errors.As(err, &noCreds) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
	if noCreds.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, exclusion is not a lock", noCreds.RetryAfter)
	}
}

func TestSelect_LockExpiryReportsRetryAfter(t *testing.T) {
	p := seedPool(StrategyFillFirst, Connection{ID: "c1", Backend: "claude"})
	p.MarkUnavailable("c1", "claude-sonnet-4", Decision{Cooldown: 10 * time.Second, Reason: "quota"})

	_, err := p.Select("claude", "claude-sonnet-4", nil)
	var noCreds *ErrNoCredentials
	if !errors.As(err, &noCreds) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
	if noCreds.RetryAfter <= 0 || noCreds.RetryAfter > 10*time.Second {
		t.Errorf("RetryAfter = %v, want the lock remainder", noCreds.RetryAfter)
	}

	if after, ok := p.RetryAfter("claude", "claude-sonnet-4"); !ok || after <= 0 {
		t.Errorf("RetryAfter() = %v %v, want the earliest lock expiry", after, ok)
	}
}

func TestLockScoping(t *testing.T) {
	p := seedPool(StrategyFillFirst, Connection{ID: "c1", Backend: "gemini"})

	p.MarkUnavailable("c1", "gemini-2.5-pro", Decision{Cooldown: time.Minute, Reason: "quota"})

	if _, err := p.Select("gemini", "gemini-2.5-pro", nil); err == nil {
		t.Error("locked model should be unavailable")
	}
	if _, err := p.Select("gemini", "gemini-2.5-flash", nil); err != nil {
		t.Errorf("other models must stay selectable: %v", err)
	}

	// An empty model locks the wildcard and blocks everything.
	p.MarkUnavailable("c1", "", Decision{Cooldown: time.Minute, Reason: "unauthorized"})
	if _, err := p.Select("gemini", "gemini-2.5-flash", nil); err == nil {
		t.Error("wildcard lock must block every model")
	}
}

func TestMarkSuccess_ClearsLockAndBackoff(t *testing.T) {
	p := seedPool(StrategyFillFirst, Connection{ID: "c1", Backend: "openai"})

	p.MarkUnavailable("c1", "gpt-4o", Decision{Exponential: true, Reason: "quota"})
	p.MarkSuccess("c1", "gpt-4o")

	if _, err := p.Select("openai", "gpt-4o", nil); err != nil {
		t.Fatalf("Select after MarkSuccess failed: %v", err)
	}

	// Backoff reset: the next failure starts at the base cooldown again.
	p.MarkUnavailable("c1", "gpt-4o", Decision{Exponential: true, Reason: "quota"})
	after, ok := p.RetryAfter("openai", "gpt-4o")
	if !ok {
		t.Fatal("expected an active lock")
	}
	if after > backoffBase {
		t.Errorf("cooldown = %v, success must reset the backoff level", after)
	}
}

func TestMarkUnavailable_RetryAfterOverride(t *testing.T) {
	p := seedPool(StrategyFillFirst, Connection{ID: "c1", Backend: "openai"})
	wait := 42 * time.Second
	p.MarkUnavailable("c1", "gpt-4o", Decision{Exponential: true, RetryAfter: &wait, Reason: "quota"})

	after, ok := p.RetryAfter("openai", "gpt-4o")
	if !ok {
		t.Fatal("expected an active lock")
	}
	if after <= 40*time.Second || after > wait {
		t.Errorf("cooldown = %v, upstream retry-after must win over backoff", after)
	}
}

func TestNextBackoffCooldown(t *testing.T) {
	level := 0
	var prev time.Duration
	for i := 0; i < 8; i++ {
		var cooldown time.Duration
		cooldown, level = nextBackoffCooldown(level)
		if cooldown < prev {
			t.Fatalf("cooldown regressed at step %d: %v < %v", i, cooldown, prev)
		}
		prev = cooldown
	}
	if prev != backoffBase*(1<<7) {
		t.Errorf("after 8 failures cooldown = %v, want %v", prev, backoffBase*(1<<7))
	}

	// The cap pins both the cooldown and the level.
	cooldown, next := nextBackoffCooldown(60)
	if cooldown != backoffMax {
		t.Errorf("cooldown = %v, want cap %v", cooldown, backoffMax)
	}
	if next != 60 {
		t.Errorf("level = %d, capped level must not grow", next)
	}
}

func TestUpsert_PreservesRuntimeState(t *testing.T) {
	p := seedPool(StrategyFillFirst, Connection{ID: "c1", Backend: "openai", APIKey: "old"})
	p.MarkUnavailable("c1", "gpt-4o", Decision{Cooldown: time.Minute, Reason: "quota"})

	p.Upsert(Connection{ID: "c1", Backend: "openai", APIKey: "new"})

	if _, err := p.Select("openai", "gpt-4o", nil); err == nil {
		t.Error("config reload must not clear active locks")
	}
	creds, err := p.Select("openai", "gpt-4o-mini", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if creds.APIKey != "new" {
		t.Errorf("APIKey = %q, config reload must refresh static credentials", creds.APIKey)
	}
}

func TestRehydrate_OverlaysPersistedState(t *testing.T) {
	p := seedPool(StrategyFillFirst, Connection{ID: "c1", Backend: "gemini-cli", RefreshToken: "from-config"})
	expiry := time.Now().Add(time.Hour)
	p.Rehydrate([]Connection{
		{ID: "c1", AccessToken: "persisted", TokenExpiry: expiry},
		{ID: "ghost", AccessToken: "ignored"},
	})

	creds, err := p.Select("gemini-cli", "gemini-2.5-pro", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if creds.AccessToken != "persisted" {
		t.Errorf("AccessToken = %q, persisted tokens must survive restart", creds.AccessToken)
	}
	if creds.RefreshToken != "from-config" {
		t.Errorf("RefreshToken = %q, config value must stay when record is empty", creds.RefreshToken)
	}
	if len(p.Connections()) != 1 {
		t.Error("rehydration must not resurrect connections the config dropped")
	}
}

func TestCheckFallbackError(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		message string
		reason  string
		exp     bool
	}{
		{"keyword beats status", 500, "Resource has been exhausted", "quota", true},
		{"denied keyword wins over quota text", 200, "request not allowed: rate limit exempt", "denied", false},
		{"status 429", 429, "slow down", "quota", true},
		{"status 401", 401, "bad key", "unauthorized", false},
		{"status 403", 403, "billing", "payment", false},
		{"status 404", 404, "no such model", "not_found", false},
		{"status 500 plain", 500, "internal", "transient", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := CheckFallbackError(tc.status, tc.message)
			if !d.Fallback {
				t.Error("classified errors always allow fallback")
			}
			if d.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", d.Reason, tc.reason)
			}
			if d.Exponential != tc.exp {
				t.Errorf("exponential = %v, want %v", d.Exponential, tc.exp)
			}
		})
	}
}
