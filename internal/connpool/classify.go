package connpool

import (
	"strings"
	"time"
)

const (
	backoffBase = time.Second
	backoffMax  = 30 * time.Minute

	deniedCooldown       = 30 * time.Second
	unauthorizedCooldown = 30 * time.Minute
	paymentCooldown      = 30 * time.Minute
	notFoundCooldown     = 12 * time.Hour
	transientCooldown    = time.Minute
)

// Decision is the outcome of classifying one upstream failure.
type Decision struct {
	// Fallback is always true for classified errors; the orchestrator's
	// credential budget is what eventually stops the loop.
	Fallback bool

	// Exponential selects backoff-driven cooldown computed from the
	// connection's current level at lock time.
	Exponential bool

	// Cooldown is the fixed lock duration when Exponential is false.
	Cooldown time.Duration

	// RetryAfter overrides the computed cooldown when the upstream said
	// exactly how long to wait.
	RetryAfter *time.Duration

	Reason string
}

// Error-text keywords checked before status codes. Vendors return HTTP 200
// with an error payload, or unconventional statuses, often enough that the
// message wins.
var (
	deniedKeywords = []string{
		"no credentials",
		"request not allowed",
	}
	quotaKeywords = []string{
		"rate limit",
		"rate_limit",
		"ratelimit",
		"quota",
		"resource_exhausted",
		"resource has been exhausted",
		"overloaded",
		"too many requests",
		"capacity",
	}
)

// CheckFallbackError classifies an upstream failure into a fallback
// decision. Keyword checks on the message take priority over the status
// code.
func CheckFallbackError(status int, message string) Decision {
	lower := strings.ToLower(message)
	for _, kw := range deniedKeywords {
		if strings.Contains(lower, kw) {
			return Decision{Fallback: true, Cooldown: deniedCooldown, Reason: "denied"}
		}
	}
	for _, kw := range quotaKeywords {
		if strings.Contains(lower, kw) {
			return Decision{Fallback: true, Exponential: true, Reason: "quota"}
		}
	}

	switch {
	case status == 401:
		return Decision{Fallback: true, Cooldown: unauthorizedCooldown, Reason: "unauthorized"}
	case status == 402 || status == 403:
		return Decision{Fallback: true, Cooldown: paymentCooldown, Reason: "payment"}
	case status == 404:
		return Decision{Fallback: true, Cooldown: notFoundCooldown, Reason: "not_found"}
	case status == 429:
		return Decision{Fallback: true, Exponential: true, Reason: "quota"}
	default:
		return Decision{Fallback: true, Cooldown: transientCooldown, Reason: "transient"}
	}
}

// nextBackoffCooldown returns the cooldown for the given backoff level and
// the level to store for the next failure. The cap pins the level.
func nextBackoffCooldown(prevLevel int) (time.Duration, int) {
	if prevLevel < 0 {
		prevLevel = 0
	}
	cooldown := backoffBase * time.Duration(1<<prevLevel)
	if cooldown < backoffBase {
		cooldown = backoffBase
	}
	if cooldown >= backoffMax {
		return backoffMax, prevLevel
	}
	return cooldown, prevLevel + 1
}
