package resilience

import "time"

// Operation names used by the pipeline collaborators.
const (
	OpEmbed        = "ollama.embed"
	OpGenerate     = "ollama.generate"
	OpIndexSearch  = "qdrant.search"
	OpIndexInfo    = "qdrant.collection_info"
	OpAuditPublish = "nats.publish"
)

// Config is shared by every collaborator executor. Attempts include the first
// call, so RetryMaxAttempts=1 disables retry.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// AttemptTimeouts bounds a single attempt of the named operation. Retries
	// get a fresh budget; the caller's deadline still caps the whole call.
	AttemptTimeouts map[string]time.Duration

	BreakerEnabled bool
	// Breaker trips once BreakerMinRequests calls were seen in the current
	// window and the failure share reaches BreakerFailureRatio.
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultAttemptTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		OpEmbed:        5 * time.Second,
		OpGenerate:     60 * time.Second,
		OpIndexSearch:  3 * time.Second,
		OpIndexInfo:    3 * time.Second,
		OpAuditPublish: 2 * time.Second,
	}
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		AttemptTimeouts: DefaultAttemptTimeouts(),

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      20 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// AttemptTimeout returns the per-attempt bound for operation, zero for none.
func (c Config) AttemptTimeout(operation string) time.Duration {
	if d, ok := c.AttemptTimeouts[operation]; ok && d > 0 {
		return d
	}
	return 0
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}
