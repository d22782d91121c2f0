package offline

// Functional options that configure an Engine during construction in New.

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dsbaciga/captainslog/internal/config"
	"github.com/dsbaciga/captainslog/offline/internal/api"
	"github.com/dsbaciga/captainslog/offline/internal/backoff"
)

// Option configures an Engine during construction in New.
type Option func(*Engine) error

// BackoffPolicy shapes the delay between follow-up passes after failures.
type BackoffPolicy = backoff.Policy

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// WithMaxRetries sets how many failed pushes a mutation gets before it is
// dead-lettered. The value must be greater than zero.
func WithMaxRetries(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("max retries must be > 0")
		}
		e.maxRetries = n
		return nil
	}
}

// WithConnectivity makes SyncAll and SyncTrip report offline while c says so.
// Without it the device is assumed online.
func WithConnectivity(c Connectivity) Option {
	return func(e *Engine) error {
		e.connectivity = c
		return nil
	}
}

// WithSettleDelay sets how long ScheduleAutoSync waits after the last signal
// before starting a pass.
func WithSettleDelay(d time.Duration) Option {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("settle delay must be >= 0")
		}
		e.settleDelay = d
		return nil
	}
}

// WithBackoffPolicy sets the follow-up pass backoff.
func WithBackoffPolicy(p BackoffPolicy) Option {
	return func(e *Engine) error {
		e.policy = p
		return nil
	}
}

// WithSchedulerConfig replaces the executor settings otherwise read from
// CAPTAINSLOG_SCHED_* environment variables.
func WithSchedulerConfig(c SchedulerConfig) Option {
	return func(e *Engine) error {
		e.schedCfg = &c
		return nil
	}
}

// WithRetention sets how long resolved conflicts and dead letters are kept
// before PruneHistory removes them.
func WithRetention(conflicts, deadLetters time.Duration) Option {
	return func(e *Engine) error {
		if conflicts <= 0 || deadLetters <= 0 {
			return fmt.Errorf("retention must be > 0")
		}
		e.conflictRetention = conflicts
		e.deadLetterRetention = deadLetters
		return nil
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		e.now = now
		return nil
	}
}

// WithRemote replaces the REST client; baseURL passed to New is ignored.
func WithRemote(r Remote) Option {
	return func(e *Engine) error {
		if r == nil {
			return fmt.Errorf("remote cannot be nil")
		}
		e.remote = r
		return nil
	}
}

// WithHTTPTimeout bounds each request to the server.
func WithHTTPTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.apiOpts = append(e.apiOpts, api.WithTimeout(d))
		return nil
	}
}

// WithCSRFPath overrides the token refresh path (default /auth/csrf-token).
func WithCSRFPath(p string) Option {
	return func(e *Engine) error {
		e.apiOpts = append(e.apiOpts, api.WithCSRFPath(p))
		return nil
	}
}

// WithHealthPath overrides the path probed by Ping (default /health).
func WithHealthPath(p string) Option {
	return func(e *Engine) error {
		e.apiOpts = append(e.apiOpts, api.WithHealthPath(p))
		return nil
	}
}

// WithAuthToken sends a bearer token with every request.
func WithAuthToken(token string) Option {
	return func(e *Engine) error {
		e.apiOpts = append(e.apiOpts, api.WithAuthToken(token))
		return nil
	}
}

// WithDebugLogging dumps every request and response at debug level. Also
// enabled by CAPTAINSLOG_DEBUG=true or DEBUG=true.
func WithDebugLogging(enabled bool) Option {
	return func(e *Engine) error {
		e.apiOpts = append(e.apiOpts, api.WithDebugLogging(enabled))
		return nil
	}
}

// WithConfig applies the settings of a loaded Config.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) error {
		opts := []Option{
			WithMaxRetries(cfg.MaxRetries),
			WithSettleDelay(cfg.SettleDelay),
			WithBackoffPolicy(BackoffPolicy{
				Initial:    cfg.BackoffInitial,
				Max:        cfg.BackoffMax,
				Multiplier: 2,
				Jitter:     cfg.BackoffJitter,
			}),
			WithRetention(cfg.ConflictRetention, cfg.DeadLetterRetention),
			WithHTTPTimeout(cfg.HTTPTimeout),
			WithCSRFPath(cfg.CSRFPath),
			WithHealthPath(cfg.HealthPath),
		}
		for _, o := range opts {
			if err := o(e); err != nil {
				return err
			}
		}
		return nil
	}
}
