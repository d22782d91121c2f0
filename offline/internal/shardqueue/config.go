package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config groups all tunables. Values are taken from environment variables with
// the prefix "CAPTAINSLOG_SCHED_". Example: CAPTAINSLOG_SCHED_MAX_ATTEMPTS=4 .
type Config struct {
	Shards         int           `envconfig:"SHARDS"          default:"1"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"16"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"100ms"`

	// ErrorHandler is called synchronously after a Job gives up with a
	// non-nil error. Leave nil if you do not care.
	ErrorHandler func(error) `envconfig:"-"`

	// Logger receives lifecycle and panic messages. Zero value discards.
	Logger zerolog.Logger `envconfig:"-"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"4"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"1s"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"1m"`
}

// EnvPrefix is the envconfig prefix used by LoadConfig.
const EnvPrefix = "CAPTAINSLOG_SCHED"

// LoadConfig populates Config from environment variables.
func LoadConfig() (Config, error) {
	var c Config
	return c, envconfig.Process(EnvPrefix, &c)
}
