package delivery

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval    = 50 * time.Millisecond
	defaultErrorBackoff    = time.Second
	defaultMaxAttempts     = 3
	defaultSendTimeout     = 10 * time.Second
	defaultConcurrency     = 1
	defaultRetryBackoff    = time.Second
	defaultMaxRetryBackoff = time.Hour
	defaultPendingInterval = 15 * time.Second
)

// ClaimMode selects how a cycle keeps other cycles off its task.
type ClaimMode string

const (
	// ClaimAuto leases on SQLite and locks rows elsewhere.
	ClaimAuto ClaimMode = ""
	// ClaimLock holds FOR UPDATE SKIP LOCKED across the send.
	ClaimLock ClaimMode = "lock"
	// ClaimLease commits a lease before sending.
	ClaimLease ClaimMode = "lease"
)

// Config controls how the Worker polls, sends and retries.
type Config struct {
	// PollInterval is the sleep after an empty poll.
	PollInterval time.Duration
	// ErrorBackoff is the sleep after a store error.
	ErrorBackoff time.Duration
	// MaxAttempts is the total number of send attempts per task, including
	// the first one.
	MaxAttempts int
	// SendTimeout bounds a single Sender.Send call.
	SendTimeout time.Duration
	// Concurrency is the number of concurrent dequeue cycles in Run.
	Concurrency int
	// RetryBackoff is the base of the exponential delay before a failed task
	// becomes due again. Zero retries immediately.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	// PendingInterval is the minimum time between queue-size samples.
	PendingInterval time.Duration
	// ClaimMode picks row locks or leases; ClaimAuto leases on SQLite.
	ClaimMode ClaimMode
	// LeaseDuration is how long a leased task stays hidden from other
	// cycles. Defaults to twice SendTimeout.
	LeaseDuration time.Duration

	Logger zerolog.Logger
	Clock  func() time.Time
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaultErrorBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.MaxRetryBackoff <= 0 {
		c.MaxRetryBackoff = defaultMaxRetryBackoff
	}
	if c.PendingInterval <= 0 {
		c.PendingInterval = defaultPendingInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 2 * c.SendTimeout
	}
	if c.Clock == nil {
		c.Clock = func() time.Time { return time.Now().UTC() }
	}
	return c
}

func defaultConfig() Config {
	return Config{
		RetryBackoff: defaultRetryBackoff,
		Logger:       log.Logger,
	}
}

// Option configures a Worker.
type Option func(*Config)

// WithPollInterval sets the delay between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PollInterval = d }
}

// WithErrorBackoff sets the delay after a store error.
func WithErrorBackoff(d time.Duration) Option {
	return func(c *Config) { c.ErrorBackoff = d }
}

// WithMaxAttempts sets the total number of attempts per task.
func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

// WithSendTimeout sets the per-send timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(c *Config) { c.SendTimeout = d }
}

// WithConcurrency sets the number of concurrent cycles in Run.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithRetryBackoff sets the base and cap of the retry delay.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(c *Config) {
		c.RetryBackoff = base
		c.MaxRetryBackoff = max
	}
}

// WithPendingInterval sets the minimum interval between queue-size samples.
func WithPendingInterval(d time.Duration) Option {
	return func(c *Config) { c.PendingInterval = d }
}

// WithClaimMode overrides the claim strategy picked from the database.
func WithClaimMode(m ClaimMode) Option {
	return func(c *Config) { c.ClaimMode = m }
}

// WithLeaseDuration sets how long a leased task stays hidden.
func WithLeaseDuration(d time.Duration) Option {
	return func(c *Config) { c.LeaseDuration = d }
}

// WithLogger sets the worker logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock replaces the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Clock = now }
}
