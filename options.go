package tgen

import (
	"context"
	"time"
)

const (
	// DefaultHeartbeatInterval is how often the driver logs a heartbeat
	// line summarizing cumulative and current-window byte/transfer
	// counts, unless a Start action overrides it.
	DefaultHeartbeatInterval = 1 * time.Second
	// DefaultTransferHeartbeat is the fixed interval at which forwarding
	// roles (FORWARD_SERVE/FORWARD_RETURN) re-process the Start action to
	// retry queued forwarding work and check transfer timeouts,
	// independent of the driver's own heartbeat cadence.
	DefaultTransferHeartbeat = 1500 * time.Millisecond

	// DefaultConnectTimeout bounds how long an Active transport waits for
	// a dial (direct or through a SOCKS proxy) to complete.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultStallout is the default grace period a Transfer tolerates
	// without forward read/write progress before failing with
	// ErrTransferStalled.
	DefaultStallout = 15 * time.Second
	// DefaultTransferTimeout bounds the total lifetime of a Transfer.
	DefaultTransferTimeout = 60 * time.Second

	// DefaultAcceptPoll is the epoll wait ceiling used by the
	// multiplexer's loopOnce when no timer is due sooner.
	DefaultAcceptPoll = 1 * time.Second
)

// Option configures a Driver at construction time.
type Option func(*Config)

// Config holds the driver's runtime settings. Zero value is never used
// directly; defaultConfig() supplies sane defaults and New() applies
// caller Options on top.
type Config struct {
	ctx    context.Context
	cancel context.CancelFunc

	metrics Metrics
	logger  Logger

	heartbeatInterval time.Duration
	transferHeartbeat time.Duration
	connectTimeout    time.Duration
	defaultStallout   time.Duration
	defaultTimeout    time.Duration
	acceptPoll        time.Duration

	socksProxy *Peer

	// HonorPerActionPeersAfterSampling preserves an open question from
	// the original: once percent_servers sampling materializes
	// chosenPeers, should a later Transfer action's own Peers override
	// take effect? The original's observed behavior ignores the
	// override; default false reproduces that.
	HonorPerActionPeersAfterSampling bool

	// ForwardPayloadPopFromTail reproduces the original's asymmetry
	// between eligibility (checked at the queue head) and consumption
	// (popped from the tail) in tgendriver_getPayload. Default true.
	ForwardPayloadPopFromTail bool

	// StartClientTimerIsAbsolute preserves the original's convention
	// that the client timer armed for a forwarding-queue entry fires at
	// the absolute arrival+wait deadline rather than wait after the
	// moment the entry is enqueued. Default true.
	StartClientTimerIsAbsolute bool

	// ZeroPercentServersMeansFullPool resolves an ambiguity in the
	// literal "cardinality = floor(percent_servers * |P|)" sampling
	// formula: a Start action that never sets PercentServers gets Go's
	// float64 zero value, which the literal formula would otherwise
	// turn into a permanently empty, terminally-failing chosenPeers.
	// Default true falls back to the full shuffled pool in that case;
	// set false to honor the literal floor, including for an explicit
	// percent_servers of 0.
	ZeroPercentServersMeansFullPool bool
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.heartbeatInterval <= 0 {
		return ErrInvalidConfig
	}
	if c.connectTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

func defaultConfig() *Config {
	ctx, cancel := context.WithCancel(context.Background())
	return &Config{
		ctx:                              ctx,
		cancel:                           cancel,
		metrics:                          NewDefaultMetrics(),
		logger:                           NewLogger(),
		heartbeatInterval:                DefaultHeartbeatInterval,
		transferHeartbeat:                DefaultTransferHeartbeat,
		connectTimeout:                   DefaultConnectTimeout,
		defaultStallout:                  DefaultStallout,
		defaultTimeout:                   DefaultTransferTimeout,
		acceptPoll:                       DefaultAcceptPoll,
		HonorPerActionPeersAfterSampling: false,
		ForwardPayloadPopFromTail:        true,
		StartClientTimerIsAbsolute:       true,
		ZeroPercentServersMeansFullPool:  true,
	}
}

func applyConfig(opts []Option) *Config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// WithHeartbeat sets the driver's own heartbeat logging cadence, used
// when the Start action sets no HeartbeatInterval of its own.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithTransferHeartbeat overrides the fixed forwarding-role transfer
// heartbeat cadence.
func WithTransferHeartbeat(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.transferHeartbeat = d
		}
	}
}

// WithConnectTimeout bounds how long an Active transport waits to dial.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithDefaultStallout sets the fallback stall grace period used when a
// Transfer action doesn't specify its own.
func WithDefaultStallout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.defaultStallout = d
		}
	}
}

// WithDefaultTimeout sets the fallback transfer lifetime used when a
// Transfer action doesn't specify its own.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithAcceptPoll bounds the multiplexer's maximum epoll wait when no
// timer is due sooner.
func WithAcceptPoll(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.acceptPoll = d
		}
	}
}

// WithSocksProxy routes every Active transport dial through the given
// SOCKS5 proxy peer.
func WithSocksProxy(p *Peer) Option {
	return func(c *Config) {
		c.socksProxy = p
	}
}

// WithContext sets the base context for the driver's event loop and any
// blocking dial/handshake operations.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		if ctx != nil {
			c.ctx, c.cancel = context.WithCancel(ctx)
		}
	}
}

// WithMetrics installs a custom Metrics sink in place of DefaultMetrics.
func WithMetrics(m Metrics) Option {
	return func(c *Config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger installs a custom Logger in place of the default logrus
// logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHonorPerActionPeersAfterSampling flips the open-question knob
// documented on Config.HonorPerActionPeersAfterSampling.
func WithHonorPerActionPeersAfterSampling(honor bool) Option {
	return func(c *Config) { c.HonorPerActionPeersAfterSampling = honor }
}

// WithForwardPayloadPopFromTail flips the open-question knob documented
// on Config.ForwardPayloadPopFromTail.
func WithForwardPayloadPopFromTail(fromTail bool) Option {
	return func(c *Config) { c.ForwardPayloadPopFromTail = fromTail }
}

// WithStartClientTimerIsAbsolute flips the open-question knob documented
// on Config.StartClientTimerIsAbsolute.
func WithStartClientTimerIsAbsolute(absolute bool) Option {
	return func(c *Config) { c.StartClientTimerIsAbsolute = absolute }
}

// WithZeroPercentServersMeansFullPool flips the knob documented on
// Config.ZeroPercentServersMeansFullPool.
func WithZeroPercentServersMeansFullPool(fullPool bool) Option {
	return func(c *Config) { c.ZeroPercentServersMeansFullPool = fullPool }
}
