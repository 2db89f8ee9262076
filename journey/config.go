package journey

import (
	"time"

	"github.com/voyantlabs/journey-go/journey/emit"
)

// Defaults applied by New when the corresponding option is not given.
const (
	DefaultMaxThreads      = 8
	DefaultIdleTimeout     = 30 * time.Second
	DefaultPathSeparator   = "-"
	DefaultErrorWorkBasket = "workflow_error"
)

// Options configures engine execution behavior.
//
// The zero value is not useful on its own; New fills in defaults for
// every field left at its zero value except MaxThreads, which is only
// defaulted when no explicit option set it (0 is a meaningful setting).
type Options struct {
	// MaxThreads is the size of the shared worker pool. All cases
	// managed by the engine share it; submissions beyond capacity block
	// the drive loop (backpressure) rather than dropping work. 0
	// disables concurrency and drives path workers inline.
	MaxThreads int

	// IdleTimeout bounds how long a blocked pool submission waits
	// before surfacing EXECUTOR_SATURATED, and how long Close waits for
	// the pool to drain.
	IdleTimeout time.Duration

	// PathSeparator is the single character joining path-name segments.
	// It is forbidden inside branch labels.
	PathSeparator string

	// ErrorWorkBasket is the basket a path pends at when user code
	// returns an error or panics and the response names no basket.
	ErrorWorkBasket string

	// WriteAuditLog copies every snapshot under a sequenced audit key.
	WriteAuditLog bool

	// WriteProcessInfoAfterEachStep snapshots after every path advance.
	// When false, snapshots are written only on pend, completion and
	// PERSIST nodes. Defaults to true.
	WriteProcessInfoAfterEachStep bool
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine, err := journey.New(factory, repo,
//	    journey.WithMaxThreads(16),
//	    journey.WithErrorWorkBasket("ops_errors"),
//	    journey.WithEmitter(emit.NewLogEmitter(os.Stdout, false)),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts          Options
	maxThreadsSet bool
	eachStepSet   bool
	emitter       emit.Emitter
	handler       EventHandler
	sla           SLACollaborator
	metrics       *PrometheusMetrics
}

// WithOptions replaces the whole Options struct. Later options still
// override individual fields.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		cfg.maxThreadsSet = true
		cfg.eachStepSet = true
		return nil
	}
}

// WithMaxThreads sets the worker pool size. 0 drives workers inline on
// the caller's goroutine, which is handy for tests and deterministic
// debugging.
func WithMaxThreads(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return engineErr(CodeInvariantViolation, "MaxThreads cannot be negative")
		}
		cfg.opts.MaxThreads = n
		cfg.maxThreadsSet = true
		return nil
	}
}

// WithIdleTimeout sets the pool backpressure window and the Close drain
// grace period.
func WithIdleTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return engineErr(CodeInvariantViolation, "IdleTimeout must be positive")
		}
		cfg.opts.IdleTimeout = d
		return nil
	}
}

// WithPathSeparator sets the separator character for hierarchical path
// names.
func WithPathSeparator(sep string) Option {
	return func(cfg *engineConfig) error {
		if len(sep) != 1 {
			return engineErr(CodeInvariantViolation, "PathSeparator must be a single character")
		}
		cfg.opts.PathSeparator = sep
		return nil
	}
}

// WithErrorWorkBasket sets the basket used when user code fails without
// naming one.
func WithErrorWorkBasket(basket string) Option {
	return func(cfg *engineConfig) error {
		if basket == "" {
			return engineErr(CodeInvariantViolation, "ErrorWorkBasket cannot be empty")
		}
		cfg.opts.ErrorWorkBasket = basket
		return nil
	}
}

// WithAuditLog enables sequenced audit copies of every snapshot.
func WithAuditLog(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.WriteAuditLog = enabled
		return nil
	}
}

// WithSnapshotEachStep controls whether a snapshot is written after
// every path advance (default) or only at pend/completion/PERSIST
// nodes.
func WithSnapshotEachStep(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.WriteProcessInfoAfterEachStep = enabled
		cfg.eachStepSet = true
		return nil
	}
}

// WithEmitter sets the observability emitter. Nil disables emission.
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = emitter
		return nil
	}
}

// WithEventHandler sets the host callback handler for case lifecycle
// events.
func WithEventHandler(handler EventHandler) Option {
	return func(cfg *engineConfig) error {
		cfg.handler = handler
		return nil
	}
}

// WithSLACollaborator sets the SLA timer service notified on
// pend/resume/complete.
func WithSLACollaborator(sla SLACollaborator) Option {
	return func(cfg *engineConfig) error {
		cfg.sla = sla
		return nil
	}
}

// WithMetrics attaches Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}
