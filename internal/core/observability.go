package core

import (
	"context"
	"time"
)

// Logger is the structured logging surface used by the stores. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// MetricsRecorder observes the outcome and duration of every store operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts a span per store operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// DefaultMaxBulkSize bounds the number of ids a single bulk call may carry.
const DefaultMaxBulkSize = 500

type storeConfig struct {
	logger      Logger
	clock       Clock
	metrics     MetricsRecorder
	tracer      Tracer
	maxBulkSize int
	dependents  []string
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		logger:      noopLogger{},
		clock:       systemClock{},
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		maxBulkSize: DefaultMaxBulkSize,
	}
}

// Option configures an entity store.
type Option func(*storeConfig)

// WithLogger overrides the logger. Nil restores the no-op logger.
func WithLogger(logger Logger) Option {
	return func(cfg *storeConfig) {
		if logger == nil {
			cfg.logger = noopLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithClock overrides the clock used for durations and export timestamps.
func WithClock(clock Clock) Option {
	return func(cfg *storeConfig) {
		if clock == nil {
			cfg.clock = systemClock{}
			return
		}
		cfg.clock = clock
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(cfg *storeConfig) {
		if metrics == nil {
			cfg.metrics = noopMetrics{}
			return
		}
		cfg.metrics = metrics
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) Option {
	return func(cfg *storeConfig) {
		if tracer == nil {
			cfg.tracer = noopTracer{}
			return
		}
		cfg.tracer = tracer
	}
}

// WithMaxBulkSize bounds bulk selections. Values below 1 are ignored.
func WithMaxBulkSize(n int) Option {
	return func(cfg *storeConfig) {
		if n > 0 {
			cfg.maxBulkSize = n
		}
	}
}

// WithDependentNamespaces adds cache namespaces reconciled after every
// successful mutation in addition to the store's own namespace.
func WithDependentNamespaces(namespaces ...string) Option {
	return func(cfg *storeConfig) {
		for _, ns := range namespaces {
			if ns == "" {
				continue
			}
			dup := false
			for _, existing := range cfg.dependents {
				if existing == ns {
					dup = true
					break
				}
			}
			if !dup {
				cfg.dependents = append(cfg.dependents, ns)
			}
		}
	}
}

// observe runs fn inside a span and records its outcome.
func (cfg storeConfig) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := cfg.clock.Now()
	spanCtx, span := cfg.tracer.Start(ctx, operation)
	err := fn(spanCtx)
	span.End(err)
	elapsed := cfg.clock.Now().Sub(start)
	cfg.metrics.Observe(ctx, operation, err == nil, elapsed)
	if err != nil {
		cfg.logger.Warn("store operation failed", "operation", operation, "error", err, "duration", elapsed)
	} else {
		cfg.logger.Debug("store operation completed", "operation", operation, "duration", elapsed)
	}
	return err
}
