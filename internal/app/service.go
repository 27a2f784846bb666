// Package service runs battery level computations with logging and
// instrumentation around the pure fold in the battery package.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/battery/internal/config"
	"github.com/okian/battery/internal/domain/battery"
	"github.com/okian/battery/pkg/logger"
	"github.com/okian/battery/pkg/metrics"
)

// Result is the outcome of one traced run.
type Result struct {
	RunID string
	Level int
	Steps []battery.Step
}

// Service processes event sequences. It is safe for concurrent use; every
// run is independent and only the counters are shared.
type Service struct {
	logger      logger.Logger
	metrics     *metrics.Manager
	stepLogging bool
	newID       func() string

	runs      atomic.Int64
	events    atomic.Int64
	lastLevel atomic.Int64
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics manager runs are recorded into.
func WithMetrics(m *metrics.Manager) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStepLogging enables one debug entry per applied event.
func WithStepLogging(enabled bool) Option {
	return func(s *Service) {
		s.stepLogging = enabled
	}
}

// WithIDGenerator replaces the run id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New constructs a Service. Without options it logs nowhere and records
// into the default metrics manager.
func New(opts ...Option) *Service {
	s := &Service{
		logger:  logger.NewNop(),
		metrics: metrics.Default(),
		newID:   uuid.NewString,
	}
	s.lastLevel.Store(battery.InitialLevel)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewFromConfig builds a Service from cfg.
//
// A nil log reconfigures the process-wide logger: logger.Init is called with
// the configured format and the global level is set to cfg.LogLevel. Pass a
// logger to leave global logging untouched.
//
// With the default metric names and no metricOpts the shared default manager
// is reused. Otherwise a manager is built on the shared custom registry
// (metricOpts may replace it); collectors already registered there are
// adopted, so repeated calls never register twice.
func NewFromConfig(cfg *config.Config, log logger.Logger, metricOpts ...metrics.Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
		}
		log = logger.Named("battery")
	}

	return New(
		WithLogger(log),
		WithStepLogging(cfg.StepLogging),
		WithMetrics(metricsFromConfig(cfg, metricOpts)),
	), nil
}

func metricsFromConfig(cfg *config.Config, metricOpts []metrics.Option) *metrics.Manager {
	defaults := config.New()
	if cfg.MetricsEnabled && len(metricOpts) == 0 &&
		cfg.MetricsNamespace == defaults.MetricsNamespace &&
		cfg.MetricsSubsystem == defaults.MetricsSubsystem {
		return metrics.Default()
	}

	opts := append([]metrics.Option{
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithPrometheusRegistry(metrics.GetRegistry()),
	}, metricOpts...)
	return metrics.NewManager(opts...)
}

// Process returns the final level for events.
func (s *Service) Process(ctx context.Context, events []int) int {
	return s.run(ctx, events, false).Level
}

// Trace returns the final level together with every intermediate step.
func (s *Service) Trace(ctx context.Context, events []int) Result {
	return s.run(ctx, events, true)
}

func (s *Service) run(ctx context.Context, events []int, keep bool) Result {
	start := time.Now()
	res := Result{RunID: s.newID()}
	log := s.logger.With(logger.String("run_id", res.RunID))

	if keep {
		res.Steps = make([]battery.Step, 0, len(events))
	}

	limitHits := 0
	res.Level = battery.Walk(events, func(step battery.Step) {
		s.metrics.RecordEvent(step.Kind.String())
		if limit := step.Limit(); limit != battery.LimitNone {
			limitHits++
			s.metrics.RecordLimitHit(limit.String())
		}
		if s.stepLogging {
			log.Debug(ctx, "event applied",
				logger.Int("index", step.Index),
				logger.Int("event", step.Event),
				logger.String("kind", step.Kind.String()),
				logger.Int("previous", step.Previous),
				logger.Int("uncapped", step.Uncapped),
				logger.Int("level", step.Level),
				logger.String("limit", step.Limit().String()),
			)
		}
		if keep {
			res.Steps = append(res.Steps, step)
		}
	})

	elapsedMs := float64(time.Since(start)) / float64(time.Millisecond)
	s.metrics.RecordRun(len(events), res.Level, elapsedMs)
	s.runs.Add(1)
	s.events.Add(int64(len(events)))
	s.lastLevel.Store(int64(res.Level))

	log.Info(ctx, "battery level computed",
		logger.Int("events", len(events)),
		logger.Int("level", res.Level),
		logger.Int("limit_hits", limitHits),
		logger.Float64("duration_ms", elapsedMs),
	)

	return res
}

// Stats returns service counters for monitoring.
func (s *Service) Stats() map[string]any {
	return map[string]any{
		"runs":           s.runs.Load(),
		"events":         s.events.Load(),
		"lastLevel":      int(s.lastLevel.Load()),
		"metricsEnabled": s.metrics.Enabled(),
		"stepLogging":    s.stepLogging,
	}
}
