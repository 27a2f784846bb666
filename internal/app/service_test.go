package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/battery/internal/app"
	"github.com/okian/battery/internal/config"
	"github.com/okian/battery/internal/domain/battery"
	"github.com/okian/battery/pkg/logger"
	"github.com/okian/battery/pkg/metrics"
)

// sampleCount returns the summed counter value (or histogram sample count)
// for family name filtered by an optional label pair.
func sampleCount(reg *prometheus.Registry, name, label, value string) float64 {
	families, err := reg.Gather()
	So(err, ShouldBeNil)

	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if label != "" {
				match := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == value {
						match = true
					}
				}
				if !match {
					continue
				}
			}
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				total += float64(h.GetSampleCount())
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
	}
	return total
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should process the example sequence", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Process(context.Background(), []int{10, -20, 61, -15}), ShouldEqual, 85)
		})

		Convey("Then stats should start at the initial level", func() {
			stats := svc.Stats()
			So(stats["runs"], ShouldEqual, int64(0))
			So(stats["lastLevel"], ShouldEqual, battery.InitialLevel)
		})
	})
}

func TestService_Process(t *testing.T) {
	Convey("Given a service with a private metrics registry", t, func() {
		registry := prometheus.NewRegistry()
		svc := service.New(
			service.WithLogger(logger.NewNop()),
			service.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(registry))),
		)
		ctx := context.Background()

		Convey("When processing the documented sequences", func() {
			So(svc.Process(ctx, []int{10, -20, 61, -16}), ShouldEqual, 84)
			So(svc.Process(ctx, []int{-30, -25}), ShouldEqual, 0)
			So(svc.Process(ctx, nil), ShouldEqual, 50)

			Convey("Then stats should count runs and events", func() {
				stats := svc.Stats()
				So(stats["runs"], ShouldEqual, int64(3))
				So(stats["events"], ShouldEqual, int64(6))
				So(stats["lastLevel"], ShouldEqual, 50)
				So(stats["metricsEnabled"], ShouldBeTrue)
			})

			Convey("Then metrics should reflect every event and clamp", func() {
				So(sampleCount(registry, "battery_level_runs_total", "", ""), ShouldEqual, 3.0)
				So(sampleCount(registry, "battery_level_events_total", "kind", "charging"), ShouldEqual, 2.0)
				So(sampleCount(registry, "battery_level_events_total", "kind", "usage"), ShouldEqual, 4.0)
				So(sampleCount(registry, "battery_level_limit_hits_total", "limit", "upper"), ShouldEqual, 1.0)
				So(sampleCount(registry, "battery_level_limit_hits_total", "limit", "lower"), ShouldEqual, 1.0)
				So(sampleCount(registry, "battery_level_last_level", "", ""), ShouldEqual, 50.0)
			})
		})
	})
}

func TestService_Trace(t *testing.T) {
	Convey("Given a service with a fixed run id", t, func() {
		svc := service.New(
			service.WithMetrics(metrics.NewManager(metrics.WithMetricsEnabled(false))),
			service.WithIDGenerator(func() string { return "run-1" }),
		)

		Convey("When tracing the example sequence", func() {
			res := svc.Trace(context.Background(), []int{10, -20, 61, -15})

			Convey("Then every step should be returned", func() {
				So(res.RunID, ShouldEqual, "run-1")
				So(res.Level, ShouldEqual, 85)
				So(res.Steps, ShouldResemble, battery.Trace([]int{10, -20, 61, -15}))
				So(res.Steps[2].Limit(), ShouldEqual, battery.LimitUpper)
			})
		})

		Convey("When tracing no events", func() {
			res := svc.Trace(context.Background(), nil)

			Convey("Then the level should be unchanged with no steps", func() {
				So(res.Level, ShouldEqual, battery.InitialLevel)
				So(res.Steps, ShouldBeEmpty)
			})
		})
	})

	Convey("Given a service with the default id generator", t, func() {
		svc := service.New(service.WithMetrics(metrics.NewManager(metrics.WithMetricsEnabled(false))))

		Convey("Then run ids should be distinct UUIDs", func() {
			a := svc.Trace(context.Background(), []int{1})
			b := svc.Trace(context.Background(), []int{1})
			_, err := uuid.Parse(a.RunID)
			So(err, ShouldBeNil)
			So(a.RunID, ShouldNotEqual, b.RunID)
		})
	})
}

func TestService_Logging(t *testing.T) {
	Convey("Given a service logging JSON to a buffer", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithWriter(&buf), logger.WithFormat(logger.FormatJSON)), ShouldBeNil)
		So(logger.SetLevelString("debug"), ShouldBeNil)
		defer func() { _ = logger.SetLevelString("info") }()

		newService := func(steps bool) *service.Service {
			return service.New(
				service.WithLogger(logger.Named("battery")),
				service.WithMetrics(metrics.NewManager(metrics.WithMetricsEnabled(false))),
				service.WithIDGenerator(func() string { return "run-42" }),
				service.WithStepLogging(steps),
			)
		}

		Convey("When step logging is off", func() {
			newService(false).Process(context.Background(), []int{60})

			Convey("Then only the summary should be logged", func() {
				out := buf.String()
				So(strings.Count(out, "\n"), ShouldEqual, 1)
				So(out, ShouldContainSubstring, "battery level computed")
				So(out, ShouldContainSubstring, `"run_id":"run-42"`)
				So(out, ShouldContainSubstring, `"level":100`)
				So(out, ShouldContainSubstring, `"limit_hits":1`)
			})
		})

		Convey("When step logging is on", func() {
			newService(true).Process(context.Background(), []int{60, -10})

			Convey("Then each step should be logged before the summary", func() {
				out := buf.String()
				So(strings.Count(out, "event applied"), ShouldEqual, 2)
				So(out, ShouldContainSubstring, `"uncapped":110`)
				So(out, ShouldContainSubstring, `"limit":"upper"`)
				So(strings.Index(out, "event applied"), ShouldBeLessThan, strings.Index(out, "battery level computed"))
			})
		})
	})
}

func TestService_Concurrent(t *testing.T) {
	Convey("Given a service shared by many goroutines", t, func() {
		registry := prometheus.NewRegistry()
		svc := service.New(service.WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(registry))))

		const callers = 50
		var wg sync.WaitGroup
		results := make([]int, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = svc.Process(context.Background(), []int{20, -10, 30, -25, 15})
			}(i)
		}
		wg.Wait()

		Convey("Then every caller should get the same answer", func() {
			for _, r := range results {
				So(r, ShouldEqual, 80)
			}
			So(svc.Stats()["runs"], ShouldEqual, int64(callers))
			So(svc.Stats()["events"], ShouldEqual, int64(callers*5))
			So(sampleCount(registry, "battery_level_runs_total", "", ""), ShouldEqual, float64(callers))
		})
	})
}

func TestService_NewFromConfig(t *testing.T) {
	Convey("Given a configuration", t, func() {
		cfg := config.New()
		cfg.StepLogging = true
		cfg.MetricsNamespace = "laptop"

		Convey("When building a service with a private registry", func() {
			registry := prometheus.NewRegistry()
			svc, err := service.NewFromConfig(cfg, logger.NewNop(), metrics.WithPrometheusRegistry(registry))
			So(err, ShouldBeNil)
			So(svc.Process(context.Background(), []int{5, 10}), ShouldEqual, 65)

			Convey("Then metrics should use the configured namespace", func() {
				So(sampleCount(registry, "laptop_level_runs_total", "", ""), ShouldEqual, 1.0)
				So(svc.Stats()["stepLogging"], ShouldBeTrue)
			})
		})

		Convey("When building from the default configuration twice", func() {
			var first, second *service.Service
			var err1, err2 error
			So(func() {
				first, err1 = service.NewFromConfig(config.New(), logger.NewNop())
				second, err2 = service.NewFromConfig(config.New(), logger.NewNop())
			}, ShouldNotPanic)

			Convey("Then both services should compute levels and share the default metrics", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				before := sampleCount(metrics.GetRegistry(), "battery_level_runs_total", "", "")
				So(first.Process(context.Background(), []int{5, 10}), ShouldEqual, 65)
				So(second.Process(context.Background(), []int{5, 10}), ShouldEqual, 65)
				So(sampleCount(metrics.GetRegistry(), "battery_level_runs_total", "", ""), ShouldEqual, before+2)
			})
		})

		Convey("When building with custom names on the shared registry twice", func() {
			cfg.MetricsNamespace = "tablet"
			var first, second *service.Service
			So(func() {
				first, _ = service.NewFromConfig(cfg, logger.NewNop())
				second, _ = service.NewFromConfig(cfg, logger.NewNop())
			}, ShouldNotPanic)

			Convey("Then the second service should adopt the registered collectors", func() {
				before := sampleCount(metrics.GetRegistry(), "tablet_level_runs_total", "", "")
				So(first.Process(context.Background(), []int{5, 10}), ShouldEqual, 65)
				So(second.Process(context.Background(), []int{5, 10}), ShouldEqual, 65)
				So(sampleCount(metrics.GetRegistry(), "tablet_level_runs_total", "", ""), ShouldEqual, before+2)
			})
		})

		Convey("When metrics are disabled and no logger is given", func() {
			cfg.MetricsEnabled = false
			svc, err := service.NewFromConfig(cfg, nil)

			Convey("Then the service should still work without metrics", func() {
				So(err, ShouldBeNil)
				So(svc.Process(context.Background(), []int{-60}), ShouldEqual, 0)
				So(svc.Stats()["metricsEnabled"], ShouldBeFalse)
			})
		})

		Convey("When the configuration is invalid", func() {
			cfg.LogLevel = "shout"
			svc, err := service.NewFromConfig(cfg, nil)

			Convey("Then it should be rejected", func() {
				So(svc, ShouldBeNil)
				So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
			})
		})
	})
}
