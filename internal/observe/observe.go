// Package observe wires Sydney's logging and telemetry. Every long-running
// subsystem (merge worker, checkpoint thread, driver loader) takes a
// *zap.SugaredLogger from here; hot paths record OpenTelemetry metrics
// through the pre-built instruments so call sites never construct their
// own meters.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const scope = "github.com/DoqueDB/sydney"

var (
	initOnce sync.Once

	logger *zap.SugaredLogger

	// PageFixes counts page-store fix calls, labeled by mode at call sites
	// that care; the raw count is the buffer-pool pressure signal.
	PageFixes metric.Int64Counter
	// CacheHits / CacheMisses track the main-file LRU page cache.
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
	// MergeDuration is the wall time of one full merge (list + vector).
	MergeDuration metric.Float64Histogram
	// MergeListsFolded counts posting lists folded per merge run.
	MergeListsFolded metric.Int64Counter
	// CheckpointDuration is the wall time of one FileDestroyer execution.
	CheckpointDuration metric.Float64Histogram
)

// Init sets up the process-wide logger and telemetry instruments. verbose
// selects debug-level logging and stdout exporters; production deployments
// install their own otel SDK before calling Init and we keep whatever
// global providers are registered.
func Init(verbose bool) error {
	var err error
	initOnce.Do(func() {
		var zl *zap.Logger
		if verbose {
			zl, err = zap.NewDevelopment()
		} else {
			zl, err = zap.NewProduction()
		}
		if err != nil {
			err = fmt.Errorf("observe: build logger: %w", err)
			return
		}
		logger = zl.Sugar()

		if verbose {
			if e := installStdoutProviders(); e != nil {
				err = e
				return
			}
		}
		err = buildInstruments()
	})
	return err
}

func installStdoutProviders() error {
	me, err := stdoutmetric.New()
	if err != nil {
		return fmt.Errorf("observe: stdout metric exporter: %w", err)
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(me)),
	))
	te, err := stdouttrace.New()
	if err != nil {
		return fmt.Errorf("observe: stdout trace exporter: %w", err)
	}
	otel.SetTracerProvider(sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(te),
	))
	return nil
}

func buildInstruments() error {
	m := otel.Meter(scope)
	var err error
	if PageFixes, err = m.Int64Counter("sydney.pagestore.fixes"); err != nil {
		return err
	}
	if CacheHits, err = m.Int64Counter("sydney.mainfile.cache_hits"); err != nil {
		return err
	}
	if CacheMisses, err = m.Int64Counter("sydney.mainfile.cache_misses"); err != nil {
		return err
	}
	if MergeDuration, err = m.Float64Histogram("sydney.merge.duration_seconds"); err != nil {
		return err
	}
	if MergeListsFolded, err = m.Int64Counter("sydney.merge.lists_folded"); err != nil {
		return err
	}
	if CheckpointDuration, err = m.Float64Histogram("sydney.checkpoint.duration_seconds"); err != nil {
		return err
	}
	return nil
}

// Log returns the process logger, initializing a production logger if Init
// was never called (library embedders that only want metrics off).
func Log() *zap.SugaredLogger {
	if logger == nil {
		if err := Init(false); err != nil {
			return zap.NewNop().Sugar()
		}
	}
	return logger
}

// Tracer returns the engine's tracer.
func Tracer() trace.Tracer { return otel.Tracer(scope) }

// AddPageFix is a nil-safe metric bump for the page-store hot path.
func AddPageFix(ctx context.Context) {
	if PageFixes != nil {
		PageFixes.Add(ctx, 1)
	}
}
