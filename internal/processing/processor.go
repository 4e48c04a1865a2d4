// Package processing hosts the metrics engine: the indicator hour-bucket
// state machine, the KPI recomputation layer and the facade serializing all
// mutation behind a single lock.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
	"github.com/offspot-lab/offspot-metrics/internal/indicators"
	"github.com/offspot-lab/offspot-metrics/internal/kpis"
)

// inactivityDelay is how long the log stream may be silent before the
// watchdog starts advancing the clock itself.
const inactivityDelay = 10 * time.Second

// Processor is the mutation facade. The log-stream worker, the inactivity
// watchdog and startup restore all funnel through its mutex; each top-level
// operation runs in one transaction and rolls back as a whole.
type Processor struct {
	mu    sync.Mutex
	store storage.Store

	indicator *IndicatorProcessor
	kpi       *KPIProcessor

	// lastTick is minute-truncated; zero until the first log defines the
	// baseline.
	lastTick   time.Time
	lastAction time.Time

	nowFn func() time.Time
}

// New builds the processor and its sub-processors.
func New(store storage.Store, indicatorRegistry []indicators.Indicator, kpiRegistry []kpis.KPI) *Processor {
	nowFn := func() time.Time { return time.Now().UTC() }
	return &Processor{
		store:     store,
		indicator: NewIndicatorProcessor(indicatorRegistry),
		kpi:       NewKPIProcessor(kpiRegistry, period.At(nowFn())),
		nowFn:     nowFn,
	}
}

// Startup restores both sub-processors from the store. Must complete before
// any input is processed.
func (pr *Processor) Startup(ctx context.Context) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	now := pr.nowFn()
	return pr.store.InTransaction(ctx, func(p storage.Persister) error {
		last, ok, err := p.GetLastPeriod(ctx)
		if err != nil {
			return fmt.Errorf("startup: %w", err)
		}

		if err := pr.indicator.RestoreFromDB(ctx, p, period.At(now)); err != nil {
			return fmt.Errorf("startup: restore indicators: %w", err)
		}

		var previous *period.Period
		if ok {
			previous = &last
		}
		if err := pr.kpi.RestoreFromDB(ctx, p, previous); err != nil {
			return fmt.Errorf("startup: restore kpis: %w", err)
		}

		slog.Info("[Processor] Restored from store", "has_previous_period", ok)
		return nil
	})
}

// ProcessInputs applies one log line's inputs. A minute change in the log
// timestamp triggers a tick first, so inputs always land in the period
// their timestamp belongs to. Per-input failures are logged and swallowed;
// the batch continues.
func (pr *Processor) ProcessInputs(ctx context.Context, ts time.Time, ins []inputs.Input) error {
	if ts.IsZero() {
		return nil
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.lastAction = pr.nowFn()
	tick := ts.Truncate(time.Minute)

	return pr.store.InTransaction(ctx, func(p storage.Persister) error {
		if pr.lastTick.IsZero() {
			// First log defines the baseline.
			pr.lastTick = tick
		}
		if !tick.Equal(pr.lastTick) {
			if err := pr.processTick(ctx, p, ts); err != nil {
				return err
			}
		}

		for _, in := range ins {
			if err := pr.indicator.ProcessInput(in); err != nil {
				slog.Warn("[Processor] Dropped input", "error", err, "input", fmt.Sprintf("%T", in))
			}
		}
		return nil
	})
}

// CheckForInactivity is invoked on a fixed schedule. Once the log stream
// has been silent for inactivityDelay, it advances the clock one minute at
// a time until it catches up with now, so periods close even when the
// proxy is idle.
func (pr *Processor) CheckForInactivity(ctx context.Context) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	now := pr.nowFn()
	if pr.lastTick.IsZero() || now.Sub(pr.lastAction) < inactivityDelay {
		return nil
	}

	return pr.store.InTransaction(ctx, func(p storage.Persister) error {
		for t := pr.lastTick.Add(time.Minute); !t.After(now); t = t.Add(time.Minute) {
			if err := pr.processTick(ctx, p, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush runs one final tick at the current time. Not required for
// correctness (pending state survives via the persisted snapshots) but it
// closes the books promptly on graceful shutdown.
func (pr *Processor) Flush(ctx context.Context) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.lastTick.IsZero() {
		return nil
	}
	return pr.store.InTransaction(ctx, func(p storage.Persister) error {
		return pr.processTick(ctx, p, pr.nowFn())
	})
}

// processTick advances the processing clock to now: generates the uptime
// clock tick, runs the indicator state machine, recomputes KPIs and, when
// they were updated, sweeps retention.
func (pr *Processor) processTick(ctx context.Context, p storage.Persister, now time.Time) error {
	pr.lastTick = now.Truncate(time.Minute)

	if err := pr.indicator.ProcessInput(inputs.ClockTick{Ts: now}); err != nil {
		slog.Warn("[Processor] Dropped clock tick", "error", err)
	}

	tick := period.At(now)
	if err := pr.indicator.ProcessTick(ctx, p, tick); err != nil {
		return fmt.Errorf("indicator tick: %w", err)
	}

	updated, err := pr.kpi.ProcessTick(ctx, p, tick)
	if err != nil {
		return fmt.Errorf("kpi tick: %w", err)
	}
	if updated {
		if err := pr.indicator.PostProcessTick(ctx, p, tick); err != nil {
			return fmt.Errorf("retention sweep: %w", err)
		}
	}
	return nil
}
