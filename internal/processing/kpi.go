package processing

import (
	"context"
	"fmt"
	"slices"

	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
	"github.com/offspot-lab/offspot-metrics/internal/kpis"
)

// rollingKinds are recomputed on every closed period; the yearly
// aggregation only when the day changes.
var rollingKinds = []period.AggKind{period.AggDay, period.AggWeek, period.AggMonth}

// KPIProcessor recomputes KPI rows from stored indicator records whenever a
// period closes, and prunes rows that fall out of their retention window.
type KPIProcessor struct {
	registry []kpis.KPI

	current    period.Period
	currentDay string
}

// NewKPIProcessor builds the processor; now anchors the first period.
func NewKPIProcessor(registry []kpis.KPI, now period.Period) *KPIProcessor {
	return &KPIProcessor{
		registry:   registry,
		current:    now,
		currentDay: now.DayString(),
	}
}

// ProcessTick recomputes aggregations when the tick closes a period.
// Returns whether KPIs were updated: the caller runs the indicator
// retention sweep only on true.
func (kp *KPIProcessor) ProcessTick(ctx context.Context, p storage.Persister, tick period.Period) (bool, error) {
	if tick == kp.current {
		return false, nil
	}

	// Recompute against the period just closed, not the incoming tick.
	for _, kpi := range kp.registry {
		for _, kind := range rollingKinds {
			if err := kp.computeForKind(ctx, p, kpi, kind, kp.current); err != nil {
				return false, err
			}
		}
	}

	if tick.DayString() != kp.currentDay {
		for _, kpi := range kp.registry {
			if err := kp.computeForKind(ctx, p, kpi, period.AggYear, kp.current); err != nil {
				return false, err
			}
		}
		kp.currentDay = tick.DayString()
	}

	kp.current = tick
	return true, nil
}

// computeForKind upserts the KPI row of the aggregation containing now and
// deletes rows outside the retention window. Yearly aggregations have no
// retention window and are never deleted.
func (kp *KPIProcessor) computeForKind(ctx context.Context, p storage.Persister, kpi kpis.KPI, kind period.AggKind, now period.Period) error {
	rows, err := p.GetKPIValues(ctx, kpi.ID(), kind)
	if err != nil {
		return fmt.Errorf("kpi %d/%s: load values: %w", kpi.ID(), kind, err)
	}

	keep := kind.Retention(now)
	currentAgg := kind.AggValue(now)
	start, stop := kind.Interval(now)

	currentExists := false
	for _, row := range rows {
		if keep != nil && !slices.Contains(keep, row.AggValue) {
			if err := p.DeleteKPIValue(ctx, kpi.ID(), kind, row.AggValue); err != nil {
				return fmt.Errorf("kpi %d/%s: delete %q: %w", kpi.ID(), kind, row.AggValue, err)
			}
			continue
		}
		if row.AggValue != currentAgg {
			continue
		}
		currentExists = true
		serialized, err := kp.compute(ctx, p, kpi, kind, start, stop)
		if err != nil {
			return err
		}
		if err := p.UpdateKPIValue(ctx, kpi.ID(), kind, currentAgg, serialized); err != nil {
			return fmt.Errorf("kpi %d/%s: update %q: %w", kpi.ID(), kind, currentAgg, err)
		}
	}

	if !currentExists {
		serialized, err := kp.compute(ctx, p, kpi, kind, start, stop)
		if err != nil {
			return err
		}
		if err := p.AddKPIValue(ctx, kpi.ID(), kind, currentAgg, serialized); err != nil {
			return fmt.Errorf("kpi %d/%s: add %q: %w", kpi.ID(), kind, currentAgg, err)
		}
	}

	return nil
}

func (kp *KPIProcessor) compute(ctx context.Context, p storage.Persister, kpi kpis.KPI, kind period.AggKind, start, stop int64) (string, error) {
	value, err := kpi.Compute(ctx, p, kind, start, stop)
	if err != nil {
		return "", fmt.Errorf("kpi %d/%s: compute: %w", kpi.ID(), kind, err)
	}
	serialized, err := kpis.Serialize(value)
	if err != nil {
		return "", fmt.Errorf("kpi %d/%s: %w", kpi.ID(), kind, err)
	}
	return serialized, nil
}

// RestoreFromDB recomputes aggregations that were left half-finished by a
// shutdown: if the store's most recent period differs from the in-memory
// one, its rolling aggregations are recomputed; if the day differs too, the
// yearly one as well.
func (kp *KPIProcessor) RestoreFromDB(ctx context.Context, p storage.Persister, previous *period.Period) error {
	if previous == nil || *previous == kp.current {
		return nil
	}

	for _, kpi := range kp.registry {
		for _, kind := range rollingKinds {
			if err := kp.computeForKind(ctx, p, kpi, kind, *previous); err != nil {
				return err
			}
		}
	}

	if previous.DayString() != kp.currentDay {
		for _, kpi := range kp.registry {
			if err := kp.computeForKind(ctx, p, kpi, period.AggYear, *previous); err != nil {
				return err
			}
		}
	}

	return nil
}
