package processing

import (
	"context"
	"fmt"
	"sort"

	"github.com/offspot-lab/offspot-metrics/internal/core/inputs"
	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
	"github.com/offspot-lab/offspot-metrics/internal/indicators"
	"github.com/offspot-lab/offspot-metrics/internal/recorders"
)

// IndicatorProcessor is the hour-bucket state machine. It accumulates
// inputs into per-(indicator, dimension) recorders, flushes recorder states
// on intra-hour ticks and finalizes records when the hour closes.
type IndicatorProcessor struct {
	registry []indicators.Indicator

	// live recorders, keyed by indicator id then dimension tuple; reset at
	// every period boundary
	recorders map[int]map[storage.DimensionsValues]recorders.Recorder

	current    period.Period
	hasCurrent bool
}

// NewIndicatorProcessor builds the processor over an indicator registry.
func NewIndicatorProcessor(registry []indicators.Indicator) *IndicatorProcessor {
	return &IndicatorProcessor{
		registry:  registry,
		recorders: make(map[int]map[storage.DimensionsValues]recorders.Recorder),
	}
}

// ProcessInput delegates one input to every indicator accepting it.
func (ip *IndicatorProcessor) ProcessInput(in inputs.Input) error {
	for _, ind := range ip.registry {
		dims, ok := ind.Match(in)
		if !ok {
			continue
		}
		rec := ip.recorder(ind, dims)
		if err := rec.Process(in); err != nil {
			return fmt.Errorf("indicator %d: %w", ind.ID(), err)
		}
	}
	return nil
}

func (ip *IndicatorProcessor) recorder(ind indicators.Indicator, dims storage.DimensionsValues) recorders.Recorder {
	byDims := ip.recorders[ind.ID()]
	if byDims == nil {
		byDims = make(map[storage.DimensionsValues]recorders.Recorder)
		ip.recorders[ind.ID()] = byDims
	}
	rec := byDims[dims]
	if rec == nil {
		rec = ind.NewRecorder()
		byDims[dims] = rec
	}
	return rec
}

// ProcessTick advances the processing clock. On an intra-hour tick it
// snapshots recorder states for crash recovery; on a period boundary it
// finalizes records and resets the recorders. Calling it twice with the
// same tick is idempotent: states are always cleared and rewritten from
// memory.
func (ip *IndicatorProcessor) ProcessTick(ctx context.Context, p storage.Persister, tick period.Period) error {
	if !ip.hasRecords() {
		// Nothing accumulated: just bump the clock, no DB churn during
		// idle hours.
		ip.current = tick
		ip.hasCurrent = true
		return nil
	}
	if !ip.hasCurrent {
		ip.current = tick
		ip.hasCurrent = true
	}

	if err := p.PersistPeriod(ctx, ip.current); err != nil {
		return fmt.Errorf("persist period: %w", err)
	}
	if err := p.PersistIndicatorDimensions(ctx, ip.liveDimensions()); err != nil {
		return fmt.Errorf("persist dimensions: %w", err)
	}

	// At most one period is in progress; whether we extend or close it,
	// the previous snapshot is stale.
	if err := p.ClearIndicatorStates(ctx); err != nil {
		return fmt.Errorf("clear states: %w", err)
	}

	if tick == ip.current {
		states := make([]storage.StateRow, 0)
		ip.eachRecorder(func(id int, dims storage.DimensionsValues, rec recorders.Recorder) {
			states = append(states, storage.StateRow{
				IndicatorID: id,
				Period:      ip.current,
				Dimension:   dims,
				State:       rec.State(),
			})
		})
		if err := p.PersistIndicatorStates(ctx, states); err != nil {
			return fmt.Errorf("persist states: %w", err)
		}
		return nil
	}

	records := make([]storage.RecordRow, 0)
	ip.eachRecorder(func(id int, dims storage.DimensionsValues, rec recorders.Recorder) {
		records = append(records, storage.RecordRow{
			IndicatorID: id,
			Period:      ip.current,
			Dimension:   dims,
			Value:       rec.Value(),
		})
	})
	if err := p.PersistIndicatorRecords(ctx, records); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}

	ip.recorders = make(map[int]map[storage.DimensionsValues]recorders.Recorder)
	ip.current = tick
	return nil
}

// PostProcessTick runs the retention sweep. Only called after a KPI
// recomputation reported an update, so pruned records have already been
// folded into their aggregations.
func (ip *IndicatorProcessor) PostProcessTick(ctx context.Context, p storage.Persister, tick period.Period) error {
	return p.CleanupObsoleteData(ctx, tick)
}

// RestoreFromDB rebuilds the in-memory recorders from the pending states of
// the most recent period, then advances to now. A same-hour restart
// re-persists states; a later-hour restart finalizes the interrupted
// period's records and starts clean.
func (ip *IndicatorProcessor) RestoreFromDB(ctx context.Context, p storage.Persister, now period.Period) error {
	ip.recorders = make(map[int]map[storage.DimensionsValues]recorders.Recorder)

	last, ok, err := p.GetLastPeriod(ctx)
	if err != nil {
		return fmt.Errorf("load last period: %w", err)
	}
	if !ok {
		ip.current = now
		ip.hasCurrent = true
		return nil
	}

	ip.current = last
	ip.hasCurrent = true
	for _, ind := range ip.registry {
		states, err := p.GetRestoreData(ctx, last, ind.ID())
		if err != nil {
			return fmt.Errorf("load states for indicator %d: %w", ind.ID(), err)
		}
		for _, s := range states {
			rec := ind.NewRecorder()
			if err := rec.RestoreState(s.State); err != nil {
				return fmt.Errorf("restore indicator %d state: %w", ind.ID(), err)
			}
			ip.recorder(ind, s.Dimension)
			ip.recorders[ind.ID()][s.Dimension] = rec
		}
	}

	return ip.ProcessTick(ctx, p, now)
}

func (ip *IndicatorProcessor) hasRecords() bool {
	for _, byDims := range ip.recorders {
		if len(byDims) > 0 {
			return true
		}
	}
	return false
}

// liveDimensions returns the distinct dimension tuples currently held in
// memory, in stable order.
func (ip *IndicatorProcessor) liveDimensions() []storage.DimensionsValues {
	seen := make(map[storage.DimensionsValues]struct{})
	var dims []storage.DimensionsValues
	ip.eachRecorder(func(_ int, d storage.DimensionsValues, _ recorders.Recorder) {
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		dims = append(dims, d)
	})
	return dims
}

// eachRecorder visits recorders ordered by indicator id then dimension
// tuple, keeping DB writes deterministic.
func (ip *IndicatorProcessor) eachRecorder(fn func(id int, dims storage.DimensionsValues, rec recorders.Recorder)) {
	ids := make([]int, 0, len(ip.recorders))
	for id := range ip.recorders {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		byDims := ip.recorders[id]
		dims := make([]storage.DimensionsValues, 0, len(byDims))
		for d := range byDims {
			dims = append(dims, d)
		}
		sort.Slice(dims, func(i, j int) bool {
			if dims[i].Arity != dims[j].Arity {
				return dims[i].Arity < dims[j].Arity
			}
			for k := 0; k < storage.MaxDimensions; k++ {
				if dims[i].Values[k] != dims[j].Values[k] {
					return dims[i].Values[k] < dims[j].Values[k]
				}
			}
			return false
		})
		for _, d := range dims {
			fn(id, d, byDims[d])
		}
	}
}
