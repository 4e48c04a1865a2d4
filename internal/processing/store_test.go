package processing

import (
	"context"
	"fmt"
	"sort"

	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
)

type bucketKey struct {
	indicatorID int
	periodTs    int64
	dims        storage.DimensionsValues
}

type kpiKey struct {
	kpiID    int
	kind     period.AggKind
	aggValue string
}

// fakeStore is an in-memory Store/Persister with upsert semantics matching
// the SQL layer. Transactions are not simulated: every write applies
// immediately.
type fakeStore struct {
	periods    map[int64]bool
	dimensions map[storage.DimensionsValues]bool
	records    map[bucketKey]int64
	states     map[bucketKey]string
	kpiRows    map[kpiKey]string

	cleanupCalls []period.Period
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		periods:    make(map[int64]bool),
		dimensions: make(map[storage.DimensionsValues]bool),
		records:    make(map[bucketKey]int64),
		states:     make(map[bucketKey]string),
		kpiRows:    make(map[kpiKey]string),
	}
}

func (f *fakeStore) InTransaction(_ context.Context, fn func(p storage.Persister) error) error {
	return fn(f)
}

func (f *fakeStore) PersistPeriod(_ context.Context, p period.Period) error {
	f.periods[p.Timestamp()] = true
	return nil
}

func (f *fakeStore) PersistIndicatorDimensions(_ context.Context, dims []storage.DimensionsValues) error {
	for _, d := range dims {
		f.dimensions[d] = true
	}
	return nil
}

func (f *fakeStore) PersistIndicatorRecords(_ context.Context, rows []storage.RecordRow) error {
	for _, row := range rows {
		if !f.periods[row.Period.Timestamp()] {
			return fmt.Errorf("record references unknown period %d", row.Period.Timestamp())
		}
		f.records[bucketKey{row.IndicatorID, row.Period.Timestamp(), row.Dimension}] = row.Value
	}
	return nil
}

func (f *fakeStore) PersistIndicatorStates(_ context.Context, rows []storage.StateRow) error {
	for _, row := range rows {
		if !f.periods[row.Period.Timestamp()] {
			return fmt.Errorf("state references unknown period %d", row.Period.Timestamp())
		}
		f.states[bucketKey{row.IndicatorID, row.Period.Timestamp(), row.Dimension}] = row.State
	}
	return nil
}

func (f *fakeStore) ClearIndicatorStates(context.Context) error {
	f.states = make(map[bucketKey]string)
	return nil
}

func (f *fakeStore) GetLastPeriod(context.Context) (period.Period, bool, error) {
	var last int64
	found := false
	for ts := range f.periods {
		if !found || ts > last {
			last = ts
			found = true
		}
	}
	if !found {
		return period.Period{}, false, nil
	}
	return period.FromTimestamp(last), true, nil
}

func (f *fakeStore) GetRestoreData(_ context.Context, p period.Period, indicatorID int) ([]storage.RestoredState, error) {
	var restored []storage.RestoredState
	for key, state := range f.states {
		if key.indicatorID == indicatorID && key.periodTs == p.Timestamp() {
			restored = append(restored, storage.RestoredState{Dimension: key.dims, State: state})
		}
	}
	return restored, nil
}

func (f *fakeStore) GetIndicatorValues(_ context.Context, indicatorID int, start, stop int64) ([]storage.IndicatorValue, error) {
	var values []storage.IndicatorValue
	for key, value := range f.records {
		if key.indicatorID == indicatorID && key.periodTs >= start && key.periodTs < stop {
			values = append(values, storage.IndicatorValue{Dimension: key.dims, Value: value})
		}
	}
	return values, nil
}

func (f *fakeStore) GetKPIValues(_ context.Context, kpiID int, kind period.AggKind) ([]storage.KPIValueRow, error) {
	var rows []storage.KPIValueRow
	for key, value := range f.kpiRows {
		if key.kpiID == kpiID && key.kind == kind {
			rows = append(rows, storage.KPIValueRow{AggValue: key.aggValue, Value: value})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AggValue < rows[j].AggValue })
	return rows, nil
}

func (f *fakeStore) AddKPIValue(_ context.Context, kpiID int, kind period.AggKind, aggValue, value string) error {
	key := kpiKey{kpiID, kind, aggValue}
	if _, exists := f.kpiRows[key]; exists {
		return fmt.Errorf("kpi row %v already exists", key)
	}
	f.kpiRows[key] = value
	return nil
}

func (f *fakeStore) UpdateKPIValue(_ context.Context, kpiID int, kind period.AggKind, aggValue, value string) error {
	key := kpiKey{kpiID, kind, aggValue}
	if _, exists := f.kpiRows[key]; !exists {
		return fmt.Errorf("kpi row %v does not exist", key)
	}
	f.kpiRows[key] = value
	return nil
}

func (f *fakeStore) DeleteKPIValue(_ context.Context, kpiID int, kind period.AggKind, aggValue string) error {
	delete(f.kpiRows, kpiKey{kpiID, kind, aggValue})
	return nil
}

func (f *fakeStore) CleanupObsoleteData(_ context.Context, current period.Period) error {
	f.cleanupCalls = append(f.cleanupCalls, current)
	return nil
}

// recordValue looks up one finalized record, reporting whether it exists.
func (f *fakeStore) recordValue(indicatorID int, p period.Period, dims storage.DimensionsValues) (int64, bool) {
	v, ok := f.records[bucketKey{indicatorID, p.Timestamp(), dims}]
	return v, ok
}

// stateValue looks up one pending state, reporting whether it exists.
func (f *fakeStore) stateValue(indicatorID int, p period.Period, dims storage.DimensionsValues) (string, bool) {
	s, ok := f.states[bucketKey{indicatorID, p.Timestamp(), dims}]
	return s, ok
}

// kpiAggValues lists the stored aggregation values of one (kpi, kind).
func (f *fakeStore) kpiAggValues(kpiID int, kind period.AggKind) []string {
	var values []string
	for key := range f.kpiRows {
		if key.kpiID == kpiID && key.kind == kind {
			values = append(values, key.aggValue)
		}
	}
	sort.Strings(values)
	return values
}
