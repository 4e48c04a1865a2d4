package storage

import (
	"context"
	"errors"

	"github.com/offspot-lab/offspot-metrics/internal/core/period"
)

// ErrNotFound is returned by reads targeting a row that does not exist.
var ErrNotFound = errors.New("not found")

// MaxDimensions is the number of dimension slots carried by a record.
const MaxDimensions = 3

// DimensionsValues is an ordered tuple of up to three strings partitioning
// an indicator's observations. Equality is structural; the zero value is
// the empty (dimensionless) tuple.
type DimensionsValues struct {
	Values [MaxDimensions]string
	Arity  int
}

// NewDimensions builds a tuple from up to three values.
func NewDimensions(values ...string) DimensionsValues {
	var d DimensionsValues
	d.Arity = len(values)
	copy(d.Values[:], values)
	return d
}

// Value returns the i-th dimension value and whether it is set.
func (d DimensionsValues) Value(i int) (string, bool) {
	if i < 0 || i >= d.Arity {
		return "", false
	}
	return d.Values[i], true
}

// RecordRow is a finalized hourly bucket for one (indicator, dimension).
type RecordRow struct {
	IndicatorID int
	Period      period.Period
	Dimension   DimensionsValues
	Value       int64
}

// StateRow is a pending hourly bucket: the live recorder state materialized
// for crash recovery.
type StateRow struct {
	IndicatorID int
	Period      period.Period
	Dimension   DimensionsValues
	State       string
}

// RestoredState is one indicator state loaded back during startup.
type RestoredState struct {
	Dimension DimensionsValues
	State     string
}

// IndicatorValue is a finalized record value scoped to a query interval,
// with its dimensions resolved.
type IndicatorValue struct {
	Dimension DimensionsValues
	Value     int64
}

// KPIValueRow is a persisted KPI row for one aggregation value.
type KPIValueRow struct {
	AggValue string
	Value    string
}

// Aggregation identifies one persisted (kind, value) aggregation.
type Aggregation struct {
	Kind  period.AggKind `json:"kind"`
	Value string         `json:"value"`
}

// KPIAggValue is a persisted KPI row including its KPI identifier, used by
// the per-kind aggregation listing.
type KPIAggValue struct {
	KPIID    int
	AggValue string
	Value    string
}

// Persister is the single write surface of the engine. All methods operate
// inside the transaction opened by Store.InTransaction; partial failures
// roll back the whole facade operation.
type Persister interface {
	PersistPeriod(ctx context.Context, p period.Period) error

	// PersistIndicatorDimensions ensures a dimension row exists for every
	// tuple; lookup is by (value0, value1, value2).
	PersistIndicatorDimensions(ctx context.Context, dims []DimensionsValues) error

	PersistIndicatorRecords(ctx context.Context, rows []RecordRow) error
	PersistIndicatorStates(ctx context.Context, rows []StateRow) error

	// ClearIndicatorStates drops all pending states. At most one period is
	// in progress at a time, so the previous snapshot is always stale.
	ClearIndicatorStates(ctx context.Context) error

	// GetLastPeriod returns the most recent indicator period, or ok=false
	// when the store is empty.
	GetLastPeriod(ctx context.Context) (p period.Period, ok bool, err error)

	// GetRestoreData loads the pending states of one indicator scoped to
	// the given period.
	GetRestoreData(ctx context.Context, p period.Period, indicatorID int) ([]RestoredState, error)

	// GetIndicatorValues returns finalized record values for an indicator
	// whose period timestamp falls in the half-open [start, stop).
	GetIndicatorValues(ctx context.Context, indicatorID int, start, stop int64) ([]IndicatorValue, error)

	GetKPIValues(ctx context.Context, kpiID int, kind period.AggKind) ([]KPIValueRow, error)
	AddKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue, value string) error
	UpdateKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue, value string) error
	DeleteKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue string) error

	// CleanupObsoleteData purges indicator periods older than one year
	// before current (cascading to records and states) and then removes
	// dimensions no longer referenced by any record.
	CleanupObsoleteData(ctx context.Context, current period.Period) error
}

// Store opens one transaction per top-level processor operation.
type Store interface {
	InTransaction(ctx context.Context, fn func(p Persister) error) error
}

// Reader is the read-only surface consumed by the query API. Readers use
// short-lived sessions and only ever observe committed state.
type Reader interface {
	ListAggregations(ctx context.Context) ([]Aggregation, error)
	GetAggregationValues(ctx context.Context, kind period.AggKind) ([]string, error)
	GetKPIValuesByKind(ctx context.Context, kind period.AggKind) ([]KPIAggValue, error)

	// GetKPIValue returns the serialized value for one (kpi, kind, value)
	// row; ErrNotFound when absent.
	GetKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue string) (string, error)
}
