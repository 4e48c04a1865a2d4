package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
)

// secondsPerYear is the indicator record retention horizon.
const secondsPerYear = 365 * 24 * 3600

const (
	queryPersistPeriod = `
		INSERT INTO indicator_period (timestamp)
		VALUES ($1)
		ON CONFLICT (timestamp) DO NOTHING
	`

	queryPersistDimension = `
		INSERT INTO indicator_dimension (value0, value1, value2)
		VALUES ($1, $2, $3)
		ON CONFLICT (value0, value1, value2) DO NOTHING
	`

	queryPersistRecord = `
		INSERT INTO indicator_record (indicator_id, period_id, dimension_id, value)
		SELECT $1, $2, d.id, $3
		FROM indicator_dimension d
		WHERE d.value0 IS NOT DISTINCT FROM $4
		  AND d.value1 IS NOT DISTINCT FROM $5
		  AND d.value2 IS NOT DISTINCT FROM $6
		ON CONFLICT (indicator_id, period_id, dimension_id)
		DO UPDATE SET value = EXCLUDED.value
	`

	queryPersistState = `
		INSERT INTO indicator_state (indicator_id, period_id, dimension_id, state)
		SELECT $1, $2, d.id, $3
		FROM indicator_dimension d
		WHERE d.value0 IS NOT DISTINCT FROM $4
		  AND d.value1 IS NOT DISTINCT FROM $5
		  AND d.value2 IS NOT DISTINCT FROM $6
		ON CONFLICT (indicator_id, period_id, dimension_id)
		DO UPDATE SET state = EXCLUDED.state
	`

	queryClearStates = `DELETE FROM indicator_state`

	queryLastPeriod = `
		SELECT timestamp
		FROM indicator_period
		ORDER BY timestamp DESC
		LIMIT 1
	`

	queryRestoreData = `
		SELECT d.value0, d.value1, d.value2, s.state
		FROM indicator_state s
		JOIN indicator_dimension d ON d.id = s.dimension_id
		WHERE s.period_id = $1 AND s.indicator_id = $2
		ORDER BY s.id ASC
	`

	queryIndicatorValues = `
		SELECT d.value0, d.value1, d.value2, r.value
		FROM indicator_record r
		JOIN indicator_dimension d ON d.id = r.dimension_id
		WHERE r.indicator_id = $1
		  AND r.period_id >= $2
		  AND r.period_id < $3
	`

	queryKPIValues = `
		SELECT agg_value, kpi_value
		FROM kpi_record
		WHERE kpi_id = $1 AND agg_kind = $2
		ORDER BY agg_value ASC
	`

	queryAddKPIValue = `
		INSERT INTO kpi_record (kpi_id, agg_kind, agg_value, kpi_value)
		VALUES ($1, $2, $3, $4)
	`

	queryUpdateKPIValue = `
		UPDATE kpi_record
		SET kpi_value = $4
		WHERE kpi_id = $1 AND agg_kind = $2 AND agg_value = $3
	`

	queryDeleteKPIValue = `
		DELETE FROM kpi_record
		WHERE kpi_id = $1 AND agg_kind = $2 AND agg_value = $3
	`

	queryDeleteObsoletePeriods = `
		DELETE FROM indicator_period
		WHERE timestamp < $1
	`

	queryDeleteOrphanDimensions = `
		DELETE FROM indicator_dimension d
		WHERE NOT EXISTS (SELECT 1 FROM indicator_record r WHERE r.dimension_id = d.id)
		  AND NOT EXISTS (SELECT 1 FROM indicator_state s WHERE s.dimension_id = d.id)
	`
)

// txPersister implements storage.Persister over one transaction.
type txPersister struct {
	tx *sql.Tx
}

func (p *txPersister) PersistPeriod(ctx context.Context, pd period.Period) error {
	if _, err := p.tx.ExecContext(ctx, queryPersistPeriod, pd.Timestamp()); err != nil {
		return fmt.Errorf("persist period %d: %w", pd.Timestamp(), err)
	}
	return nil
}

func (p *txPersister) PersistIndicatorDimensions(ctx context.Context, dims []storage.DimensionsValues) error {
	for _, d := range dims {
		v0, v1, v2 := dimensionArgs(d)
		if _, err := p.tx.ExecContext(ctx, queryPersistDimension, v0, v1, v2); err != nil {
			return fmt.Errorf("persist dimension %v: %w", d, err)
		}
	}
	return nil
}

func (p *txPersister) PersistIndicatorRecords(ctx context.Context, rows []storage.RecordRow) error {
	for _, row := range rows {
		v0, v1, v2 := dimensionArgs(row.Dimension)
		if _, err := p.tx.ExecContext(ctx, queryPersistRecord,
			row.IndicatorID, row.Period.Timestamp(), row.Value, v0, v1, v2); err != nil {
			return fmt.Errorf("persist record (indicator %d): %w", row.IndicatorID, err)
		}
	}
	return nil
}

func (p *txPersister) PersistIndicatorStates(ctx context.Context, rows []storage.StateRow) error {
	for _, row := range rows {
		v0, v1, v2 := dimensionArgs(row.Dimension)
		if _, err := p.tx.ExecContext(ctx, queryPersistState,
			row.IndicatorID, row.Period.Timestamp(), row.State, v0, v1, v2); err != nil {
			return fmt.Errorf("persist state (indicator %d): %w", row.IndicatorID, err)
		}
	}
	return nil
}

func (p *txPersister) ClearIndicatorStates(ctx context.Context) error {
	if _, err := p.tx.ExecContext(ctx, queryClearStates); err != nil {
		return fmt.Errorf("clear indicator states: %w", err)
	}
	return nil
}

func (p *txPersister) GetLastPeriod(ctx context.Context) (period.Period, bool, error) {
	var ts int64
	err := p.tx.QueryRowContext(ctx, queryLastPeriod).Scan(&ts)
	if err == sql.ErrNoRows {
		return period.Period{}, false, nil
	}
	if err != nil {
		return period.Period{}, false, fmt.Errorf("get last period: %w", err)
	}
	return period.FromTimestamp(ts), true, nil
}

func (p *txPersister) GetRestoreData(ctx context.Context, pd period.Period, indicatorID int) ([]storage.RestoredState, error) {
	rows, err := p.tx.QueryContext(ctx, queryRestoreData, pd.Timestamp(), indicatorID)
	if err != nil {
		return nil, fmt.Errorf("get restore data (indicator %d): %w", indicatorID, err)
	}
	defer rows.Close()

	var states []storage.RestoredState
	for rows.Next() {
		var (
			v0, v1, v2 sql.NullString
			state      string
		)
		if err := rows.Scan(&v0, &v1, &v2, &state); err != nil {
			return nil, fmt.Errorf("scan restore row: %w", err)
		}
		states = append(states, storage.RestoredState{
			Dimension: scanDimensions(v0, v1, v2),
			State:     state,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restore rows: %w", err)
	}
	return states, nil
}

func (p *txPersister) GetIndicatorValues(ctx context.Context, indicatorID int, start, stop int64) ([]storage.IndicatorValue, error) {
	rows, err := p.tx.QueryContext(ctx, queryIndicatorValues, indicatorID, start, stop)
	if err != nil {
		return nil, fmt.Errorf("get indicator %d values: %w", indicatorID, err)
	}
	defer rows.Close()

	var values []storage.IndicatorValue
	for rows.Next() {
		var (
			v0, v1, v2 sql.NullString
			value      int64
		)
		if err := rows.Scan(&v0, &v1, &v2, &value); err != nil {
			return nil, fmt.Errorf("scan indicator value row: %w", err)
		}
		values = append(values, storage.IndicatorValue{
			Dimension: scanDimensions(v0, v1, v2),
			Value:     value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicator value rows: %w", err)
	}
	return values, nil
}

func (p *txPersister) GetKPIValues(ctx context.Context, kpiID int, kind period.AggKind) ([]storage.KPIValueRow, error) {
	rows, err := p.tx.QueryContext(ctx, queryKPIValues, kpiID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get kpi %d values: %w", kpiID, err)
	}
	defer rows.Close()

	var values []storage.KPIValueRow
	for rows.Next() {
		var row storage.KPIValueRow
		if err := rows.Scan(&row.AggValue, &row.Value); err != nil {
			return nil, fmt.Errorf("scan kpi value row: %w", err)
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kpi value rows: %w", err)
	}
	return values, nil
}

func (p *txPersister) AddKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue, value string) error {
	if _, err := p.tx.ExecContext(ctx, queryAddKPIValue, kpiID, string(kind), aggValue, value); err != nil {
		return fmt.Errorf("add kpi %d value %q: %w", kpiID, aggValue, err)
	}
	return nil
}

func (p *txPersister) UpdateKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue, value string) error {
	if _, err := p.tx.ExecContext(ctx, queryUpdateKPIValue, kpiID, string(kind), aggValue, value); err != nil {
		return fmt.Errorf("update kpi %d value %q: %w", kpiID, aggValue, err)
	}
	return nil
}

func (p *txPersister) DeleteKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue string) error {
	if _, err := p.tx.ExecContext(ctx, queryDeleteKPIValue, kpiID, string(kind), aggValue); err != nil {
		return fmt.Errorf("delete kpi %d value %q: %w", kpiID, aggValue, err)
	}
	return nil
}

func (p *txPersister) CleanupObsoleteData(ctx context.Context, current period.Period) error {
	cutoff := current.Timestamp() - secondsPerYear
	if _, err := p.tx.ExecContext(ctx, queryDeleteObsoletePeriods, cutoff); err != nil {
		return fmt.Errorf("delete obsolete periods: %w", err)
	}
	if _, err := p.tx.ExecContext(ctx, queryDeleteOrphanDimensions); err != nil {
		return fmt.Errorf("delete orphan dimensions: %w", err)
	}
	return nil
}

// dimensionArgs maps a tuple to nullable SQL arguments; unset slots are
// stored as NULL.
func dimensionArgs(d storage.DimensionsValues) (v0, v1, v2 any) {
	args := make([]any, storage.MaxDimensions)
	for i := 0; i < storage.MaxDimensions; i++ {
		if value, ok := d.Value(i); ok {
			args[i] = value
		}
	}
	return args[0], args[1], args[2]
}

func scanDimensions(values ...sql.NullString) storage.DimensionsValues {
	var set []string
	for _, v := range values {
		if !v.Valid {
			break
		}
		set = append(set, v.String)
	}
	return storage.NewDimensions(set...)
}
