package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
)

const (
	queryListAggregations = `
		SELECT DISTINCT agg_kind, agg_value
		FROM kpi_record
		ORDER BY agg_kind ASC, agg_value ASC
	`

	queryAggregationValues = `
		SELECT DISTINCT agg_value
		FROM kpi_record
		WHERE agg_kind = $1
		ORDER BY agg_value ASC
	`

	queryKPIValuesByKind = `
		SELECT kpi_id, agg_value, kpi_value
		FROM kpi_record
		WHERE agg_kind = $1
		ORDER BY kpi_id ASC, agg_value ASC
	`

	queryKPIValue = `
		SELECT kpi_value
		FROM kpi_record
		WHERE kpi_id = $1 AND agg_kind = $2 AND agg_value = $3
	`
)

// ListAggregations returns the distinct persisted (kind, value) pairs.
func (a *Adapter) ListAggregations(ctx context.Context) ([]storage.Aggregation, error) {
	rows, err := a.db.QueryContext(ctx, queryListAggregations)
	if err != nil {
		return nil, fmt.Errorf("list aggregations: %w", err)
	}
	defer rows.Close()

	var aggregations []storage.Aggregation
	for rows.Next() {
		var (
			kind  string
			value string
		)
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, fmt.Errorf("scan aggregation row: %w", err)
		}
		aggregations = append(aggregations, storage.Aggregation{
			Kind:  period.AggKind(kind),
			Value: value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregation rows: %w", err)
	}
	return aggregations, nil
}

// GetAggregationValues returns the distinct values persisted for one kind.
func (a *Adapter) GetAggregationValues(ctx context.Context, kind period.AggKind) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, queryAggregationValues, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get aggregation values: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan aggregation value: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregation values: %w", err)
	}
	return values, nil
}

// GetKPIValuesByKind returns every KPI row of one kind, sorted by KPI then
// aggregation value.
func (a *Adapter) GetKPIValuesByKind(ctx context.Context, kind period.AggKind) ([]storage.KPIAggValue, error) {
	rows, err := a.db.QueryContext(ctx, queryKPIValuesByKind, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get kpi values by kind: %w", err)
	}
	defer rows.Close()

	var values []storage.KPIAggValue
	for rows.Next() {
		var row storage.KPIAggValue
		if err := rows.Scan(&row.KPIID, &row.AggValue, &row.Value); err != nil {
			return nil, fmt.Errorf("scan kpi row: %w", err)
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kpi rows: %w", err)
	}
	return values, nil
}

// GetKPIValue returns the serialized value of one row, or
// storage.ErrNotFound.
func (a *Adapter) GetKPIValue(ctx context.Context, kpiID int, kind period.AggKind, aggValue string) (string, error) {
	var value string
	err := a.db.QueryRowContext(ctx, queryKPIValue, kpiID, string(kind), aggValue).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get kpi %d value %q: %w", kpiID, aggValue, err)
	}
	return value, nil
}
