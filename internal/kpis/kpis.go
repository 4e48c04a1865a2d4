// Package kpis defines the derived aggregations recomputed from indicator
// records for standard time windows. The numeric identifiers and the
// serialized value shapes are stable wire contracts: the query API hands
// the stored payload to clients as-is.
package kpis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/offspot-lab/offspot-metrics/internal/core/period"
	"github.com/offspot-lab/offspot-metrics/internal/core/storage"
	"github.com/offspot-lab/offspot-metrics/internal/indicators"
)

const (
	IDPackagePopularity       = 2001
	IDContentObjectPopularity = 2002
	IDTotalUsage              = 2003
	IDUptime                  = 2004
	IDSharedFiles             = 2005

	popularityTopCount = 10
	contentTopCount    = 50
)

// ErrUnknownKPI marks a persisted value whose KPI identifier no registered
// variant claims: a schema/version mismatch an operator must look at.
var ErrUnknownKPI = errors.New("unknown kpi")

// Value is the computed payload of one KPI for one aggregation.
type Value interface {
	isValue()
}

// KPI computes its value from the indicator records of an interval. The
// computation is a pure function of the rows in [start, stop).
type KPI interface {
	ID() int
	Compute(ctx context.Context, p storage.Persister, kind period.AggKind, start, stop int64) (Value, error)
}

// DefaultRegistry returns all KPIs active in production.
func DefaultRegistry() []KPI {
	return []KPI{
		PackagePopularity{},
		ContentObjectPopularity{},
		TotalUsage{},
		Uptime{},
		SharedFiles{},
	}
}

// Serialize encodes a KPI value for persistence.
func Serialize(v Value) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize kpi value: %w", err)
	}
	return string(raw), nil
}

// Deserialize reconstructs the typed value for a KPI identifier.
func Deserialize(kpiID int, raw string) (Value, error) {
	var (
		v   Value
		err error
	)
	switch kpiID {
	case IDPackagePopularity:
		var value PackagePopularityValue
		err = json.Unmarshal([]byte(raw), &value)
		v = value
	case IDContentObjectPopularity:
		var value ContentObjectPopularityValue
		err = json.Unmarshal([]byte(raw), &value)
		v = value
	case IDTotalUsage:
		var value TotalUsageValue
		err = json.Unmarshal([]byte(raw), &value)
		v = value
	case IDUptime:
		var value UptimeValue
		err = json.Unmarshal([]byte(raw), &value)
		v = value
	case IDSharedFiles:
		var value SharedFilesValue
		err = json.Unmarshal([]byte(raw), &value)
		v = value
	default:
		return nil, fmt.Errorf("%w: id %d", ErrUnknownKPI, kpiID)
	}
	if err != nil {
		return nil, fmt.Errorf("deserialize kpi %d value: %w", kpiID, err)
	}
	return v, nil
}

// PackagePopularity ranks packages by home page visits.
type PackagePopularity struct{}

type PackagePopularityItem struct {
	Package string `json:"package"`
	Visits  int64  `json:"visits"`
}

type PackagePopularityValue struct {
	Items       []PackagePopularityItem `json:"items"`
	TotalVisits int64                   `json:"total_visits"`
}

func (PackagePopularityValue) isValue() {}

func (PackagePopularity) ID() int { return IDPackagePopularity }

func (PackagePopularity) Compute(ctx context.Context, p storage.Persister, _ period.AggKind, start, stop int64) (Value, error) {
	rows, err := p.GetIndicatorValues(ctx, indicators.IDPackageHomeVisit, start, stop)
	if err != nil {
		return nil, err
	}

	visitsByTitle := make(map[string]int64)
	var total int64
	for _, row := range rows {
		title, _ := row.Dimension.Value(0)
		visitsByTitle[title] += row.Value
		total += row.Value
	}

	items := make([]PackagePopularityItem, 0, len(visitsByTitle))
	for title, visits := range visitsByTitle {
		items = append(items, PackagePopularityItem{Package: title, Visits: visits})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Visits != items[j].Visits {
			return items[i].Visits > items[j].Visits
		}
		return items[i].Package < items[j].Package
	})
	if len(items) > popularityTopCount {
		items = items[:popularityTopCount]
	}

	return PackagePopularityValue{Items: items, TotalVisits: total}, nil
}

// ContentObjectPopularity ranks individual content objects. Serialized as a
// bare array.
type ContentObjectPopularity struct{}

type ContentObjectPopularityItem struct {
	Content    string  `json:"content"`
	Item       string  `json:"item"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type ContentObjectPopularityValue []ContentObjectPopularityItem

func (ContentObjectPopularityValue) isValue() {}

func (ContentObjectPopularity) ID() int { return IDContentObjectPopularity }

func (ContentObjectPopularity) Compute(ctx context.Context, p storage.Persister, _ period.AggKind, start, stop int64) (Value, error) {
	rows, err := p.GetIndicatorValues(ctx, indicators.IDPackageItemVisit, start, stop)
	if err != nil {
		return nil, err
	}

	type objectKey struct{ content, item string }
	countByObject := make(map[objectKey]int64)
	var total int64
	for _, row := range rows {
		content, _ := row.Dimension.Value(0)
		item, _ := row.Dimension.Value(1)
		countByObject[objectKey{content, item}] += row.Value
		total += row.Value
	}

	items := make(ContentObjectPopularityValue, 0, len(countByObject))
	for key, count := range countByObject {
		items = append(items, ContentObjectPopularityItem{
			Content:    key.content,
			Item:       key.item,
			Count:      count,
			Percentage: percentage(count, total),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		if items[i].Content != items[j].Content {
			return items[i].Content < items[j].Content
		}
		return items[i].Item < items[j].Item
	})
	if len(items) > contentTopCount {
		items = items[:contentTopCount]
	}

	return items, nil
}

// percentage computes count*100/total rounded to two decimal places.
func percentage(count, total int64) float64 {
	if total == 0 {
		return 0
	}
	return decimal.NewFromInt(count * 100).
		Div(decimal.NewFromInt(total)).
		Round(2).
		InexactFloat64()
}

// TotalUsage reports minutes of activity overall and per package. The
// total is the overall recorder's own slot count, not the sum of the
// per-package values: the same request feeds both independently.
type TotalUsage struct{}

type TotalUsageItem struct {
	Package         string `json:"package"`
	MinutesActivity int64  `json:"minutes_activity"`
}

type TotalUsageValue struct {
	Items                []TotalUsageItem `json:"items"`
	TotalMinutesActivity int64            `json:"total_minutes_activity"`
}

func (TotalUsageValue) isValue() {}

func (TotalUsage) ID() int { return IDTotalUsage }

func (TotalUsage) Compute(ctx context.Context, p storage.Persister, _ period.AggKind, start, stop int64) (Value, error) {
	overall, err := p.GetIndicatorValues(ctx, indicators.IDTotalUsageOverall, start, stop)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, row := range overall {
		total += row.Value
	}

	perPackage, err := p.GetIndicatorValues(ctx, indicators.IDTotalUsageByPackage, start, stop)
	if err != nil {
		return nil, err
	}
	minutesByTitle := make(map[string]int64)
	for _, row := range perPackage {
		title, _ := row.Dimension.Value(0)
		minutesByTitle[title] += row.Value
	}

	items := make([]TotalUsageItem, 0, len(minutesByTitle))
	for title, minutes := range minutesByTitle {
		items = append(items, TotalUsageItem{Package: title, MinutesActivity: minutes})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].MinutesActivity != items[j].MinutesActivity {
			return items[i].MinutesActivity > items[j].MinutesActivity
		}
		return items[i].Package < items[j].Package
	})
	if len(items) > popularityTopCount {
		items = items[:popularityTopCount]
	}

	return TotalUsageValue{Items: items, TotalMinutesActivity: total}, nil
}

// Uptime reports how many minutes the appliance was on.
type Uptime struct{}

type UptimeValue struct {
	NbMinutesOn int64 `json:"nb_minutes_on"`
}

func (UptimeValue) isValue() {}

func (Uptime) ID() int { return IDUptime }

func (Uptime) Compute(ctx context.Context, p storage.Persister, _ period.AggKind, start, stop int64) (Value, error) {
	rows, err := p.GetIndicatorValues(ctx, indicators.IDUptime, start, stop)
	if err != nil {
		return nil, err
	}
	var minutes int64
	for _, row := range rows {
		minutes += row.Value
	}
	return UptimeValue{NbMinutesOn: minutes}, nil
}

// SharedFiles reports file sharing activity.
type SharedFiles struct{}

type SharedFilesValue struct {
	FilesCreated int64 `json:"files_created"`
	FilesDeleted int64 `json:"files_deleted"`
}

func (SharedFilesValue) isValue() {}

func (SharedFiles) ID() int { return IDSharedFiles }

func (SharedFiles) Compute(ctx context.Context, p storage.Persister, _ period.AggKind, start, stop int64) (Value, error) {
	rows, err := p.GetIndicatorValues(ctx, indicators.IDSharedFilesOperations, start, stop)
	if err != nil {
		return nil, err
	}
	var value SharedFilesValue
	for _, row := range rows {
		kind, _ := row.Dimension.Value(0)
		switch kind {
		case "created":
			value.FilesCreated += row.Value
		case "deleted":
			value.FilesDeleted += row.Value
		}
	}
	return value, nil
}
