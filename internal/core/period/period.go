package period

import (
	"fmt"
	"time"
)

// Period is an hour-aligned instant, the atomic accumulation unit of the
// engine. It is identified by its epoch timestamp in seconds; two periods
// are equal iff their hour-aligned timestamps match.
//
// All calendar math is done in UTC.
type Period struct {
	ts int64
}

// At returns the period containing t.
func At(t time.Time) Period {
	return Period{ts: t.UTC().Truncate(time.Hour).Unix()}
}

// FromTimestamp returns the period containing the given unix timestamp.
func FromTimestamp(ts int64) Period {
	return At(time.Unix(ts, 0))
}

// Timestamp returns the hour-aligned unix timestamp identifying the period.
func (p Period) Timestamp() int64 {
	return p.ts
}

// Time returns the period start as a UTC time.
func (p Period) Time() time.Time {
	return time.Unix(p.ts, 0).UTC()
}

func (p Period) Year() int  { return p.Time().Year() }
func (p Period) Month() int { return int(p.Time().Month()) }
func (p Period) Day() int   { return p.Time().Day() }
func (p Period) Hour() int  { return p.Time().Hour() }

// Week returns the ISO 8601 week number.
func (p Period) Week() int {
	_, week := p.Time().ISOWeek()
	return week
}

// Weekday returns the ISO weekday (Monday=1 .. Sunday=7).
func (p Period) Weekday() int {
	wd := int(p.Time().Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// DayString formats the period's day as YYYY-MM-DD.
func (p Period) DayString() string {
	return p.Time().Format("2006-01-02")
}

// WeekString formats the period's ISO week as "YYYY Www".
// The year is the ISO week-year, which can differ from the calendar year
// around January 1st.
func (p Period) WeekString() string {
	year, week := p.Time().ISOWeek()
	return fmt.Sprintf("%04d W%02d", year, week)
}

// MonthString formats the period's month as YYYY-MM.
func (p Period) MonthString() string {
	return p.Time().Format("2006-01")
}

// YearString formats the period's year as YYYY.
func (p Period) YearString() string {
	return p.Time().Format("2006")
}

func (p Period) String() string {
	return p.Time().Format("2006-01-02 15:00")
}

// AggKind is an aggregation granularity. The single-letter values are the
// wire contract of the query API.
type AggKind string

const (
	AggDay   AggKind = "D"
	AggWeek  AggKind = "W"
	AggMonth AggKind = "M"
	AggYear  AggKind = "Y"
)

// Kinds lists all aggregation kinds in retention order.
var Kinds = []AggKind{AggDay, AggWeek, AggMonth, AggYear}

// ParseAggKind validates an aggregation kind received on the wire.
func ParseAggKind(s string) (AggKind, error) {
	switch AggKind(s) {
	case AggDay, AggWeek, AggMonth, AggYear:
		return AggKind(s), nil
	}
	return "", fmt.Errorf("unknown aggregation kind %q", s)
}

// AggValue maps a period to the canonical aggregation string for this kind.
func (k AggKind) AggValue(p Period) string {
	switch k {
	case AggDay:
		return p.DayString()
	case AggWeek:
		return p.WeekString()
	case AggMonth:
		return p.MonthString()
	case AggYear:
		return p.YearString()
	}
	return ""
}

// Interval returns the half-open [start, stop) unix timestamp interval of
// the aggregation containing p.
func (k AggKind) Interval(p Period) (start, stop int64) {
	t := p.Time()
	switch k {
	case AggDay:
		from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return from.Unix(), from.AddDate(0, 0, 1).Unix()
	case AggWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		from := day.AddDate(0, 0, -(p.Weekday() - 1))
		return from.Unix(), from.AddDate(0, 0, 7).Unix()
	case AggMonth:
		from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from.Unix(), from.AddDate(0, 1, 0).Unix()
	case AggYear:
		from := time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return from.Unix(), from.AddDate(1, 0, 0).Unix()
	}
	return 0, 0
}

// Retention returns the sliding set of aggregation values to keep for this
// kind, most recent last, inclusive of the aggregation containing now.
// Returns nil for AggYear: yearly aggregations are kept forever.
func (k AggKind) Retention(now Period) []string {
	t := now.Time()
	switch k {
	case AggDay:
		values := make([]string, 0, 7)
		for i := 6; i >= 0; i-- {
			values = append(values, t.AddDate(0, 0, -i).Format("2006-01-02"))
		}
		return values
	case AggWeek:
		values := make([]string, 0, 4)
		for i := 3; i >= 0; i-- {
			values = append(values, At(t.AddDate(0, 0, -7*i)).WeekString())
		}
		return values
	case AggMonth:
		// Anchor on the first of the month so that subtracting months never
		// skips short months.
		first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		values := make([]string, 0, 12)
		for i := 11; i >= 0; i-- {
			values = append(values, first.AddDate(0, -i, 0).Format("2006-01"))
		}
		return values
	}
	return nil
}
