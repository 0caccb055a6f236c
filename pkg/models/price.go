package models

import (
	"strconv"
	"time"
)

// Role identifies one of the two displayed days. Exactly two roles exist at
// any time, each backed by its own snapshot and refresh lifecycle.
type Role string

const (
	RoleToday    Role = "today"
	RoleTomorrow Role = "tomorrow"
)

// Roles returns both roles in display order.
func Roles() []Role {
	return []Role{RoleToday, RoleTomorrow}
}

// Valid reports whether the role is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleToday || r == RoleTomorrow
}

// Granularity is the time resolution of a day's price rows.
type Granularity string

const (
	GranularityHourly      Granularity = "hourly"
	GranularityQuarterHour Granularity = "quarter_hour"
)

// Intervals returns the expected row count for a full day.
func (g Granularity) Intervals() int {
	if g == GranularityQuarterHour {
		return 96
	}
	return 24
}

// PriceRow is one interval of a day's price curve. Price components are
// pointers because upstream payloads may omit individual fields; an absent
// component counts as zero in price sums.
type PriceRow struct {
	TimeIndex string   `json:"time_index"`
	Low       *float64 `json:"low"`
	Medium    *float64 `json:"medium"`
	High      *float64 `json:"high"`
	Margin    *float64 `json:"margin"`
}

// Spot returns the spot price (low + medium + high) in cents/kWh.
func (r *PriceRow) Spot() float64 {
	return deref(r.Low) + deref(r.Medium) + deref(r.High)
}

// Total returns spot plus margin.
func (r *PriceRow) Total() float64 {
	return r.Spot() + deref(r.Margin)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// PriceRange is the chart scaling range shared by both days.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Snapshot is the complete, immutable set of price rows plus metadata for one
// role. Snapshots are replaced wholesale on each successful refresh and never
// mutated in place.
type Snapshot struct {
	Role        Role        `json:"role"`
	Date        string      `json:"date"` // calendar date in the reference zone, 2006-01-02
	Rows        []PriceRow  `json:"rows"` // insertion order = time order
	FetchedAt   time.Time   `json:"fetched_at"`
	Granularity Granularity `json:"granularity"`
	PriceRange  PriceRange  `json:"price_range"`
}

// RowForTime returns the row covering the given wall-clock position within the
// snapshot's day. Rows are matched by time index, not slice position: a
// partially accepted day is missing its invalid intervals, so a row's offset
// says nothing about which interval it covers.
func (s *Snapshot) RowForTime(hour, minute int) (*PriceRow, bool) {
	idx := hour
	if s.Granularity == GranularityQuarterHour {
		idx = hour*4 + minute/15
	}
	if idx < 0 || idx >= s.Granularity.Intervals() {
		return nil, false
	}
	key := strconv.Itoa(idx)
	// Complete days line up positionally; check that slot before scanning.
	if idx < len(s.Rows) && s.Rows[idx].TimeIndex == key {
		return &s.Rows[idx], true
	}
	for i := range s.Rows {
		if s.Rows[i].TimeIndex == key {
			return &s.Rows[i], true
		}
	}
	return nil, false
}
