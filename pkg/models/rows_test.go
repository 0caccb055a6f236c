package models

import (
	"strconv"
	"testing"
)

func TestParseRowAcceptsMixedNumericForms(t *testing.T) {
	row, ok := ParseRow([]interface{}{"0", "1.0", 2.0, "0.5", nil})
	if !ok {
		t.Fatalf("expected row to validate")
	}
	if row.TimeIndex != "0" {
		t.Errorf("time index got %q want %q", row.TimeIndex, "0")
	}
	if got := row.Spot(); got != 3.5 {
		t.Errorf("spot got %.2f want 3.50", got)
	}
	if row.Margin != nil {
		t.Errorf("absent margin should stay nil, got %v", *row.Margin)
	}
	if got := row.Total(); got != 3.5 {
		t.Errorf("total with absent margin got %.2f want 3.50", got)
	}
}

func TestParseRowRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  []interface{}
	}{
		{"non-numeric price", []interface{}{"1", "bad", "2", "3", "4"}},
		{"missing time index", []interface{}{nil, 1.0, 2.0, 3.0, 4.0}},
		{"empty time index", []interface{}{"", 1.0, 2.0, 3.0, 4.0}},
		{"short row", []interface{}{"1", 1.0, 2.0}},
		{"bool price", []interface{}{"1", true, 2.0, 3.0, 4.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := ParseRow(tc.raw); ok {
				t.Fatalf("expected rejection for %v", tc.raw)
			}
		})
	}
}

func TestBuildRowsBelowThresholdRejected(t *testing.T) {
	grid := [][]interface{}{
		{"0", "1.0", "2.0", "0.5", nil},
		{"1", "bad", "2", "3", "4"},
	}
	rows, valid, total := BuildRows(grid)
	if valid != 1 || total != 2 {
		t.Fatalf("got %d valid / %d total, want 1/2", valid, total)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 parsed row, got %d", len(rows))
	}
	// 50% is below the 80% acceptance threshold.
	if RowsAcceptable(valid, total) {
		t.Fatalf("50%% valid rows must not be acceptable")
	}
}

func TestRowsAcceptableBoundary(t *testing.T) {
	cases := []struct {
		valid, total int
		want         bool
	}{
		{0, 0, false},
		{4, 5, true},  // exactly 80%
		{79, 100, false},
		{80, 100, true},
		{96, 96, true},
	}
	for _, tc := range cases {
		if got := RowsAcceptable(tc.valid, tc.total); got != tc.want {
			t.Errorf("RowsAcceptable(%d, %d) = %v, want %v", tc.valid, tc.total, got, tc.want)
		}
	}
}

func TestRowForTimeGranularity(t *testing.T) {
	mk := func(n int) []PriceRow {
		rows := make([]PriceRow, n)
		for i := range rows {
			v := float64(i)
			rows[i] = PriceRow{TimeIndex: itoa(i), Low: &v}
		}
		return rows
	}

	hourly := &Snapshot{Granularity: GranularityHourly, Rows: mk(24)}
	if row, ok := hourly.RowForTime(13, 45); !ok || row.TimeIndex != "13" {
		t.Fatalf("hourly 13:45 got %+v ok=%v, want index 13", row, ok)
	}

	quarter := &Snapshot{Granularity: GranularityQuarterHour, Rows: mk(96)}
	if row, ok := quarter.RowForTime(13, 45); !ok || row.TimeIndex != "55" {
		t.Fatalf("quarter 13:45 got %+v ok=%v, want index 55", row, ok)
	}

	if _, ok := quarter.RowForTime(25, 0); ok {
		t.Fatalf("out-of-range hour must not resolve")
	}
}

func TestRowForTimeWithDroppedIntervals(t *testing.T) {
	// One garbled interval out of ten clears the 80% threshold, so the day
	// is accepted with a gap: the surviving rows are compacted and slice
	// position no longer matches the interval they cover.
	grid := make([][]interface{}, 10)
	grid[0] = []interface{}{"0", "bad", 1.0, 1.0, nil}
	for i := 1; i < 10; i++ {
		grid[i] = []interface{}{itoa(i), float64(i), float64(i), float64(i), nil}
	}
	rows, valid, total := BuildRows(grid)
	if !RowsAcceptable(valid, total) {
		t.Fatalf("9/10 valid rows must be acceptable, got %d/%d", valid, total)
	}

	snap := &Snapshot{Granularity: GranularityHourly, Rows: rows}

	row, ok := snap.RowForTime(5, 0)
	if !ok {
		t.Fatalf("hour 5 must resolve")
	}
	if row.TimeIndex != "5" {
		t.Fatalf("hour 5 resolved to interval %q", row.TimeIndex)
	}
	if got := row.Spot(); got != 15 {
		t.Fatalf("hour 5 spot got %.1f want 15.0", got)
	}

	// The dropped interval itself has no row; it must not borrow a
	// neighbour's.
	if row, ok := snap.RowForTime(0, 0); ok {
		t.Fatalf("dropped interval resolved to %q", row.TimeIndex)
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
