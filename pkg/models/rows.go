package models

import (
	"strconv"
)

// MinValidRowRatio is the fraction of rows that must validate before a fetched
// day is accepted. Partial acceptance tolerates minor upstream anomalies; a
// day below the threshold is treated as "no data".
const MinValidRowRatio = 0.8

// ParseRow converts one raw chart row ([timeIndex, low, medium, high, margin])
// into a PriceRow. A row is valid only if its time index is present and every
// price field is numeric or absent. Upstream encodes numbers inconsistently
// (JSON numbers, numeric strings, nulls), so all three forms are accepted.
func ParseRow(raw []interface{}) (PriceRow, bool) {
	if len(raw) < 5 {
		return PriceRow{}, false
	}

	idx, ok := asString(raw[0])
	if !ok || idx == "" {
		return PriceRow{}, false
	}

	row := PriceRow{TimeIndex: idx}
	fields := []**float64{&row.Low, &row.Medium, &row.High, &row.Margin}
	for i, dst := range fields {
		v, ok := asNumber(raw[i+1])
		if !ok {
			return PriceRow{}, false
		}
		*dst = v
	}
	return row, true
}

// BuildRows parses a raw chart grid, keeping only valid rows. It returns the
// parsed rows plus the valid and total counts used for the acceptance check.
func BuildRows(raw [][]interface{}) (rows []PriceRow, valid, total int) {
	total = len(raw)
	rows = make([]PriceRow, 0, total)
	for _, r := range raw {
		row, ok := ParseRow(r)
		if !ok {
			continue
		}
		rows = append(rows, row)
		valid++
	}
	return rows, valid, total
}

// RowsAcceptable reports whether a parsed day clears the validity threshold.
// An empty grid never qualifies.
func RowsAcceptable(valid, total int) bool {
	if total == 0 {
		return false
	}
	return float64(valid)/float64(total) >= MinValidRowRatio
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatInt(int64(s), 10), true
	case int:
		return strconv.Itoa(s), true
	default:
		return "", false
	}
}

// asNumber coerces a raw price field. nil means the field is absent, which is
// allowed; a non-numeric string is not.
func asNumber(v interface{}) (*float64, bool) {
	switch n := v.(type) {
	case nil:
		return nil, true
	case float64:
		f := n
		return &f, true
	case int:
		f := float64(n)
		return &f, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, false
		}
		return &f, true
	default:
		return nil, false
	}
}
