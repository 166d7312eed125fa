// Package stack converts per-category time series into cumulative band
// coordinates for area-chart rendering. A NaN amount marks "no data for this
// category at this time slot" and propagates into the band top so the chart
// shows a discontinuity instead of a fake zero.
package stack

import (
	"fmt"
	"math"
)

// Band holds the stacked coordinates for one category across all time slots.
// Baseline[t] is where the band starts and Top[t] where it ends; for the
// bottom band the baseline is zero everywhere.
type Band struct {
	Key      string    `json:"key"`
	Index    int       `json:"index"`
	Baseline []float64 `json:"baseline"`
	Top      []float64 `json:"top"`
}

// Stack accumulates a (time × category) matrix into one Band per category,
// in the same order as keys. rows is row-major with the outer index over time
// slots; every row must have exactly len(keys) entries.
//
// Band c's baseline at slot t is band c-1's top at t, unless that top is NaN,
// in which case the baseline carries forward from the first lower band with a
// value. Negative amounts are stacked arithmetically; bands of mixed sign may
// overlap visually.
func Stack(keys []string, rows [][]float64) ([]Band, error) {
	for t, row := range rows {
		if len(row) != len(keys) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", t, len(row), len(keys))
		}
	}

	bands := make([]Band, len(keys))
	for c, key := range keys {
		bands[c] = Band{
			Key:      key,
			Index:    c,
			Baseline: make([]float64, len(rows)),
			Top:      make([]float64, len(rows)),
		}
		for t, row := range rows {
			bands[c].Top[t] = row[c]
		}
	}

	for c := 1; c < len(bands); c++ {
		prev := &bands[c-1]
		for t := range rows {
			carried := prev.Top[t]
			if math.IsNaN(carried) {
				carried = prev.Baseline[t]
			}
			bands[c].Baseline[t] = carried
			bands[c].Top[t] = carried + rows[t][c]
		}
	}

	return bands, nil
}
