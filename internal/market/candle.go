package market

import (
	"sort"
)

const minuteMs = 60 * 1000

// GroupCandles buckets price points into fixed-interval OHLC candles.
//
// Each point maps to the bucket starting at floor(timestamp/intervalMs)*intervalMs.
// Open and close are positional: the first and last point of the bucket in
// input order, not time order. Out-of-order input is tolerated for bucket
// assignment, and this input-order semantic is kept deliberately so batch
// aggregation matches the live chart's behavior. Output is sorted ascending
// by bucket start.
func GroupCandles(points []PricePoint, intervalMinutes int) []Candle {
	if len(points) == 0 || intervalMinutes <= 0 {
		return []Candle{}
	}

	intervalMs := int64(intervalMinutes) * minuteMs
	buckets := make(map[int64]*Candle)

	for _, p := range points {
		bucketMs := (p.Timestamp / intervalMs) * intervalMs

		c, ok := buckets[bucketMs]
		if !ok {
			buckets[bucketMs] = &Candle{
				Time:  bucketMs / 1000,
				Open:  p.Value,
				High:  p.Value,
				Low:   p.Value,
				Close: p.Value,
			}
			continue
		}

		if p.Value > c.High {
			c.High = p.Value
		}
		if p.Value < c.Low {
			c.Low = p.Value
		}
		c.Close = p.Value
	}

	out := make([]Candle, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// RollingCandles derives one candle per point from a continuous price stream,
// with each candle opening at the previous point's value. Points are sorted
// by timestamp first; the first candle opens at its own value.
func RollingCandles(points []PricePoint) []Candle {
	if len(points) == 0 {
		return []Candle{}
	}

	sorted := make([]PricePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	out := make([]Candle, 0, len(sorted))
	for i, p := range sorted {
		prev := p
		if i > 0 {
			prev = sorted[i-1]
		}

		high, low := prev.Value, p.Value
		if low > high {
			high, low = low, high
		}

		out = append(out, Candle{
			Time:  p.Timestamp / 1000,
			Open:  prev.Value,
			High:  high,
			Low:   low,
			Close: p.Value,
		})
	}
	return out
}
