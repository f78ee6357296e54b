package market

// PricePoint is a single simulated price observation.
type PricePoint struct {
	Timestamp int64   `json:"timestamp"` // milliseconds since epoch
	Value     float64 `json:"value"`
}

// Quote is the externally visible state of one simulated asset.
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Change float64 `json:"change"` // percent delta against the oldest retained history entry
}

// Candle represents OHLC data for one aggregation bucket.
type Candle struct {
	Time  int64   `json:"time"` // bucket start (seconds since epoch)
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}
