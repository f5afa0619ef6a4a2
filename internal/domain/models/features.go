package models

import "time"

// Candle is an OHLCV bar used to derive price features.
type Candle struct {
	Bucket time.Time `json:"bucket"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close" validate:"gt=0"`
	Volume float64   `json:"volume" validate:"gte=0"`
}

// Selection describes which columns survived the reduction pipeline.
type Selection struct {
	Indices []int    `json:"indices"`
	Names   []string `json:"names"`
	Rows    int      `json:"rows"`
	Cols    int      `json:"cols"`
	// Dropped maps a column name to the stage that removed it.
	Dropped map[string]string `json:"dropped,omitempty"`
}
