package models

// Request bodies for the tool endpoints.

// OptimizeRequest is optional; an empty body runs the configured trial count.
type OptimizeRequest struct {
	NTrials int `json:"n_trials" validate:"omitempty,gte=1,lte=1000"`
}

// TuneRequest arrives on the requests topic.
type TuneRequest struct {
	RequestID string `json:"request_id" validate:"required"`
	NTrials   int    `json:"n_trials" validate:"omitempty,gte=1,lte=1000"`
}

type WriteCodeRequest struct {
	Filename string  `json:"filename" validate:"required"`
	Code     *string `json:"code" validate:"required"`
}

// FitRequest accepts either an explicit matrix or raw candles.
type FitRequest struct {
	X         [][]*float64 `json:"x" validate:"required_without=Candles"`
	Y         []float64    `json:"y" validate:"required_with=X"`
	Columns   []string     `json:"columns"`
	Candles   []Candle     `json:"candles" validate:"omitempty,min=3,dive"`
	Headlines []string     `json:"headlines"`
	Persist   bool         `json:"persist"`
}

type PredictRequest struct {
	Rows int `json:"rows" default:"1" validate:"gte=1,lte=100000"`
}

type WriteCodeResponse struct {
	Status string `json:"status"`
}

type FitResponse struct {
	Selection
	Params ModelParams `json:"params"`
}

type PredictResponse struct {
	Predictions []float64 `json:"predictions"`
}
