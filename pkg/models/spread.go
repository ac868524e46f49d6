package models

import (
	"time"
)

// SpreadSample is one observation of the two legs' relative price
// divergence, always denominated against the spot price.
type SpreadSample struct {
	Symbol          string    `json:"symbol"`
	FuturesPrice    float64   `json:"futures_price"`
	SpotPrice       float64   `json:"spot_price"`
	DiffPercent     float64   `json:"diff_percent"`
	WithinThreshold bool      `json:"within_threshold"`
	Timestamp       time.Time `json:"timestamp"`
}
