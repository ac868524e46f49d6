package models

// RunSummary is the cumulative outcome of one open or close run.
// Immutable once returned by a strategy.
type RunSummary struct {
	TotalLots          int     `json:"total_lots"`
	TotalFuturesQty    float64 `json:"total_futures_qty"`
	TotalSpotQty       float64 `json:"total_spot_qty"`
	AvgFuturesPrice    float64 `json:"avg_futures_price"`
	AvgSpotPrice       float64 `json:"avg_spot_price"`
	TotalFuturesValue  float64 `json:"total_futures_value"`
	TotalSpotValue     float64 `json:"total_spot_value"`
	TotalCombinedValue float64 `json:"total_combined_value"`
	AvgSpreadPercent   float64 `json:"avg_spread_percent"`

	// Partial marks a run stopped early on insufficient balance. It is
	// still a successful completion of everything executed so far.
	Partial bool `json:"partial"`
}
