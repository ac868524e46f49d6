package models

import (
	"time"
)

type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

type Position struct {
	Symbol        string
	PositionAmt   float64 // signed base-asset quantity, negative = short
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnl float64
	UpdatedAt     time.Time
}

// Qty is the absolute base-asset quantity of the position. Safe on a
// nil position.
func (p *Position) Qty() float64 {
	if p == nil {
		return 0
	}
	if p.PositionAmt < 0 {
		return -p.PositionAmt
	}
	return p.PositionAmt
}
