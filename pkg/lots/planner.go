package lots

import (
	"fmt"
	"math"
)

const (
	// MinOrderNotionalUSD is the venue's minimum order value per leg.
	MinOrderNotionalUSD = 5.0

	// DustUSD is the smallest remainder worth tracking at all.
	DustUSD = 0.01
)

// SizePlanner partitions an absolute USD target into bounded lots.
type SizePlanner struct {
	Total  float64
	LotCap float64
}

func NewSizePlanner(total, lotCap float64) (*SizePlanner, error) {
	if total <= 0 || lotCap <= 0 {
		return nil, fmt.Errorf("total and lot size must be positive (total=%.2f, lot=%.2f)", total, lotCap)
	}
	if lotCap > total {
		return nil, fmt.Errorf("lot size %.2f exceeds total size %.2f", lotCap, total)
	}
	return &SizePlanner{Total: total, LotCap: lotCap}, nil
}

func (p *SizePlanner) TotalLots() int {
	return int(math.Ceil(p.Total / p.LotCap))
}

// NextLotSize returns the USD size of the next lot given the remaining
// target. A remainder that would be left stranded between DustUSD and
// the order floor is merged into this lot instead. ok is false when
// the lot itself cannot reach the floor: that remainder is abandoned,
// never force-executed.
func (p *SizePlanner) NextLotSize(remaining float64) (size float64, ok bool) {
	size = math.Min(p.LotCap, remaining)
	next := remaining - size
	if next > DustUSD && next < MinOrderNotionalUSD {
		size += next
	}
	if size < MinOrderNotionalUSD {
		return 0, false
	}
	return size, true
}

// PercentPlanner partitions a percentage close target into lots. Each
// lot is expressed as a fraction of the position remaining at
// execution time, so drift from other activity is absorbed; the
// fraction grows per lot so that after TotalLots lots the cumulative
// closed amount equals exactly ClosePercent of the original position.
type PercentPlanner struct {
	ClosePercent float64
	LotPercent   float64
}

func NewPercentPlanner(closePercent, lotPercent float64) (*PercentPlanner, error) {
	if closePercent <= 0 || closePercent > 100 {
		return nil, fmt.Errorf("close percent must be in (0, 100], got %.2f", closePercent)
	}
	if lotPercent <= 0 || lotPercent > closePercent {
		return nil, fmt.Errorf("lot percent must be in (0, %.2f], got %.2f", closePercent, lotPercent)
	}
	return &PercentPlanner{ClosePercent: closePercent, LotPercent: lotPercent}, nil
}

func (p *PercentPlanner) TotalLots() int {
	return int(math.Ceil(p.ClosePercent / p.LotPercent))
}

// FractionOfRemaining returns the share of the currently remaining
// position that lot lotNumber (1-based) must take.
func (p *PercentPlanner) FractionOfRemaining(lotNumber int) float64 {
	denom := 100 - float64(lotNumber-1)*p.LotPercent
	if denom <= p.LotPercent {
		return 1
	}
	return p.LotPercent / denom
}

// CloseLot is one planned close slice across both legs.
type CloseLot struct {
	FuturesQty      float64
	SpotQty         float64
	FuturesValueUSD float64
	SpotValueUSD    float64
	MergedTail      bool
	BelowFloor      bool
}

// PlanCloseLot sizes lot lotNumber against the live remaining
// quantities. price converts base quantities to USD; the tail-merge
// decision uses the worse (smaller) leg notional so neither leg is
// left with an unexecutable sub-floor remainder.
func (p *PercentPlanner) PlanCloseLot(lotNumber int, remainingFutures, remainingSpot, price float64) CloseLot {
	frac := p.FractionOfRemaining(lotNumber)
	lot := CloseLot{
		FuturesQty: remainingFutures * frac,
		SpotQty:    remainingSpot * frac,
	}

	nextRemainingUSD := math.Min(
		(remainingFutures-lot.FuturesQty)*price,
		(remainingSpot-lot.SpotQty)*price,
	)
	if nextRemainingUSD > DustUSD && nextRemainingUSD < MinOrderNotionalUSD {
		lot.FuturesQty = remainingFutures
		lot.SpotQty = remainingSpot
		lot.MergedTail = true
	} else {
		lot.FuturesQty = math.Min(lot.FuturesQty, remainingFutures)
		lot.SpotQty = math.Min(lot.SpotQty, remainingSpot)
	}

	lot.FuturesValueUSD = lot.FuturesQty * price
	lot.SpotValueUSD = lot.SpotQty * price
	lot.BelowFloor = lot.FuturesValueUSD < MinOrderNotionalUSD || lot.SpotValueUSD < MinOrderNotionalUSD
	return lot
}

// SuggestedLotPercent computes the smallest lot percent whose first
// lot clears the order floor on the smaller leg.
func SuggestedLotPercent(minLegNotionalUSD, closePercent float64) float64 {
	if minLegNotionalUSD <= 0 || closePercent <= 0 {
		return 100
	}
	suggested := math.Ceil(MinOrderNotionalUSD / minLegNotionalUSD * 100 * (100 / closePercent))
	return math.Min(suggested, 100)
}

// FloorError reports a first-lot plan whose legs cannot reach the
// venue order floor.
type FloorError struct {
	FuturesValueUSD     float64
	SpotValueUSD        float64
	SuggestedLotPercent float64
}

func (e *FloorError) Error() string {
	return fmt.Sprintf(
		"lot size too small: each lot must be at least $%.0f per leg (futures $%.2f, spot $%.2f); increase lot percent to at least %.0f%%",
		MinOrderNotionalUSD, e.FuturesValueUSD, e.SpotValueUSD, e.SuggestedLotPercent)
}
