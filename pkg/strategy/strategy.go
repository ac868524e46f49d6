package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/fundingarb/trader/pkg/executor"
	"github.com/fundingarb/trader/pkg/models"
)

// quoteAsset denominates lot sizes and margin balances.
const quoteAsset = "USDT"

// Executor runs one spread-gated dual-leg lot.
type Executor interface {
	ExecuteLot(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error)
}

// accumulator carries the cumulative fill totals through the lot loop.
// It is a value, threaded explicitly through each iteration.
type accumulator struct {
	lots         int
	futuresQty   float64
	spotQty      float64
	futuresValue float64
	spotValue    float64
}

func (a accumulator) add(res *executor.LotResult) accumulator {
	return accumulator{
		lots:         a.lots + 1,
		futuresQty:   a.futuresQty + res.Futures.ExecutedQty,
		spotQty:      a.spotQty + res.Spot.ExecutedQty,
		futuresValue: a.futuresValue + res.Futures.ExecutedValue(),
		spotValue:    a.spotValue + res.Spot.ExecutedValue(),
	}
}

// addFutures records a single-leg futures fill from the unwind path.
// It does not count as an executed lot.
func (a accumulator) addFutures(order *models.Order) accumulator {
	a.futuresQty += order.ExecutedQty
	a.futuresValue += order.ExecutedValue()
	return a
}

func (a accumulator) addSpot(order *models.Order) accumulator {
	a.spotQty += order.ExecutedQty
	a.spotValue += order.ExecutedValue()
	return a
}

func (a accumulator) summary(partial bool) *models.RunSummary {
	s := &models.RunSummary{
		TotalLots:          a.lots,
		TotalFuturesQty:    a.futuresQty,
		TotalSpotQty:       a.spotQty,
		TotalFuturesValue:  a.futuresValue,
		TotalSpotValue:     a.spotValue,
		TotalCombinedValue: a.futuresValue + a.spotValue,
		Partial:            partial,
	}
	if a.futuresQty > 0 {
		s.AvgFuturesPrice = a.futuresValue / a.futuresQty
	}
	if a.spotQty > 0 {
		s.AvgSpotPrice = a.spotValue / a.spotQty
	}
	if s.AvgFuturesPrice > 0 && s.AvgSpotPrice > 0 {
		s.AvgSpreadPercent = (s.AvgFuturesPrice - s.AvgSpotPrice) / s.AvgSpotPrice * 100
	}
	return s
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func logSummary(logger *logrus.Logger, msg string, s *models.RunSummary) {
	logger.WithFields(logrus.Fields{
		"total_lots":          s.TotalLots,
		"total_futures_qty":   s.TotalFuturesQty,
		"total_spot_qty":      s.TotalSpotQty,
		"avg_futures_price":   s.AvgFuturesPrice,
		"avg_spot_price":      s.AvgSpotPrice,
		"total_futures_value": s.TotalFuturesValue,
		"total_spot_value":    s.TotalSpotValue,
		"total_value":         s.TotalCombinedValue,
		"avg_spread_percent":  fmt.Sprintf("%.4f", s.AvgSpreadPercent),
		"partial":             s.Partial,
	}).Info(msg)
}
