package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fundingarb/trader/pkg/executor"
	"github.com/fundingarb/trader/pkg/lots"
	"github.com/fundingarb/trader/pkg/models"
)

// FuturesLeg is the futures-side capability the close strategy needs.
type FuturesLeg interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error)
}

// SpotLeg is the spot-side capability the close strategy needs.
type SpotLeg interface {
	GetBalance(ctx context.Context, asset string) (*models.Balance, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error)
}

// Quantities below this are treated as fully closed.
const depletedEpsilon = 1e-8

// Close unwinds a delta-neutral position lot by lot: each lot buys
// back part of the short perpetual and sells the matching spot.
type Close struct {
	futures    FuturesLeg
	spot       SpotLeg
	exec       Executor
	lotDelay   time.Duration
	retryDelay time.Duration
	maxRetries int
	logger     *logrus.Logger
	progress   *Progress
}

func NewClose(futures FuturesLeg, spot SpotLeg, exec Executor, lotDelay, retryDelay time.Duration, maxRetries int, logger *logrus.Logger) *Close {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Close{
		futures:    futures,
		spot:       spot,
		exec:       exec,
		lotDelay:   lotDelay,
		retryDelay: retryDelay,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// WithProgress attaches a live progress view to the run.
func (c *Close) WithProgress(p *Progress) *Close {
	c.progress = p
	return c
}

type positionSnapshot struct {
	futuresQty float64
	spotQty    float64
}

// Run closes closePercent of the position in lots of lotPercent each.
// Percentages apply to the position as held at the start of the run.
func (c *Close) Run(ctx context.Context, symbol string, closePercent, lotPercent float64) (*models.RunSummary, error) {
	c.progress.SetPhase(PhasePlanning)

	planner, err := lots.NewPercentPlanner(closePercent, lotPercent)
	if err != nil {
		return nil, err
	}
	totalLots := planner.TotalLots()
	baseAsset := models.BaseAsset(symbol)

	c.progress.SetPhase(PhaseBalance)
	snap, err := c.snapshotWithRetry(ctx, symbol, baseAsset)
	if err != nil {
		return nil, err
	}
	if snap.futuresQty < depletedEpsilon && snap.spotQty < depletedEpsilon {
		return nil, fmt.Errorf("no positions found to close for %s", symbol)
	}

	price, err := c.futures.GetPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("initial price for %s: %w", symbol, err)
	}
	initialFuturesValue := snap.futuresQty * price
	initialSpotValue := snap.spotQty * price

	c.logger.WithFields(logrus.Fields{
		"symbol":            symbol,
		"close_percent":     closePercent,
		"lot_percent":       lotPercent,
		"planned_lots":      totalLots,
		"futures_qty":       snap.futuresQty,
		"spot_qty":          snap.spotQty,
		"futures_value_usd": initialFuturesValue,
		"spot_value_usd":    initialSpotValue,
	}).Info("Starting position close")

	// Lot fractions decay against the full position so that after
	// TotalLots lots exactly closePercent of it has been closed.
	acc := accumulator{}
	remFutures := snap.futuresQty
	remSpot := snap.spotQty

	for lotNumber := 1; lotNumber <= totalLots; lotNumber++ {
		c.progress.SetLot(lotNumber, totalLots)

		if lotNumber > 1 {
			live, err := c.snapshotWithRetry(ctx, symbol, baseAsset)
			if err != nil {
				return acc.summary(true), err
			}
			if live.futuresQty < depletedEpsilon && live.spotQty < depletedEpsilon {
				c.logger.Info("All positions closed")
				break
			}
			if live.futuresQty < depletedEpsilon || live.spotQty < depletedEpsilon {
				c.progress.SetPhase(PhaseUnwinding)
				acc = c.closeRemaining(ctx, symbol, live, acc)
				break
			}
			// Size off the live snapshot directly so drift in either
			// direction is absorbed.
			remFutures = live.futuresQty
			remSpot = live.spotQty
		}

		price, err := c.futures.GetPrice(ctx, symbol)
		if err != nil {
			return acc.summary(true), fmt.Errorf("price before lot %d: %w", lotNumber, err)
		}

		lot := planner.PlanCloseLot(lotNumber, remFutures, remSpot, price)
		if lot.BelowFloor {
			// Only a first lot with both legs under the floor means the
			// plan itself is infeasible. A single sub-floor leg still
			// has a live counterpart to flatten.
			bothBelow := lot.FuturesValueUSD < lots.MinOrderNotionalUSD && lot.SpotValueUSD < lots.MinOrderNotionalUSD
			if lotNumber == 1 && bothBelow {
				return nil, &lots.FloorError{
					FuturesValueUSD:     lot.FuturesValueUSD,
					SpotValueUSD:        lot.SpotValueUSD,
					SuggestedLotPercent: lots.SuggestedLotPercent(math.Min(initialFuturesValue, initialSpotValue), closePercent),
				}
			}
			c.progress.SetPhase(PhaseUnwinding)
			acc = c.unwindBelowFloor(ctx, symbol, remFutures, remSpot, price, acc)
			break
		}

		c.progress.SetPhase(PhaseExecuting)

		size := executor.FixedLegs(executor.LegOrders{
			FuturesSide:       models.OrderSideBuy,
			FuturesQty:        lot.FuturesQty,
			FuturesReduceOnly: true,
			SpotSide:          models.OrderSideSell,
			SpotQty:           lot.SpotQty,
		})
		res, err := c.exec.ExecuteLot(ctx, symbol, size, lotNumber, totalLots)
		if err != nil {
			c.progress.SetPhase(PhaseFailed)
			return acc.summary(true), fmt.Errorf("lot %d/%d: %w", lotNumber, totalLots, err)
		}
		c.progress.SetSpread(res.Spread)

		acc = acc.add(res)
		remFutures -= res.Futures.ExecutedQty
		remSpot -= res.Spot.ExecutedQty

		c.logger.WithFields(logrus.Fields{
			"lot":               lotNumber,
			"futures_qty":       res.Futures.ExecutedQty,
			"spot_qty":          res.Spot.ExecutedQty,
			"remaining_futures": remFutures,
			"remaining_spot":    remSpot,
		}).Info("Lot executed")

		if lotNumber < totalLots {
			select {
			case <-ctx.Done():
				return acc.summary(true), ctx.Err()
			case <-time.After(c.lotDelay):
			}
		}
	}

	summary := acc.summary(false)
	c.progress.SetSummary(summary)
	c.progress.SetPhase(PhaseDone)
	logSummary(c.logger, "Position closed", summary)
	return summary, nil
}

// snapshotWithRetry reads the futures position and the spot base-asset
// balance together, retrying with a linearly growing delay. Transient
// venue errors right after an order are common here.
func (c *Close) snapshotWithRetry(ctx context.Context, symbol, baseAsset string) (positionSnapshot, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		snap, err := c.snapshot(ctx, symbol, baseAsset)
		if err == nil {
			return snap, nil
		}
		lastErr = err
		c.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":     attempt,
			"max_retries": c.maxRetries,
		}).Warn("Failed to read positions, retrying")

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return positionSnapshot{}, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return positionSnapshot{}, fmt.Errorf("failed to read positions after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Close) snapshot(ctx context.Context, symbol, baseAsset string) (positionSnapshot, error) {
	type posResult struct {
		pos *models.Position
		err error
	}
	type balResult struct {
		bal *models.Balance
		err error
	}
	posCh := make(chan posResult, 1)
	balCh := make(chan balResult, 1)

	go func() {
		pos, err := c.futures.GetPosition(ctx, symbol)
		posCh <- posResult{pos, err}
	}()
	go func() {
		bal, err := c.spot.GetBalance(ctx, baseAsset)
		balCh <- balResult{bal, err}
	}()

	pr := <-posCh
	br := <-balCh
	if pr.err != nil {
		return positionSnapshot{}, fmt.Errorf("futures position: %w", pr.err)
	}
	if br.err != nil {
		return positionSnapshot{}, fmt.Errorf("spot balance: %w", br.err)
	}

	snap := positionSnapshot{futuresQty: pr.pos.Qty()}
	if br.bal != nil {
		snap.spotQty = br.bal.Free
	}
	return snap, nil
}

// closeRemaining flattens whatever is left when one leg has already
// run out. There is no paired lot to execute, so no spread gating
// applies, and a failure on either leg is reported rather than fatal.
func (c *Close) closeRemaining(ctx context.Context, symbol string, snap positionSnapshot, acc accumulator) accumulator {
	c.logger.WithFields(logrus.Fields{
		"futures_qty": snap.futuresQty,
		"spot_qty":    snap.spotQty,
	}).Warn("One leg depleted, flattening the remainder")

	if snap.futuresQty > depletedEpsilon {
		order, err := c.futures.PlaceMarketOrder(ctx, symbol, models.OrderSideBuy, snap.futuresQty, true)
		if err != nil {
			c.logger.WithError(err).Error("Failed to close remaining futures position")
		} else {
			acc = acc.addFutures(order)
			c.logger.WithField("qty", order.ExecutedQty).Info("Closed remaining futures position")
		}
	}
	if snap.spotQty > depletedEpsilon {
		order, err := c.spot.PlaceMarketOrder(ctx, symbol, models.OrderSideSell, snap.spotQty, false)
		if err != nil {
			c.logger.WithError(err).Error("Failed to sell remaining spot balance")
		} else {
			acc = acc.addSpot(order)
			c.logger.WithField("qty", order.ExecutedQty).Info("Sold remaining spot balance")
		}
	}
	return acc
}

// unwindBelowFloor handles a lot too small for the venue minimum on
// one or both legs. Reduce-only futures orders bypass the minimum, so
// the whole futures remainder closes; the spot remainder cannot and is
// left for the operator.
func (c *Close) unwindBelowFloor(ctx context.Context, symbol string, remFutures, remSpot, price float64, acc accumulator) accumulator {
	c.logger.WithFields(logrus.Fields{
		"futures_value_usd": remFutures * price,
		"spot_value_usd":    remSpot * price,
	}).Warn("Final lot below venue minimum")

	if remFutures > depletedEpsilon {
		order, err := c.futures.PlaceMarketOrder(ctx, symbol, models.OrderSideBuy, remFutures, true)
		if err != nil {
			c.logger.WithError(err).Error("Failed to close final futures remainder")
		} else {
			acc = acc.addFutures(order)
			c.logger.WithField("qty", order.ExecutedQty).Info("Closed final futures remainder with reduce-only order")
		}
	}
	if remSpot > depletedEpsilon {
		c.logger.WithFields(logrus.Fields{
			"spot_qty":       remSpot,
			"spot_value_usd": remSpot * price,
		}).Warn("Spot remainder below venue minimum, close manually on the venue")
	}
	return acc
}
