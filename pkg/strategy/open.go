package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fundingarb/trader/pkg/executor"
	"github.com/fundingarb/trader/pkg/lots"
	"github.com/fundingarb/trader/pkg/models"
)

// BalanceSource reads an asset balance from one venue leg.
type BalanceSource interface {
	GetBalance(ctx context.Context, asset string) (*models.Balance, error)
}

// Open builds a delta-neutral position lot by lot: each lot shorts the
// perpetual and buys the same notional of spot.
type Open struct {
	futures  BalanceSource
	spot     BalanceSource
	exec     Executor
	lotDelay time.Duration
	logger   *logrus.Logger
	progress *Progress
}

func NewOpen(futures, spot BalanceSource, exec Executor, lotDelay time.Duration, logger *logrus.Logger) *Open {
	return &Open{
		futures:  futures,
		spot:     spot,
		exec:     exec,
		lotDelay: lotDelay,
		logger:   logger,
	}
}

// WithProgress attaches a live progress view to the run.
func (o *Open) WithProgress(p *Progress) *Open {
	o.progress = p
	return o
}

// Run opens totalSizeUSD of combined position in lots of at most
// lotSizeUSD each. It returns a summary of everything filled, with
// Partial set when the run stopped before reaching the full size.
func (o *Open) Run(ctx context.Context, symbol string, totalSizeUSD, lotSizeUSD float64) (*models.RunSummary, error) {
	o.progress.SetPhase(PhasePlanning)

	planner, err := lots.NewSizePlanner(totalSizeUSD, lotSizeUSD)
	if err != nil {
		return nil, err
	}
	totalLots := planner.TotalLots()

	o.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"total_usd":    totalSizeUSD,
		"lot_usd":      lotSizeUSD,
		"planned_lots": totalLots,
	}).Info("Starting position open")

	acc := accumulator{}
	partial := false
	remaining := totalSizeUSD

	for lotNumber := 1; remaining > lots.DustUSD; lotNumber++ {
		size, ok := planner.NextLotSize(remaining)
		if !ok {
			o.logger.WithField("remaining_usd", remaining).Warn("Remaining size below minimum order, stopping")
			partial = acc.lots < totalLots
			break
		}

		o.progress.SetLot(lotNumber, totalLots)
		o.progress.SetPhase(PhaseBalance)

		if ok, err := o.checkBalances(ctx, symbol, size); err != nil {
			o.logger.WithError(err).Warn("Balance check failed, proceeding with lot")
		} else if !ok {
			o.logger.WithFields(logrus.Fields{
				"lot":     lotNumber,
				"lot_usd": size,
			}).Warn("Insufficient balance for next lot, stopping early")
			partial = true
			break
		}

		o.progress.SetPhase(PhaseExecuting)

		res, err := o.exec.ExecuteLot(ctx, symbol, o.openLegs(size), lotNumber, totalLots)
		if err != nil {
			o.progress.SetPhase(PhaseFailed)
			return acc.summary(true), fmt.Errorf("lot %d/%d: %w", lotNumber, totalLots, err)
		}
		o.progress.SetSpread(res.Spread)

		acc = acc.add(res)
		remaining -= (res.Futures.ExecutedValue() + res.Spot.ExecutedValue()) / 2

		o.logger.WithFields(logrus.Fields{
			"lot":           lotNumber,
			"futures_qty":   res.Futures.ExecutedQty,
			"spot_qty":      res.Spot.ExecutedQty,
			"remaining_usd": remaining,
		}).Info("Lot executed")

		if remaining > lots.DustUSD {
			select {
			case <-ctx.Done():
				return acc.summary(true), ctx.Err()
			case <-time.After(o.lotDelay):
			}
		}
	}

	summary := acc.summary(partial)
	o.progress.SetSummary(summary)
	o.progress.SetPhase(PhaseDone)
	logSummary(o.logger, "Position opened", summary)
	return summary, nil
}

// openLegs sizes both legs of one lot off the prices observed at the
// moment the spread gate passed.
func (o *Open) openLegs(lotSizeUSD float64) executor.LegSizer {
	return func(spread *models.SpreadSample) (executor.LegOrders, error) {
		if !isPositiveFinite(spread.FuturesPrice) || !isPositiveFinite(spread.SpotPrice) {
			return executor.LegOrders{}, fmt.Errorf("invalid gated prices: futures=%.8f spot=%.8f", spread.FuturesPrice, spread.SpotPrice)
		}
		return executor.LegOrders{
			FuturesSide: models.OrderSideSell,
			FuturesQty:  lotSizeUSD / spread.FuturesPrice,
			SpotSide:    models.OrderSideBuy,
			SpotQty:     lotSizeUSD / spread.SpotPrice,
		}, nil
	}
}

// checkBalances verifies both legs can fund roughly half the lot. The
// futures leg posts margin, so half the notional is enough headroom on
// each side. Read errors do not block the lot.
func (o *Open) checkBalances(ctx context.Context, symbol string, lotSizeUSD float64) (bool, error) {
	required := lotSizeUSD / 2

	type result struct {
		leg string
		bal *models.Balance
		err error
	}
	results := make(chan result, 2)

	go func() {
		bal, err := o.futures.GetBalance(ctx, quoteAsset)
		results <- result{"futures", bal, err}
	}()
	go func() {
		bal, err := o.spot.GetBalance(ctx, quoteAsset)
		results <- result{"spot", bal, err}
	}()

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			return false, fmt.Errorf("%s balance: %w", r.leg, r.err)
		}
		free := 0.0
		if r.bal != nil {
			free = r.bal.Free
		}
		if free < required {
			o.logger.WithFields(logrus.Fields{
				"leg":      r.leg,
				"symbol":   symbol,
				"free":     free,
				"required": required,
			}).Warn("Leg balance below requirement")
			return false, nil
		}
	}
	return true, nil
}
