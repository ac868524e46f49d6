package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fundingarb/trader/pkg/models"
)

// OrderPlacer places and looks up market orders on one leg.
type OrderPlacer interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
}

// SpreadGate blocks until the two legs trade close enough together.
type SpreadGate interface {
	WaitForGoodSpread(ctx context.Context, symbol string) (*models.SpreadSample, error)
}

// LegOrders is the pair of leg orders making up one lot.
type LegOrders struct {
	FuturesSide       models.OrderSide
	FuturesQty        float64
	FuturesReduceOnly bool
	SpotSide          models.OrderSide
	SpotQty           float64
}

// LegSizer derives the leg orders from the spread sample that opened
// the gate, so quantities are priced at the moment of execution.
type LegSizer func(spread *models.SpreadSample) (LegOrders, error)

// FixedLegs returns a sizer for quantities known ahead of the gate.
func FixedLegs(legs LegOrders) LegSizer {
	return func(*models.SpreadSample) (LegOrders, error) {
		return legs, nil
	}
}

type LotResult struct {
	Futures *models.Order
	Spot    *models.Order
	Spread  *models.SpreadSample
}

// DualLeg submits both legs of a lot together once the spread gate
// opens. Order placement is never retried here: a failed fill is the
// caller's problem to reconcile.
type DualLeg struct {
	futures       OrderPlacer
	spot          OrderPlacer
	gate          SpreadGate
	followUpDelay time.Duration
	logger        *logrus.Logger
}

func NewDualLeg(futures, spot OrderPlacer, gate SpreadGate, followUpDelay time.Duration, logger *logrus.Logger) *DualLeg {
	if followUpDelay <= 0 {
		followUpDelay = 2 * time.Second
	}
	return &DualLeg{
		futures:       futures,
		spot:          spot,
		gate:          gate,
		followUpDelay: followUpDelay,
		logger:        logger,
	}
}

type legOutcome struct {
	order *models.Order
	err   error
}

// ExecuteLot waits for the spread gate, submits both leg orders
// concurrently and verifies both filled. An order still NEW with zero
// fill gets exactly one follow-up status poll before the verdict.
func (d *DualLeg) ExecuteLot(ctx context.Context, symbol string, size LegSizer, lotNumber, totalLots int) (*LotResult, error) {
	d.logger.WithFields(logrus.Fields{
		"lot":        lotNumber,
		"total_lots": totalLots,
		"symbol":     symbol,
	}).Info("Waiting for good spread")

	sample, err := d.gate.WaitForGoodSpread(ctx, symbol)
	if err != nil {
		return nil, err
	}
	d.logger.WithFields(logrus.Fields{
		"diff_percent":  fmt.Sprintf("%.4f", sample.DiffPercent),
		"futures_price": sample.FuturesPrice,
		"spot_price":    sample.SpotPrice,
	}).Info("Good spread found")

	legs, err := size(sample)
	if err != nil {
		return nil, err
	}

	// The hedge window: both legs go out together, with no ordering
	// dependency between them.
	futCh := make(chan legOutcome, 1)
	spotCh := make(chan legOutcome, 1)
	go func() {
		order, err := d.placeAndConfirm(ctx, d.futures, symbol, legs.FuturesSide, legs.FuturesQty, legs.FuturesReduceOnly)
		futCh <- legOutcome{order, err}
	}()
	go func() {
		order, err := d.placeAndConfirm(ctx, d.spot, symbol, legs.SpotSide, legs.SpotQty, false)
		spotCh <- legOutcome{order, err}
	}()
	fut := <-futCh
	spt := <-spotCh

	if fut.err != nil {
		return nil, fmt.Errorf("futures leg: %w", fut.err)
	}
	if spt.err != nil {
		return nil, fmt.Errorf("spot leg: %w", spt.err)
	}
	if !fut.order.Filled() || !spt.order.Filled() {
		return nil, fmt.Errorf(
			"order was not executed (futures qty=%.8f status=%s, spot qty=%.8f status=%s): check balance, API permissions and order details",
			fut.order.ExecutedQty, fut.order.Status, spt.order.ExecutedQty, spt.order.Status)
	}

	return &LotResult{Futures: fut.order, Spot: spt.order, Spread: sample}, nil
}

func (d *DualLeg) placeAndConfirm(ctx context.Context, leg OrderPlacer, symbol string, side models.OrderSide, qty float64, reduceOnly bool) (*models.Order, error) {
	order, err := leg.PlaceMarketOrder(ctx, symbol, side, qty, reduceOnly)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusNew || order.Filled() {
		return order, nil
	}

	// Market orders normally fill synchronously; give a laggy match
	// engine one more look before declaring the fill failed.
	d.logger.WithField("order_id", order.OrderID).Debug("Order still NEW with zero fill, polling status once")
	select {
	case <-ctx.Done():
		return order, ctx.Err()
	case <-time.After(d.followUpDelay):
	}

	updated, err := leg.GetOrder(ctx, symbol, order.OrderID)
	if err != nil {
		d.logger.WithError(err).WithField("order_id", order.OrderID).Warn("Order status follow-up failed")
		return order, nil
	}
	return updated, nil
}
