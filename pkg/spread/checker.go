package spread

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fundingarb/trader/pkg/models"
)

// PriceSource returns the current traded price for one leg.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Checker observes the live price divergence between the futures and
// spot legs and gates execution on it staying inside a threshold.
type Checker struct {
	futures        PriceSource
	spot           PriceSource
	maxDiffPercent float64
	pollInterval   time.Duration
	logger         *logrus.Logger
}

func NewChecker(futures, spot PriceSource, maxDiffPercent float64, pollInterval time.Duration, logger *logrus.Logger) *Checker {
	return &Checker{
		futures:        futures,
		spot:           spot,
		maxDiffPercent: maxDiffPercent,
		pollInterval:   pollInterval,
		logger:         logger,
	}
}

func (c *Checker) MaxDiffPercent() float64 {
	return c.maxDiffPercent
}

// DiffPercent is the relative divergence between the legs, always
// denominated against the spot price.
func DiffPercent(futuresPrice, spotPrice float64) float64 {
	return math.Abs((futuresPrice-spotPrice)/spotPrice) * 100
}

type priceResult struct {
	price float64
	err   error
}

func (c *Checker) fetchPrices(ctx context.Context, symbol string) (futuresPrice, spotPrice float64, err error) {
	futCh := make(chan priceResult, 1)
	spotCh := make(chan priceResult, 1)
	go func() {
		p, err := c.futures.GetPrice(ctx, symbol)
		futCh <- priceResult{p, err}
	}()
	go func() {
		p, err := c.spot.GetPrice(ctx, symbol)
		spotCh <- priceResult{p, err}
	}()
	fut := <-futCh
	spt := <-spotCh

	if fut.err != nil {
		return 0, 0, fmt.Errorf("failed to get futures price: %w", fut.err)
	}
	if spt.err != nil {
		return 0, 0, fmt.Errorf("failed to get spot price: %w", spt.err)
	}
	if fut.price <= 0 || spt.price <= 0 {
		return 0, 0, fmt.Errorf("invalid prices (futures: %v, spot: %v)", fut.price, spt.price)
	}
	return fut.price, spt.price, nil
}

// Check takes a single fresh spread sample. Prices are never cached
// across calls.
func (c *Checker) Check(ctx context.Context, symbol string) (*models.SpreadSample, error) {
	futuresPrice, spotPrice, err := c.fetchPrices(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to check spread: %w", err)
	}

	diff := DiffPercent(futuresPrice, spotPrice)
	return &models.SpreadSample{
		Symbol:          symbol,
		FuturesPrice:    futuresPrice,
		SpotPrice:       spotPrice,
		DiffPercent:     diff,
		WithinThreshold: diff <= c.maxDiffPercent,
		Timestamp:       time.Now(),
	}, nil
}

// WaitForGoodSpread polls until a sample lands inside the threshold.
// There is no retry cap: the loop runs until the spread converges or
// the context is cancelled. Failed checks are logged and retried at
// the same interval.
func (c *Checker) WaitForGoodSpread(ctx context.Context, symbol string) (*models.SpreadSample, error) {
	for attempt := 1; ; attempt++ {
		sample, err := c.Check(ctx, symbol)
		switch {
		case err != nil:
			c.logger.WithError(err).WithField("attempt", attempt).Error("Spread check failed")
		case sample.WithinThreshold:
			return sample, nil
		default:
			c.logger.WithFields(logrus.Fields{
				"attempt":       attempt,
				"diff_percent":  fmt.Sprintf("%.4f", sample.DiffPercent),
				"futures_price": sample.FuturesPrice,
				"spot_price":    sample.SpotPrice,
			}).Info("Spread too high, waiting")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
