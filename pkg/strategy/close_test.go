package strategy

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/fundingarb/trader/pkg/executor"
	"github.com/fundingarb/trader/pkg/lots"
	"github.com/fundingarb/trader/pkg/models"
)

type placedOrder struct {
	side       models.OrderSide
	qty        float64
	reduceOnly bool
}

// fakeFutures holds a live short position that shrinks as orders fill.
type fakeFutures struct {
	mu      sync.Mutex
	price   float64
	posQty  float64
	posErrs int
	placed  []placedOrder
}

func (f *fakeFutures) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func (f *fakeFutures) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErrs > 0 {
		f.posErrs--
		return nil, errors.New("position endpoint timeout")
	}
	if f.posQty <= 0 {
		return nil, nil
	}
	return &models.Position{Symbol: symbol, PositionAmt: -f.posQty, MarkPrice: f.price}, nil
}

func (f *fakeFutures) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, placedOrder{side, quantity, reduceOnly})
	f.posQty -= quantity
	return &models.Order{
		Side: side, Price: f.price, Size: quantity,
		ExecutedQty: quantity, Status: models.OrderStatusFilled, ReduceOnly: reduceOnly,
	}, nil
}

// fakeSpot holds a base-asset balance that shrinks as sells fill.
type fakeSpot struct {
	mu     sync.Mutex
	price  float64
	free   float64
	placed []placedOrder
}

func (f *fakeSpot) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Balance{Asset: asset, Free: f.free}, nil
}

func (f *fakeSpot) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, placedOrder{side, quantity, reduceOnly})
	f.free -= quantity
	return &models.Order{
		Side: side, Price: f.price, Size: quantity,
		ExecutedQty: quantity, Status: models.OrderStatusFilled,
	}, nil
}

// closeExec routes executed lots through the mutating leg fakes so the
// position the strategy re-reads between lots actually shrinks.
type closeExec struct {
	futures *fakeFutures
	spot    *fakeSpot
	lots    []executor.LegOrders
}

func (e *closeExec) ExecuteLot(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error) {
	sample := &models.SpreadSample{
		Symbol:       symbol,
		FuturesPrice: e.futures.price, SpotPrice: e.spot.price,
		WithinThreshold: true,
	}
	legs, err := size(sample)
	if err != nil {
		return nil, err
	}
	e.lots = append(e.lots, legs)

	fut, err := e.futures.PlaceMarketOrder(ctx, symbol, legs.FuturesSide, legs.FuturesQty, legs.FuturesReduceOnly)
	if err != nil {
		return nil, err
	}
	spot, err := e.spot.PlaceMarketOrder(ctx, symbol, legs.SpotSide, legs.SpotQty, false)
	if err != nil {
		return nil, err
	}
	return &executor.LotResult{Futures: fut, Spot: spot, Spread: sample}, nil
}

func newCloseFixture(posQty, spotFree, price float64) (*fakeFutures, *fakeSpot, *closeExec, *Close) {
	futures := &fakeFutures{price: price, posQty: posQty}
	spot := &fakeSpot{price: price, free: spotFree}
	exec := &closeExec{futures: futures, spot: spot}
	cls := NewClose(futures, spot, exec, 0, 0, 3, testLogger())
	return futures, spot, exec, cls
}

func TestCloseRunFullClose(t *testing.T) {
	futures, spot, exec, cls := newCloseFixture(10, 10, 100)

	summary, err := cls.Run(context.Background(), "BTCUSDT", 100, 20)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if summary.TotalLots != 5 {
		t.Errorf("TotalLots = %d, want 5", summary.TotalLots)
	}
	if math.Abs(summary.TotalFuturesQty-10) > 1e-6 {
		t.Errorf("TotalFuturesQty = %.6f, want 10", summary.TotalFuturesQty)
	}
	if math.Abs(summary.TotalSpotQty-10) > 1e-6 {
		t.Errorf("TotalSpotQty = %.6f, want 10", summary.TotalSpotQty)
	}
	if futures.posQty > 1e-6 {
		t.Errorf("futures position left open: %.6f", futures.posQty)
	}
	if spot.free > 1e-6 {
		t.Errorf("spot balance left: %.6f", spot.free)
	}

	for i, l := range exec.lots {
		if l.FuturesSide != models.OrderSideBuy || l.SpotSide != models.OrderSideSell {
			t.Errorf("lot %d sides = (%s, %s), want (BUY, SELL)", i+1, l.FuturesSide, l.SpotSide)
		}
		if !l.FuturesReduceOnly {
			t.Errorf("lot %d futures leg must be reduce-only", i+1)
		}
		if math.Abs(l.FuturesQty-2.0) > 1e-6 {
			t.Errorf("lot %d futures qty = %.6f, want 2.0", i+1, l.FuturesQty)
		}
	}
}

func TestCloseRunPartialClose(t *testing.T) {
	futures, _, _, cls := newCloseFixture(10, 10, 100)

	summary, err := cls.Run(context.Background(), "BTCUSDT", 50, 10)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.TotalLots != 5 {
		t.Errorf("TotalLots = %d, want 5", summary.TotalLots)
	}
	if math.Abs(summary.TotalFuturesQty-5) > 1e-6 {
		t.Errorf("closed %.6f futures units, want 5 (50%% of 10)", summary.TotalFuturesQty)
	}
	if math.Abs(futures.posQty-5) > 1e-6 {
		t.Errorf("futures position = %.6f, want 5 left open", futures.posQty)
	}
}

func TestCloseRunNoPositions(t *testing.T) {
	_, _, _, cls := newCloseFixture(0, 0, 100)

	_, err := cls.Run(context.Background(), "BTCUSDT", 100, 20)
	if err == nil || !strings.Contains(err.Error(), "no positions found") {
		t.Errorf("Run() error = %v, want no-positions error", err)
	}
}

func TestCloseRunFirstLotBelowFloor(t *testing.T) {
	// A $3 position cannot produce a first lot above the $5 floor even
	// at 100% per lot: fail upfront with a suggestion, placing nothing.
	futures, spot, exec, cls := newCloseFixture(0.03, 0.03, 100)

	_, err := cls.Run(context.Background(), "BTCUSDT", 100, 50)
	var floorErr *lots.FloorError
	if !errors.As(err, &floorErr) {
		t.Fatalf("Run() error = %v, want *lots.FloorError", err)
	}
	if floorErr.SuggestedLotPercent != 100 {
		t.Errorf("SuggestedLotPercent = %.0f, want 100", floorErr.SuggestedLotPercent)
	}
	if len(futures.placed) != 0 || len(spot.placed) != 0 || len(exec.lots) != 0 {
		t.Error("no orders may be placed when the first lot is below the floor")
	}
}

func TestCloseRunFirstLotSpotAlreadyGone(t *testing.T) {
	// A live short with an empty spot leg: the first planned lot has a
	// $0 spot value, but the futures leg must still be flattened with a
	// reduce-only order instead of failing with a lot-size suggestion.
	futures, spot, exec, cls := newCloseFixture(10, 0, 100)

	summary, err := cls.Run(context.Background(), "BTCUSDT", 100, 20)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(exec.lots) != 0 {
		t.Errorf("executed %d paired lots, want 0", len(exec.lots))
	}
	if len(futures.placed) != 1 {
		t.Fatalf("futures orders = %d, want 1", len(futures.placed))
	}
	got := futures.placed[0]
	if got.side != models.OrderSideBuy || !got.reduceOnly {
		t.Errorf("unwind order = %+v, want reduce-only BUY", got)
	}
	if math.Abs(got.qty-10) > 1e-9 {
		t.Errorf("unwind qty = %.6f, want the full 10-unit remainder", got.qty)
	}
	if len(spot.placed) != 0 {
		t.Errorf("spot orders = %d, want 0", len(spot.placed))
	}
	if math.Abs(summary.TotalFuturesQty-10) > 1e-9 {
		t.Errorf("TotalFuturesQty = %.6f, want 10", summary.TotalFuturesQty)
	}
}

func TestCloseRunAbsorbsUpwardDrift(t *testing.T) {
	// The position doubles behind the strategy's back after the first
	// lot; subsequent lots must be sized off the grown live snapshot,
	// not the internally tracked remainder.
	futures, spot, exec, cls := newCloseFixture(10, 10, 100)

	grown := false
	cls.exec = execFunc(func(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error) {
		res, err := exec.ExecuteLot(ctx, symbol, size, lotNumber, totalLots)
		if err == nil && !grown {
			futures.mu.Lock()
			futures.posQty = 16
			futures.mu.Unlock()
			spot.mu.Lock()
			spot.free = 16
			spot.mu.Unlock()
			grown = true
		}
		return res, err
	})

	if _, err := cls.Run(context.Background(), "BTCUSDT", 100, 20); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(exec.lots) < 2 {
		t.Fatalf("executed %d lots, want at least 2", len(exec.lots))
	}
	// Lot 2 takes 20/80 of the grown 16 units, not of the tracked 8.
	if got := exec.lots[1].FuturesQty; math.Abs(got-4) > 1e-6 {
		t.Errorf("lot 2 futures qty = %.6f, want 4 from the live 16-unit position", got)
	}
}

func TestCloseRunUnwindWhenSpotDepleted(t *testing.T) {
	// The spot leg is emptied after the first lot; the remaining short
	// must be flattened with a reduce-only order, ignoring the spread.
	futures, spot, exec, cls := newCloseFixture(10, 10, 100)

	// Drain the spot balance behind the strategy's back after lot 1.
	drained := false
	cls.exec = &drainingExec{inner: exec, spot: spot, drained: &drained}

	summary, err := cls.Run(context.Background(), "BTCUSDT", 100, 20)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(exec.lots) != 1 {
		t.Fatalf("executed %d paired lots, want 1 before the unwind", len(exec.lots))
	}
	last := futures.placed[len(futures.placed)-1]
	if last.side != models.OrderSideBuy || !last.reduceOnly {
		t.Errorf("unwind order = %+v, want reduce-only BUY", last)
	}
	if futures.posQty > 1e-6 {
		t.Errorf("futures position left open after unwind: %.6f", futures.posQty)
	}
	if summary.TotalLots != 1 {
		t.Errorf("TotalLots = %d, want 1: unwind fills do not count as lots", summary.TotalLots)
	}
	if math.Abs(summary.TotalFuturesQty-10) > 1e-6 {
		t.Errorf("TotalFuturesQty = %.6f, want 10 including the unwind fill", summary.TotalFuturesQty)
	}
}

// drainingExec empties the spot balance right after the first lot,
// simulating a concurrent withdrawal.
type drainingExec struct {
	inner   *closeExec
	spot    *fakeSpot
	drained *bool
}

func (d *drainingExec) ExecuteLot(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error) {
	res, err := d.inner.ExecuteLot(ctx, symbol, size, lotNumber, totalLots)
	if err == nil && !*d.drained {
		d.spot.mu.Lock()
		d.spot.free = 0
		d.spot.mu.Unlock()
		*d.drained = true
	}
	return res, err
}

func TestCloseRunBelowFloorUnwindOnLaterLot(t *testing.T) {
	// External activity shrinks both legs to $4 after the first lot.
	// The next planned lot lands below the floor, so the futures
	// remainder closes reduce-only and the spot remainder is left as a
	// manual action.
	futures, spot, exec, cls := newCloseFixture(10, 10, 100)

	shrunk := false
	cls.exec = execFunc(func(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error) {
		res, err := exec.ExecuteLot(ctx, symbol, size, lotNumber, totalLots)
		if err == nil && !shrunk {
			futures.mu.Lock()
			futures.posQty = 0.04
			futures.mu.Unlock()
			spot.mu.Lock()
			spot.free = 0.04
			spot.mu.Unlock()
			shrunk = true
		}
		return res, err
	})

	summary, err := cls.Run(context.Background(), "BTCUSDT", 100, 20)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(exec.lots) != 1 {
		t.Fatalf("executed %d paired lots, want 1 before the unwind", len(exec.lots))
	}
	last := futures.placed[len(futures.placed)-1]
	if last.side != models.OrderSideBuy || !last.reduceOnly {
		t.Errorf("unwind order = %+v, want reduce-only BUY", last)
	}
	if math.Abs(last.qty-0.04) > 1e-9 {
		t.Errorf("unwind qty = %.6f, want the full 0.04 remainder", last.qty)
	}
	if len(spot.placed) != 1 {
		t.Errorf("spot orders = %d, want 1: a sub-floor spot remainder is never submitted", len(spot.placed))
	}
	if summary.TotalLots != 1 {
		t.Errorf("TotalLots = %d, want 1", summary.TotalLots)
	}
}

type execFunc func(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error)

func (f execFunc) ExecuteLot(ctx context.Context, symbol string, size executor.LegSizer, lotNumber, totalLots int) (*executor.LotResult, error) {
	return f(ctx, symbol, size, lotNumber, totalLots)
}

func TestCloseRunSnapshotRetries(t *testing.T) {
	futures, _, _, cls := newCloseFixture(10, 10, 100)
	futures.posErrs = 2 // first two reads fail, third succeeds

	summary, err := cls.Run(context.Background(), "BTCUSDT", 100, 50)
	if err != nil {
		t.Fatalf("Run() error after retries: %v", err)
	}
	if summary.TotalLots != 2 {
		t.Errorf("TotalLots = %d, want 2", summary.TotalLots)
	}
}

func TestCloseRunSnapshotRetriesExhausted(t *testing.T) {
	futures, _, _, cls := newCloseFixture(10, 10, 100)
	futures.posErrs = 10 // more failures than maxRetries

	_, err := cls.Run(context.Background(), "BTCUSDT", 100, 50)
	if err == nil || !strings.Contains(err.Error(), "failed to read positions") {
		t.Errorf("Run() error = %v, want retry exhaustion", err)
	}
}
