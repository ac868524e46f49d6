package asterdex

import (
	"math"
	"testing"

	"github.com/fundingarb/trader/pkg/models"
)

func TestParseFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"0", 0},
		{"1.5", 1.5},
		{"-2.25", -2.25},
		{"garbage", 0},
	}
	for _, tc := range cases {
		if got := parseFloat(tc.in); got != tc.want {
			t.Errorf("parseFloat(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToOrderAvgPriceFallback(t *testing.T) {
	r := &orderResponse{
		OrderID: 42, Symbol: "BTCUSDT", Side: "BUY", Status: "FILLED",
		Price: "100.5", AvgPrice: "", OrigQty: "2", ExecutedQty: "2",
	}
	order := r.toOrder()
	if order.Price != 100.5 {
		t.Errorf("Price = %v, want 100.5 from the price field fallback", order.Price)
	}
	if order.OrderID != "42" {
		t.Errorf("OrderID = %q, want \"42\"", order.OrderID)
	}
	if order.Side != models.OrderSideBuy {
		t.Errorf("Side = %q, want BUY", order.Side)
	}
}

func TestToOrderExecutedQtyFallback(t *testing.T) {
	// An absent executedQty falls back to origQty.
	r := &orderResponse{OrderID: 1, Status: "FILLED", OrigQty: "3", ExecutedQty: ""}
	if got := r.toOrder().ExecutedQty; got != 3 {
		t.Errorf("ExecutedQty = %v, want 3 from origQty fallback", got)
	}

	// A literal "0" is a real zero fill, not an absent field.
	r = &orderResponse{OrderID: 1, Status: "NEW", OrigQty: "3", ExecutedQty: "0"}
	if got := r.toOrder().ExecutedQty; got != 0 {
		t.Errorf("ExecutedQty = %v, want 0 for an explicit zero", got)
	}
}

func TestResolveQty(t *testing.T) {
	cases := []struct {
		name        string
		positionAmt float64
		notional    float64
		markPrice   float64
		want        float64
	}{
		{"plain base quantity", -2, 0, 3, 2},
		{"notional disagrees with amt", -200, -200.5, 100, 2.005},
		{"amt is already a notional", -500, 0, 100, 5},
		{"zero mark price", -2, 0, 0, 2},
		{"notional equals amt", -2, -2, 3, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveQty(tc.positionAmt, tc.notional, tc.markPrice)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("resolveQty(%v, %v, %v) = %v, want %v", tc.positionAmt, tc.notional, tc.markPrice, got, tc.want)
			}
		})
	}
}

func TestToPositionRestoresSign(t *testing.T) {
	p := &positionRiskEntry{
		Symbol: "BTCUSDT", PositionAmt: "-2", EntryPrice: "100", MarkPrice: "101",
	}
	pos := p.toPosition()
	if pos.PositionAmt != -2 {
		t.Errorf("PositionAmt = %v, want -2", pos.PositionAmt)
	}
	if pos.Qty() != 2 {
		t.Errorf("Qty() = %v, want 2", pos.Qty())
	}
}

func TestRoundToStep(t *testing.T) {
	cases := []struct {
		qty  float64
		step string
		want float64
	}{
		{2.3, "0.1", 2.3},
		{2.37, "0.1", 2.3},
		{0.0049, "0.001", 0.004},
		{5, "1", 5},
		{0.009, "0.01", 0},
		{2.3, "", 2.3},
		{2.3, "0", 2.3},
	}
	for _, tc := range cases {
		got := RoundToStep(tc.qty, tc.step)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("RoundToStep(%v, %q) = %v, want %v", tc.qty, tc.step, got, tc.want)
		}
	}
}
