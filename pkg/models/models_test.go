package models

import "testing"

func TestBaseAsset(t *testing.T) {
	cases := []struct {
		symbol, want string
	}{
		{"BTCUSDT", "BTC"},
		{"ETHUSDT", "ETH"},
		{"ASTERBUSD", "ASTER"},
		{"USDT", "USDT"},
		{"BTC", "BTC"},
	}
	for _, tc := range cases {
		if got := BaseAsset(tc.symbol); got != tc.want {
			t.Errorf("BaseAsset(%q) = %q, want %q", tc.symbol, got, tc.want)
		}
	}
}

func TestOrderFilled(t *testing.T) {
	var nilOrder *Order
	if nilOrder.Filled() {
		t.Error("nil order must not report filled")
	}
	if (&Order{Status: OrderStatusFilled, ExecutedQty: 0}).Filled() {
		t.Error("zero executed quantity is a failed fill even when FILLED")
	}
	if !(&Order{Status: OrderStatusNew, ExecutedQty: 0.5}).Filled() {
		t.Error("any executed quantity counts as filled")
	}
}

func TestPositionQty(t *testing.T) {
	var nilPos *Position
	if nilPos.Qty() != 0 {
		t.Error("nil position must have zero quantity")
	}
	if (&Position{PositionAmt: -2.5}).Qty() != 2.5 {
		t.Error("short position quantity must be absolute")
	}
	if (&Position{PositionAmt: 1.5}).Qty() != 1.5 {
		t.Error("long position quantity must pass through")
	}
}
