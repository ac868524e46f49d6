package models

import (
	"strings"
)

// BaseAsset strips the quote-currency suffix from a trading pair
// symbol, e.g. "BTCUSDT" -> "BTC". The base asset names the spot
// balance that backs the long leg.
func BaseAsset(symbol string) string {
	for _, quote := range []string{"USDT", "BUSD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}
