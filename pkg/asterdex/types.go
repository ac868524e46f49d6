package asterdex

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/trader/pkg/models"
)

// Venue responses carry numbers as strings.

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type markPriceResponse struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
}

type futuresAccountResponse struct {
	Assets []futuresAssetBalance `json:"assets"`
}

type futuresAssetBalance struct {
	Asset            string `json:"asset"`
	AvailableBalance string `json:"availableBalance"`
	InitialMargin    string `json:"initialMargin"`
}

type spotAccountResponse struct {
	Balances []spotAssetBalance `json:"balances"`
}

type spotAssetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type positionRiskEntry struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	Notional         string `json:"notional"`
	UnrealizedProfit string `json:"unRealizedProfit"`
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
}

type exchangeInfoResponse struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol  string         `json:"symbol"`
	Filters []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string `json:"filterType"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// toOrder maps a venue order payload onto the domain order. Some venue
// deployments omit avgPrice on market fills and executedQty on NEW
// acknowledgements, so both fall back to their nearest sibling field.
func (r *orderResponse) toOrder() *models.Order {
	price := parseFloat(r.AvgPrice)
	if price == 0 {
		price = parseFloat(r.Price)
	}
	executed := r.ExecutedQty
	if executed == "" {
		executed = r.OrigQty
	}
	return &models.Order{
		OrderID:     strconv.FormatInt(r.OrderID, 10),
		Symbol:      r.Symbol,
		Side:        models.OrderSide(r.Side),
		Type:        models.OrderTypeMarket,
		Price:       price,
		Size:        parseFloat(r.OrigQty),
		ExecutedQty: parseFloat(executed),
		Status:      models.OrderStatus(r.Status),
		CreatedAt:   time.Now(),
	}
}

// resolveQty disambiguates positionAmt, which the venue reports as a
// base quantity for some contracts and a USD notional for others. If
// the notional field is present and disagrees with positionAmt, trust
// it; if positionAmt priced at mark is an order of magnitude larger
// than positionAmt itself, positionAmt was already a notional.
func resolveQty(positionAmt, notional, markPrice float64) float64 {
	amt := math.Abs(positionAmt)
	if markPrice <= 0 {
		return amt
	}
	if notional != 0 && math.Abs(notional) != amt {
		return math.Abs(notional) / markPrice
	}
	if math.Abs(positionAmt*markPrice) > amt*10 {
		return amt / markPrice
	}
	return amt
}

func (p *positionRiskEntry) toPosition() *models.Position {
	positionAmt := parseFloat(p.PositionAmt)
	markPrice := parseFloat(p.MarkPrice)
	qty := resolveQty(positionAmt, parseFloat(p.Notional), markPrice)
	if positionAmt < 0 {
		qty = -qty
	}
	return &models.Position{
		Symbol:        p.Symbol,
		PositionAmt:   qty,
		EntryPrice:    parseFloat(p.EntryPrice),
		MarkPrice:     markPrice,
		UnrealizedPnl: parseFloat(p.UnrealizedProfit),
		UpdatedAt:     time.Now(),
	}
}

// RoundToStep floors qty to the venue step size. Decimal arithmetic
// avoids the drift the naive floor(qty/step)*step float computation
// produces near step boundaries.
func RoundToStep(qty float64, step string) float64 {
	stepDec, err := decimal.NewFromString(step)
	if err != nil || stepDec.IsZero() {
		return qty
	}
	return decimal.NewFromFloat(qty).Div(stepDec).Floor().Mul(stepDec).InexactFloat64()
}
