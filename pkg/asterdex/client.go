package asterdex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fundingarb/trader/pkg/models"
)

// Client is the per-leg venue capability consumed by the trading core.
// Quantities passed to PlaceMarketOrder are rounded to the venue step
// size here, not by the caller.
type Client interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, asset string) (*models.Balance, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)
}

// PositionClient extends Client with the futures-only calls.
type PositionClient interface {
	Client
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
}

const (
	defaultRecvWindow = "5000"
	defaultStepSize   = "0.01"
	requestTimeout    = 30 * time.Second
)

type baseClient struct {
	baseURL    string
	auth       Authenticator
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger

	mu    sync.Mutex
	steps map[string]string // symbol -> cached LOT_SIZE step
}

func newBaseClient(baseURL string, auth Authenticator, requestsPerSecond float64, logger *logrus.Logger) baseClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return baseClient{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:     logger,
		steps:      make(map[string]string),
	}
}

func signedParams() url.Values {
	v := url.Values{}
	v.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	v.Set("recvWindow", defaultRecvWindow)
	return v
}

func (c *baseClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	query := params.Encode()
	if signed {
		query = c.auth.SignQuery(query)
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if signed {
		if err := c.auth.Apply(req, method, path); err != nil {
			return err
		}
	}

	c.logger.WithFields(logrus.Fields{"method": method, "path": path}).Debug("Venue request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var venueErr apiError
		if json.Unmarshal(body, &venueErr) == nil && venueErr.Msg != "" {
			return fmt.Errorf("venue error %d: %s", venueErr.Code, venueErr.Msg)
		}
		return fmt.Errorf("venue returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *baseClient) stepSize(ctx context.Context, exchangeInfoPath, symbol string) string {
	c.mu.Lock()
	if step, ok := c.steps[symbol]; ok {
		c.mu.Unlock()
		return step
	}
	c.mu.Unlock()

	var out exchangeInfoResponse
	if err := c.do(ctx, http.MethodGet, exchangeInfoPath, nil, false, &out); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to load exchange info, using default step size")
		return defaultStepSize
	}

	step := defaultStepSize
	for _, s := range out.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" && f.StepSize != "" {
				step = f.StepSize
			}
		}
	}

	c.mu.Lock()
	c.steps[symbol] = step
	c.mu.Unlock()
	return step
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// FuturesClient talks to the perpetual futures venue.
type FuturesClient struct {
	baseClient
}

func NewFuturesClient(baseURL string, auth Authenticator, requestsPerSecond float64, logger *logrus.Logger) *FuturesClient {
	return &FuturesClient{newBaseClient(baseURL, auth, requestsPerSecond, logger)}
}

func (c *FuturesClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out priceResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", params, false, &out); err != nil {
		return 0, fmt.Errorf("futures price for %s: %w", symbol, err)
	}
	price := parseFloat(out.Price)
	if price <= 0 {
		return 0, fmt.Errorf("futures price for %s: non-positive price %q", symbol, out.Price)
	}
	return price, nil
}

func (c *FuturesClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out markPriceResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false, &out); err != nil {
		return 0, fmt.Errorf("futures mark price for %s: %w", symbol, err)
	}
	price := parseFloat(out.MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("futures mark price for %s: non-positive price %q", symbol, out.MarkPrice)
	}
	return price, nil
}

// GetBalance returns the asset's futures wallet balance, or nil when
// the account holds no such asset.
func (c *FuturesClient) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	var out futuresAccountResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/account", signedParams(), true, &out); err != nil {
		return nil, fmt.Errorf("futures balance: %w", err)
	}
	for _, b := range out.Assets {
		if b.Asset == asset {
			return &models.Balance{
				Asset:  b.Asset,
				Free:   parseFloat(b.AvailableBalance),
				Locked: parseFloat(b.InitialMargin),
			}, nil
		}
	}
	return nil, nil
}

// GetPosition returns the live position for symbol, or nil when the
// venue reports none.
func (c *FuturesClient) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	params := signedParams()
	params.Set("symbol", symbol)

	var out []positionRiskEntry
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/positionRisk", params, true, &out); err != nil {
		return nil, fmt.Errorf("futures position for %s: %w", symbol, err)
	}
	for i := range out {
		if out[i].Symbol == symbol {
			return out[i].toPosition(), nil
		}
	}
	return nil, nil
}

func (c *FuturesClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error) {
	step := c.stepSize(ctx, "/fapi/v1/exchangeInfo", symbol)
	rounded := RoundToStep(quantity, step)
	if rounded <= 0 {
		return nil, fmt.Errorf("futures order %s %s: quantity %.8f rounds to zero at step %s", side, symbol, quantity, step)
	}

	params := signedParams()
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(rounded))
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	var out orderResponse
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &out); err != nil {
		return nil, fmt.Errorf("futures market order (%s %s %s): %w", side, formatQty(rounded), symbol, err)
	}
	order := out.toOrder()
	order.ReduceOnly = reduceOnly
	return order, nil
}

func (c *FuturesClient) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	params := signedParams()
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var out orderResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/order", params, true, &out); err != nil {
		return nil, fmt.Errorf("futures order %s: %w", orderID, err)
	}
	return out.toOrder(), nil
}

// SpotClient talks to the spot venue.
type SpotClient struct {
	baseClient
}

func NewSpotClient(baseURL string, auth Authenticator, requestsPerSecond float64, logger *logrus.Logger) *SpotClient {
	return &SpotClient{newBaseClient(baseURL, auth, requestsPerSecond, logger)}
}

func (c *SpotClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out priceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false, &out); err != nil {
		return 0, fmt.Errorf("spot price for %s: %w", symbol, err)
	}
	price := parseFloat(out.Price)
	if price <= 0 {
		return 0, fmt.Errorf("spot price for %s: non-positive price %q", symbol, out.Price)
	}
	return price, nil
}

// GetBalance returns the asset's spot balance, or nil when the account
// holds no such asset.
func (c *SpotClient) GetBalance(ctx context.Context, asset string) (*models.Balance, error) {
	var out spotAccountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", signedParams(), true, &out); err != nil {
		return nil, fmt.Errorf("spot balance: %w", err)
	}
	for _, b := range out.Balances {
		if b.Asset == asset {
			return &models.Balance{
				Asset:  b.Asset,
				Free:   parseFloat(b.Free),
				Locked: parseFloat(b.Locked),
			}, nil
		}
	}
	return nil, nil
}

// PlaceMarketOrder submits a spot market order. Spot orders cannot
// bypass the venue minimum, so reduceOnly is ignored.
func (c *SpotClient) PlaceMarketOrder(ctx context.Context, symbol string, side models.OrderSide, quantity float64, reduceOnly bool) (*models.Order, error) {
	step := c.stepSize(ctx, "/api/v3/exchangeInfo", symbol)
	rounded := RoundToStep(quantity, step)
	if rounded <= 0 {
		return nil, fmt.Errorf("spot order %s %s: quantity %.8f rounds to zero at step %s", side, symbol, quantity, step)
	}

	params := signedParams()
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", formatQty(rounded))

	var out orderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &out); err != nil {
		return nil, fmt.Errorf("spot market order (%s %s %s): %w", side, formatQty(rounded), symbol, err)
	}
	return out.toOrder(), nil
}

func (c *SpotClient) GetOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	params := signedParams()
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var out orderResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, &out); err != nil {
		return nil, fmt.Errorf("spot order %s: %w", orderID, err)
	}
	return out.toOrder(), nil
}
