package binance

import (
	"context"

	"github.com/adshao/go-binance/v2"
)

type orderRequest struct {
	symbol        string
	side          binance.SideType
	orderType     binance.OrderType
	quantity      string
	price         string
	clientOrderID string
}

type ocoRequest struct {
	symbol         string
	quantity       string
	price          string
	stopPrice      string
	stopLimitPrice string
	listClientID   string
}

// binanceApi is the subset of the Binance spot API the venue uses.
type binanceApi interface {
	GetAccount(ctx context.Context) (*binance.Account, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*binance.Kline, error)
	CreateOrder(ctx context.Context, req orderRequest) (*binance.CreateOrderResponse, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CreateOCO(ctx context.Context, req ocoRequest) (*binance.CreateOCOResponse, error)
	CancelOCO(ctx context.Context, symbol string, orderListID int64) error
}

type clientApi struct {
	client *binance.Client
}

func newClientApi(apiKey, secret, baseUrl string, testnet bool) *clientApi {
	if testnet {
		binance.UseTestnet = true
	}

	c := binance.NewClient(apiKey, secret)
	if baseUrl != "" {
		c.BaseURL = baseUrl
	}

	return &clientApi{client: c}
}

func (a *clientApi) GetAccount(ctx context.Context) (*binance.Account, error) {
	return a.client.NewGetAccountService().Do(ctx)
}

func (a *clientApi) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*binance.Kline, error) {
	return a.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
}

func (a *clientApi) CreateOrder(ctx context.Context, req orderRequest) (*binance.CreateOrderResponse, error) {
	s := a.client.NewCreateOrderService().
		Symbol(req.symbol).
		Side(req.side).
		Type(req.orderType).
		Quantity(req.quantity).
		NewClientOrderID(req.clientOrderID).
		NewOrderRespType(binance.NewOrderRespTypeFULL)

	if req.orderType == binance.OrderTypeLimit {
		s = s.Price(req.price).TimeInForce(binance.TimeInForceTypeGTC)
	}

	return s.Do(ctx)
}

func (a *clientApi) GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	return a.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
}

func (a *clientApi) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	_, err := a.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	return err
}

func (a *clientApi) CreateOCO(ctx context.Context, req ocoRequest) (*binance.CreateOCOResponse, error) {
	return a.client.NewCreateOCOService().
		Symbol(req.symbol).
		Side(binance.SideTypeSell).
		Quantity(req.quantity).
		Price(req.price).
		StopPrice(req.stopPrice).
		StopLimitPrice(req.stopLimitPrice).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		ListClientOrderID(req.listClientID).
		Do(ctx)
}

func (a *clientApi) CancelOCO(ctx context.Context, symbol string, orderListID int64) error {
	_, err := a.client.NewCancelOCOService().
		Symbol(symbol).
		OrderListID(orderListID).
		Do(ctx)
	return err
}
