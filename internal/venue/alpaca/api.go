package alpaca

import (
	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

type alpacaApi interface {
	GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetAccount() (*alpaca.Account, error)
	GetPosition(symbol string) (*alpaca.Position, error)
}

type clientApi struct {
	client *alpaca.Client
	data   *marketdata.Client
}

func newClientApi(apiKey string, secret string, baseUrl string) *clientApi {
	return &clientApi{
		client: alpaca.NewClient(alpaca.ClientOpts{
			BaseURL:   baseUrl,
			APIKey:    apiKey,
			APISecret: secret,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: secret,
		}),
	}
}

func (a *clientApi) GetCryptoBars(symbol string, req marketdata.GetCryptoBarsRequest) ([]marketdata.CryptoBar, error) {
	return a.data.GetCryptoBars(symbol, req)
}

func (a *clientApi) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	return a.client.PlaceOrder(req)
}

func (a *clientApi) GetOrder(orderID string) (*alpaca.Order, error) {
	return a.client.GetOrder(orderID)
}

func (a *clientApi) CancelOrder(orderID string) error {
	return a.client.CancelOrder(orderID)
}

func (a *clientApi) GetAccount() (*alpaca.Account, error) {
	return a.client.GetAccount()
}

func (a *clientApi) GetPosition(symbol string) (*alpaca.Position, error) {
	return a.client.GetPosition(symbol)
}
