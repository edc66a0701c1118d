// Package alpaca trades crypto pairs through the Alpaca brokerage API.
package alpaca

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var quoteAssets = map[string]bool{"USD": true, "USDT": true, "USDC": true}

type AlpacaVenue struct {
	log         *zap.Logger
	api         alpacaApi
	now         func() time.Time
	fillPoll    time.Duration
	fillTimeout time.Duration
}

func NewAlpacaVenue(log *zap.Logger, cfg config.Alpaca) *AlpacaVenue {
	return newAlpacaVenueWithApi(log, newClientApi(cfg.ApiKey, cfg.Secret, cfg.BaseUrl))
}

func newAlpacaVenueWithApi(log *zap.Logger, api alpacaApi) *AlpacaVenue {
	return &AlpacaVenue{
		log:         log,
		api:         api,
		now:         time.Now,
		fillPoll:    time.Second,
		fillTimeout: 5 * time.Second,
	}
}

func (v *AlpacaVenue) GetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	if quoteAssets[asset] {
		acc, err := v.api.GetAccount()
		if err != nil {
			return decimal.Zero, errs.Wrap(errs.Venue, "failed to get alpaca account", err)
		}

		return acc.Cash, nil
	}

	p, err := v.api.GetPosition(asset)
	if err != nil {
		return decimal.Zero, errs.Wrapf(errs.Venue, err, "failed to get %s position", asset)
	}

	return p.Qty, nil
}

func timeFrame(interval string) (marketdata.TimeFrame, time.Duration, error) {
	switch interval {
	case "1m":
		return marketdata.OneMin, time.Minute, nil
	case "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), 5 * time.Minute, nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), 15 * time.Minute, nil
	case "1h":
		return marketdata.OneHour, time.Hour, nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), 4 * time.Hour, nil
	case "1d":
		return marketdata.OneDay, 24 * time.Hour, nil
	default:
		return marketdata.TimeFrame{}, 0, fmt.Errorf("unsupported interval %s", interval)
	}
}

func (v *AlpacaVenue) GetKlines(_ context.Context, symbol, interval string, lookback int) ([]market.Bar, error) {
	tf, d, err := timeFrame(interval)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "invalid kline interval", err)
	}

	end := v.now().Truncate(d)
	history, err := v.api.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     end.Add(-time.Duration(lookback) * d),
		End:       end,
	})
	if err != nil {
		return nil, errs.Wrapf(errs.Venue, err, "failed to get %s bars", symbol)
	}

	if len(history) > lookback {
		history = history[len(history)-lookback:]
	}

	bars := make([]market.Bar, 0, len(history))
	for _, cb := range history {
		if !cb.Timestamp.Add(d).After(end) {
			bars = append(bars, market.Bar{
				Time:   cb.Timestamp,
				Open:   decimal.NewFromFloat(cb.Open),
				High:   decimal.NewFromFloat(cb.High),
				Low:    decimal.NewFromFloat(cb.Low),
				Close:  decimal.NewFromFloat(cb.Close),
				Volume: decimal.NewFromFloat(cb.Volume),
			})
		}
	}

	return bars, nil
}

func side(s venue.Side) alpaca.Side {
	if s == venue.Sell {
		return alpaca.Sell
	}

	return alpaca.Buy
}

func (v *AlpacaVenue) SubmitLimitOrder(_ context.Context, o venue.LimitOrder) (string, error) {
	qty, price := o.Quantity, o.Price
	ord, err := v.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        o.Symbol,
		Qty:           &qty,
		Side:          side(o.Side),
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.GTC,
		LimitPrice:    &price,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return "", errs.Wrapf(errs.Venue, err, "failed to place %s limit order", o.Symbol)
	}

	return ord.ID, nil
}

func (v *AlpacaVenue) GetOrderStatus(_ context.Context, _ string, orderID string) (venue.OrderUpdate, error) {
	ord, err := v.api.GetOrder(orderID)
	if err != nil {
		return venue.OrderUpdate{}, errs.Wrapf(errs.Venue, err, "failed to get order %s", orderID)
	}

	return orderUpdate(ord), nil
}

func (v *AlpacaVenue) CancelOrder(_ context.Context, _ string, orderID string) error {
	if err := v.api.CancelOrder(orderID); err != nil {
		return errs.Wrapf(errs.Venue, err, "failed to cancel order %s", orderID)
	}

	return nil
}

func (v *AlpacaVenue) SubmitMarketOrder(ctx context.Context, o venue.MarketOrder) (venue.Fill, error) {
	qty := o.Quantity
	ord, err := v.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        o.Symbol,
		Qty:           &qty,
		Side:          side(o.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.IOC,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return venue.Fill{}, errs.Wrapf(errs.Venue, err, "failed to place %s market order", o.Symbol)
	}

	ctx, cancel := context.WithTimeout(ctx, v.fillTimeout)
	defer cancel()

	ord, err = v.waitFillOrder(ctx, ord)
	if err != nil {
		return venue.Fill{}, err
	}

	return venue.Fill{
		OrderID:  ord.ID,
		Price:    *ord.FilledAvgPrice,
		Quantity: ord.FilledQty,
	}, nil
}

func (v *AlpacaVenue) SubmitOCOOrder(_ context.Context, o venue.OCOOrder) (string, error) {
	qty, tp, stop, stopLimit := o.Quantity, o.TakeProfit, o.StopPrice, o.StopLimitPrice
	ord, err := v.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        o.Symbol,
		Qty:           &qty,
		Side:          alpaca.Sell,
		Type:          alpaca.Limit,
		TimeInForce:   alpaca.GTC,
		OrderClass:    alpaca.OCO,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: &tp},
		StopLoss:      &alpaca.StopLoss{StopPrice: &stop, LimitPrice: &stopLimit},
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return "", errs.Wrapf(errs.Venue, err, "failed to place %s oco order", o.Symbol)
	}

	return ord.ID, nil
}

// GetOCOStatus treats the parent order and its legs as one unit: any filled
// leg means the position was exited.
func (v *AlpacaVenue) GetOCOStatus(_ context.Context, _ string, ocoID string) (venue.OCOUpdate, error) {
	parent, err := v.api.GetOrder(ocoID)
	if err != nil {
		return venue.OCOUpdate{}, errs.Wrapf(errs.Venue, err, "failed to get oco %s", ocoID)
	}

	orders := append([]alpaca.Order{*parent}, parent.Legs...)
	for _, o := range orders {
		u := orderUpdate(&o)
		if u.Status == venue.StatusFilled && u.AvgPrice.IsSome() {
			return venue.OCOUpdate{
				State: venue.OCOExecuted,
				Exit: optional.Some(venue.Fill{
					OrderID:  o.ID,
					Price:    u.AvgPrice.Unwrap(),
					Quantity: u.ExecutedQty,
				}),
			}, nil
		}
	}

	if orderStatus(parent.Status).Terminal() {
		return venue.OCOUpdate{State: venue.OCOCanceled}, nil
	}

	return venue.OCOUpdate{State: venue.OCOActive}, nil
}

func (v *AlpacaVenue) CancelOCOOrder(ctx context.Context, symbol, ocoID string) error {
	return v.CancelOrder(ctx, symbol, ocoID)
}

func (v *AlpacaVenue) Close() error {
	return nil
}

func (v *AlpacaVenue) waitFillOrder(ctx context.Context, o *alpaca.Order) (*alpaca.Order, error) {
	ticker := time.NewTicker(v.fillPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errs.Wrapf(errs.Timeout, ctx.Err(), "order %s was not filled", o.ID)
		case <-ticker.C:
			order, err := v.api.GetOrder(o.ID)
			if err != nil {
				return nil, errs.Wrapf(errs.Venue, err, "failed to update order %s", o.ID)
			}

			if order.FilledAt != nil && order.FilledAvgPrice != nil {
				return order, nil
			}

			if orderStatus(order.Status).Terminal() {
				return nil, errs.Newf(errs.Venue, "order %s ended as %s", o.ID, order.Status)
			}

			v.log.Debug("waiting for order fill", zap.String("order_id", o.ID), zap.String("status", order.Status))
		}
	}
}

func orderUpdate(o *alpaca.Order) venue.OrderUpdate {
	u := venue.OrderUpdate{
		Status:      orderStatus(o.Status),
		ExecutedQty: o.FilledQty,
		AvgPrice:    optional.None[decimal.Decimal](),
	}
	if o.FilledAvgPrice != nil {
		u.AvgPrice = optional.Some(*o.FilledAvgPrice)
	}

	return u
}

func orderStatus(s string) venue.OrderStatus {
	switch s {
	case "partially_filled":
		return venue.StatusPartiallyFilled
	case "filled":
		return venue.StatusFilled
	case "canceled", "pending_cancel", "replaced", "done_for_day":
		return venue.StatusCanceled
	case "rejected":
		return venue.StatusRejected
	case "expired":
		return venue.StatusExpired
	default:
		return venue.StatusNew
	}
}
