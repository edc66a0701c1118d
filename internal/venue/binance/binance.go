// Package binance trades spot pairs on Binance.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/market"
	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BinanceVenue struct {
	log *zap.Logger
	api binanceApi
	now func() time.Time
}

func NewBinanceVenue(log *zap.Logger, cfg config.Binance) *BinanceVenue {
	return newBinanceVenueWithApi(log, newClientApi(cfg.ApiKey, cfg.Secret, cfg.BaseUrl, cfg.Testnet))
}

func newBinanceVenueWithApi(log *zap.Logger, api binanceApi) *BinanceVenue {
	return &BinanceVenue{
		log: log,
		api: api,
		now: time.Now,
	}
}

func (v *BinanceVenue) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	acc, err := v.api.GetAccount(ctx)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.Venue, "failed to get binance account", err)
	}

	for _, b := range acc.Balances {
		if b.Asset != asset {
			continue
		}

		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return decimal.Zero, errs.Wrapf(errs.Venue, err, "invalid %s balance", asset)
		}

		return free, nil
	}

	return decimal.Zero, nil
}

// GetKlines returns closed bars only. A bar that is still forming is dropped.
func (v *BinanceVenue) GetKlines(ctx context.Context, symbol, interval string, lookback int) ([]market.Bar, error) {
	klines, err := v.api.GetKlines(ctx, symbol, interval, lookback)
	if err != nil {
		return nil, errs.Wrapf(errs.Venue, err, "failed to get %s klines", symbol)
	}

	now := v.now()
	bars := make([]market.Bar, 0, len(klines))
	for _, k := range klines {
		if time.UnixMilli(k.CloseTime).After(now) {
			v.log.Debug("skipping open kline", zap.String("symbol", symbol), zap.Int64("open_time", k.OpenTime))
			continue
		}

		b, err := parseKline(k)
		if err != nil {
			return nil, errs.Wrapf(errs.Venue, err, "invalid %s kline", symbol)
		}

		bars = append(bars, b)
	}

	return bars, nil
}

func parseKline(k *binance.Kline) (b market.Bar, err error) {
	b.Time = time.UnixMilli(k.OpenTime).UTC()
	if b.Open, err = decimal.NewFromString(k.Open); err != nil {
		return b, fmt.Errorf("failed to read open price: %w", err)
	}
	if b.High, err = decimal.NewFromString(k.High); err != nil {
		return b, fmt.Errorf("failed to read high price: %w", err)
	}
	if b.Low, err = decimal.NewFromString(k.Low); err != nil {
		return b, fmt.Errorf("failed to read low price: %w", err)
	}
	if b.Close, err = decimal.NewFromString(k.Close); err != nil {
		return b, fmt.Errorf("failed to read close price: %w", err)
	}
	if b.Volume, err = decimal.NewFromString(k.Volume); err != nil {
		return b, fmt.Errorf("failed to read volume: %w", err)
	}

	return b, nil
}

func side(s venue.Side) binance.SideType {
	if s == venue.Sell {
		return binance.SideTypeSell
	}

	return binance.SideTypeBuy
}

func (v *BinanceVenue) SubmitLimitOrder(ctx context.Context, o venue.LimitOrder) (string, error) {
	resp, err := v.api.CreateOrder(ctx, orderRequest{
		symbol:        o.Symbol,
		side:          side(o.Side),
		orderType:     binance.OrderTypeLimit,
		quantity:      o.Quantity.String(),
		price:         o.Price.String(),
		clientOrderID: uuid.NewString(),
	})
	if err != nil {
		return "", errs.Wrapf(errs.Venue, err, "failed to submit %s limit order", o.Symbol)
	}

	return strconv.FormatInt(resp.OrderID, 10), nil
}

func (v *BinanceVenue) GetOrderStatus(ctx context.Context, symbol, orderID string) (venue.OrderUpdate, error) {
	id, err := parseID(orderID)
	if err != nil {
		return venue.OrderUpdate{}, err
	}

	o, err := v.api.GetOrder(ctx, symbol, id)
	if err != nil {
		return venue.OrderUpdate{}, errs.Wrapf(errs.Venue, err, "failed to get order %s", orderID)
	}

	return orderUpdate(o.Status, o.ExecutedQuantity, o.CummulativeQuoteQuantity)
}

func (v *BinanceVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := parseID(orderID)
	if err != nil {
		return err
	}

	if err := v.api.CancelOrder(ctx, symbol, id); err != nil {
		return errs.Wrapf(errs.Venue, err, "failed to cancel order %s", orderID)
	}

	return nil
}

func (v *BinanceVenue) SubmitMarketOrder(ctx context.Context, o venue.MarketOrder) (venue.Fill, error) {
	resp, err := v.api.CreateOrder(ctx, orderRequest{
		symbol:        o.Symbol,
		side:          side(o.Side),
		orderType:     binance.OrderTypeMarket,
		quantity:      o.Quantity.String(),
		clientOrderID: uuid.NewString(),
	})
	if err != nil {
		return venue.Fill{}, errs.Wrapf(errs.Venue, err, "failed to submit %s market order", o.Symbol)
	}

	u, err := orderUpdate(resp.Status, resp.ExecutedQuantity, resp.CummulativeQuoteQuantity)
	if err != nil {
		return venue.Fill{}, err
	}
	if u.AvgPrice.IsNone() {
		return venue.Fill{}, errs.Newf(errs.Venue, "market order %d was not filled: %s", resp.OrderID, resp.Status)
	}

	return venue.Fill{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Price:    u.AvgPrice.Unwrap(),
		Quantity: u.ExecutedQty,
	}, nil
}

// SubmitOCOOrder returns an id of the form "<orderListId>:<leg>:<leg>". The
// leg order ids are kept in the id so the list can be inspected leg by leg.
func (v *BinanceVenue) SubmitOCOOrder(ctx context.Context, o venue.OCOOrder) (string, error) {
	resp, err := v.api.CreateOCO(ctx, ocoRequest{
		symbol:         o.Symbol,
		quantity:       o.Quantity.String(),
		price:          o.TakeProfit.String(),
		stopPrice:      o.StopPrice.String(),
		stopLimitPrice: o.StopLimitPrice.String(),
		listClientID:   uuid.NewString(),
	})
	if err != nil {
		return "", errs.Wrapf(errs.Venue, err, "failed to submit %s oco order", o.Symbol)
	}
	if len(resp.Orders) == 0 {
		return "", errs.Newf(errs.Venue, "oco %d was accepted without legs", resp.OrderListID)
	}

	ref := ocoRef{listID: resp.OrderListID}
	for _, leg := range resp.Orders {
		ref.legs = append(ref.legs, leg.OrderID)
	}

	return ref.String(), nil
}

// GetOCOStatus inspects the legs of an order list. A filled leg carries the
// exit. The list is canceled once every leg is done without a fill.
func (v *BinanceVenue) GetOCOStatus(ctx context.Context, symbol, ocoID string) (venue.OCOUpdate, error) {
	ref, err := parseOCORef(ocoID)
	if err != nil {
		return venue.OCOUpdate{}, err
	}

	done := 0
	for _, leg := range ref.legs {
		o, err := v.api.GetOrder(ctx, symbol, leg)
		if err != nil {
			return venue.OCOUpdate{}, errs.Wrapf(errs.Venue, err, "failed to get oco leg %d", leg)
		}

		u, err := orderUpdate(o.Status, o.ExecutedQuantity, o.CummulativeQuoteQuantity)
		if err != nil {
			return venue.OCOUpdate{}, err
		}

		if u.Status == venue.StatusFilled {
			price, err := legPrice(u, o.Price)
			if err != nil {
				return venue.OCOUpdate{}, err
			}

			return venue.OCOUpdate{
				State: venue.OCOExecuted,
				Exit: optional.Some(venue.Fill{
					OrderID:  strconv.FormatInt(o.OrderID, 10),
					Price:    price,
					Quantity: u.ExecutedQty,
				}),
			}, nil
		}

		if u.Status.Terminal() {
			done++
		}
	}

	if done == len(ref.legs) {
		return venue.OCOUpdate{State: venue.OCOCanceled}, nil
	}

	return venue.OCOUpdate{State: venue.OCOActive}, nil
}

func legPrice(u venue.OrderUpdate, limit string) (decimal.Decimal, error) {
	if u.AvgPrice.IsSome() {
		return u.AvgPrice.Unwrap(), nil
	}

	p, err := decimal.NewFromString(limit)
	if err != nil {
		return decimal.Zero, errs.Wrap(errs.Venue, "invalid oco leg price", err)
	}

	return p, nil
}

func (v *BinanceVenue) CancelOCOOrder(ctx context.Context, symbol, ocoID string) error {
	ref, err := parseOCORef(ocoID)
	if err != nil {
		return err
	}

	if err := v.api.CancelOCO(ctx, symbol, ref.listID); err != nil {
		return errs.Wrapf(errs.Venue, err, "failed to cancel oco %s", ocoID)
	}

	return nil
}

func (v *BinanceVenue) Close() error {
	return nil
}

func parseID(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, errs.Wrapf(errs.InvalidInput, err, "invalid binance order id %q", id)
	}

	return v, nil
}

type ocoRef struct {
	listID int64
	legs   []int64
}

func (r ocoRef) String() string {
	parts := []string{strconv.FormatInt(r.listID, 10)}
	for _, leg := range r.legs {
		parts = append(parts, strconv.FormatInt(leg, 10))
	}

	return strings.Join(parts, ":")
}

func parseOCORef(id string) (ocoRef, error) {
	parts := strings.Split(id, ":")
	if len(parts) < 2 {
		return ocoRef{}, errs.Newf(errs.InvalidInput, "invalid binance oco id %q", id)
	}

	var ref ocoRef
	for i, p := range parts {
		v, err := parseID(p)
		if err != nil {
			return ocoRef{}, err
		}

		if i == 0 {
			ref.listID = v
			continue
		}
		ref.legs = append(ref.legs, v)
	}

	return ref, nil
}

func orderUpdate(status binance.OrderStatusType, executed, cumQuote string) (venue.OrderUpdate, error) {
	u := venue.OrderUpdate{
		Status:      orderStatus(status),
		ExecutedQty: decimal.Zero,
		AvgPrice:    optional.None[decimal.Decimal](),
	}

	if executed == "" {
		return u, nil
	}

	qty, err := decimal.NewFromString(executed)
	if err != nil {
		return u, errs.Wrap(errs.Venue, "invalid executed quantity", err)
	}
	u.ExecutedQty = qty

	if qty.IsZero() || cumQuote == "" {
		return u, nil
	}

	quote, err := decimal.NewFromString(cumQuote)
	if err != nil {
		return u, errs.Wrap(errs.Venue, "invalid cumulative quote quantity", err)
	}
	u.AvgPrice = optional.Some(quote.Div(qty))

	return u, nil
}

func orderStatus(s binance.OrderStatusType) venue.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew:
		return venue.StatusNew
	case binance.OrderStatusTypePartiallyFilled:
		return venue.StatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return venue.StatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel:
		return venue.StatusCanceled
	case binance.OrderStatusTypeRejected:
		return venue.StatusRejected
	case binance.OrderStatusTypeExpired, binance.OrderStatusExpiredInMatch:
		return venue.StatusExpired
	default:
		return venue.StatusNew
	}
}
