package engine

import (
	"context"
	"errors"

	"github.com/gamma-omg/cycle-trader/internal/config"
	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/gamma-omg/cycle-trader/internal/venue"
	"github.com/gamma-omg/cycle-trader/internal/venue/alpaca"
	"github.com/gamma-omg/cycle-trader/internal/venue/binance"
	"github.com/gamma-omg/cycle-trader/internal/venue/emulator"
	"go.uber.org/zap"
)

// VenueOpener returns a venue client scoped to one cycle. The cycle closes it
// on every exit path.
type VenueOpener func(ctx context.Context) (venue.Venue, error)

func CreateVenue(log *zap.Logger, cfg config.VenueReference) (venue.Venue, error) {
	binanceCfg, ok := cfg.Venue.(config.Binance)
	if ok {
		return binance.NewBinanceVenue(log, binanceCfg), nil
	}

	alpacaCfg, ok := cfg.Venue.(config.Alpaca)
	if ok {
		return alpaca.NewAlpacaVenue(log, alpacaCfg), nil
	}

	emulatorCfg, ok := cfg.Venue.(config.Emulator)
	if ok {
		return emulator.NewEmulator(log, emulatorCfg)
	}

	return nil, errs.Wrap(errs.Config, "unknown venue", errors.New("venue section is empty"))
}

// NewVenueOpener creates a fresh client per cycle for remote venues. The
// emulator keeps replay state, so it is created once and shared.
func NewVenueOpener(log *zap.Logger, cfg config.VenueReference) (VenueOpener, error) {
	if _, ok := cfg.Venue.(config.Emulator); ok {
		v, err := CreateVenue(log, cfg)
		if err != nil {
			return nil, err
		}

		return SharedVenue(v), nil
	}

	return func(context.Context) (venue.Venue, error) {
		return CreateVenue(log, cfg)
	}, nil
}

// SharedVenue hands out v to every cycle without closing it in between.
func SharedVenue(v venue.Venue) VenueOpener {
	return func(context.Context) (venue.Venue, error) {
		return sharedVenue{v}, nil
	}
}

type sharedVenue struct {
	venue.Venue
}

func (sharedVenue) Close() error {
	return nil
}
