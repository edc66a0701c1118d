package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gamma-omg/cycle-trader/internal/errs"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging    Logging        `yaml:"logging"`
	VenueRef   VenueReference `yaml:"venue"`
	Market     Market         `yaml:"market"`
	Risk       Risk           `yaml:"risk"`
	Orders     Orders         `yaml:"orders"`
	Ledger     Ledger         `yaml:"ledger"`
	Admin      Admin          `yaml:"admin"`
	Report     Report         `yaml:"report"`
	Debug      Debug          `yaml:"debug"`
	Strategies []Strategy     `yaml:"strategies" validate:"required,min=1,dive"`
}

func Read(r io.Reader) (*Config, error) {
	var cfg Config
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(&cfg); err != nil {
		return nil, errs.Wrap(errs.Config, "unable to parse config file", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.Config, "unable to read config file", err)
	}
	defer f.Close()

	return Read(f)
}

func (c *Config) Validate() error {
	if c.VenueRef.Venue == nil {
		return errs.New(errs.Config, "venue is not configured")
	}

	if err := validator.New().Struct(c); err != nil {
		return errs.Wrap(errs.Config, "invalid config", err)
	}

	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		if _, ok := seen[s.Name]; ok {
			return errs.Newf(errs.Config, "duplicate strategy name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	return nil
}

type Logging struct {
	Level string `yaml:"level"`
}

type Market struct {
	Symbols    []string `yaml:"symbols" validate:"required,min=1,dive,required"`
	QuoteAsset string   `yaml:"quote_asset" validate:"required"`
	Interval   string   `yaml:"interval" validate:"required"`
	Lookback   int      `yaml:"lookback" validate:"gt=1"`
}

type SizingKind string

const (
	SizingFixedStop SizingKind = "fixed_stop"
	SizingATR       SizingKind = "atr"
)

type ExitKind string

const (
	ExitPercent ExitKind = "percent"
	ExitATR     ExitKind = "atr"
)

type Risk struct {
	RiskPerTrade            float64    `yaml:"risk_per_trade" validate:"gt=0,lte=1"`
	MaxDrawdown             float64    `yaml:"max_drawdown" validate:"gt=0,lte=1"`
	MaxConcurrentTrades     int        `yaml:"max_concurrent_trades" validate:"gt=0"`
	StartingBalance         float64    `yaml:"starting_balance" validate:"gte=0"`
	Sizing                  SizingKind `yaml:"sizing" validate:"oneof=fixed_stop atr"`
	Exits                   ExitKind   `yaml:"exits" validate:"oneof=percent atr"`
	StopLossPct             float64    `yaml:"stop_loss_pct" validate:"gt=0,lt=1"`
	TakeProfitPct           float64    `yaml:"take_profit_pct" validate:"gt=0"`
	ATRWindow               int        `yaml:"atr_window" validate:"gt=0"`
	ATRStopMultiplier       float64    `yaml:"atr_stop_multiplier" validate:"gt=0"`
	ATRTakeProfitMultiplier float64    `yaml:"atr_take_profit_multiplier" validate:"gt=0"`
}

// NeedsATR reports whether sizing or exits consume a volatility column.
func (r Risk) NeedsATR() bool {
	return r.Sizing == SizingATR || r.Exits == ExitATR
}

type Orders struct {
	PollAttempts      int           `yaml:"poll_attempts" validate:"gt=0"`
	PollInterval      time.Duration `yaml:"poll_interval" validate:"gte=0"`
	QuantityPrecision int32         `yaml:"quantity_precision" validate:"gte=0"`
	PricePrecision    int32         `yaml:"price_precision" validate:"gte=0"`
	StopLimitOffset   float64       `yaml:"stop_limit_offset" validate:"gte=0,lt=1"`
	ProtectionRetries int           `yaml:"protection_retries" validate:"gte=0"`
}

type Ledger struct {
	Path string `yaml:"path" validate:"required"`
}

type Admin struct {
	Addr string `yaml:"addr"`
}

type Report struct {
	Schedule string `yaml:"schedule"`
	Path     string `yaml:"path"`
}

type Debug struct {
	PlotDir string `yaml:"plot_dir"`
}

type Strategy struct {
	Name     string             `yaml:"name" validate:"required"`
	Kind     string             `yaml:"kind" validate:"required"`
	Enabled  *bool              `yaml:"enabled"`
	Schedule string             `yaml:"schedule" validate:"required"`
	Children []string           `yaml:"children"`
	Params   map[string]float64 `yaml:"params"`
}

func (s Strategy) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (c *Config) applyDefaults() {
	if len(c.Market.Symbols) == 0 {
		c.Market.Symbols = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}
	}
	if c.Market.QuoteAsset == "" {
		c.Market.QuoteAsset = "USDT"
	}
	if c.Market.Interval == "" {
		c.Market.Interval = "1d"
	}
	if c.Market.Lookback == 0 {
		c.Market.Lookback = 500
	}

	r := &c.Risk
	if r.RiskPerTrade == 0 {
		r.RiskPerTrade = 0.02
	}
	if r.MaxDrawdown == 0 {
		r.MaxDrawdown = 0.20
	}
	if r.MaxConcurrentTrades == 0 {
		r.MaxConcurrentTrades = 5
	}
	if r.Sizing == "" {
		r.Sizing = SizingFixedStop
	}
	if r.Exits == "" {
		r.Exits = ExitPercent
	}
	if r.StopLossPct == 0 {
		r.StopLossPct = 0.05
	}
	if r.TakeProfitPct == 0 {
		r.TakeProfitPct = 0.10
	}
	if r.ATRWindow == 0 {
		r.ATRWindow = 14
	}
	if r.ATRStopMultiplier == 0 {
		r.ATRStopMultiplier = 1
	}
	if r.ATRTakeProfitMultiplier == 0 {
		r.ATRTakeProfitMultiplier = 2
	}

	o := &c.Orders
	if o.PollAttempts == 0 {
		o.PollAttempts = 10
	}
	if o.PollInterval == 0 {
		o.PollInterval = 30 * time.Second
	}
	if o.QuantityPrecision == 0 {
		o.QuantityPrecision = 6
	}
	if o.PricePrecision == 0 {
		o.PricePrecision = 2
	}
	if o.StopLimitOffset == 0 {
		o.StopLimitOffset = 0.01
	}
	if o.ProtectionRetries == 0 {
		o.ProtectionRetries = 1
	}

	if c.Ledger.Path == "" {
		c.Ledger.Path = "trades.db"
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":5000"
	}
}

// venue configs

type VenueReference struct {
	Venue Venue
}

type Venue interface{}

type Binance struct {
	ApiKey  string `yaml:"api_key" validate:"required"`
	Secret  string `yaml:"secret" validate:"required"`
	BaseUrl string `yaml:"base_url"`
	Testnet bool   `yaml:"testnet"`
}

type Alpaca struct {
	BaseUrl string `yaml:"base_url"`
	ApiKey  string `yaml:"api_key" validate:"required"`
	Secret  string `yaml:"secret" validate:"required"`
}

type Emulator struct {
	Data           map[string]string `yaml:"data" validate:"required,min=1"`
	Start          time.Time         `yaml:"start"`
	End            time.Time         `yaml:"end"`
	BarDuration    time.Duration     `yaml:"bar_duration"`
	Interval       time.Duration     `yaml:"interval"`
	BuyCommission  float64           `yaml:"buy_commission" validate:"gte=0,lt=1"`
	SellCommission float64           `yaml:"sell_commission" validate:"gte=0,lt=1"`
	Balance        float64           `yaml:"balance" validate:"gt=0"`
	QuoteAsset     string            `yaml:"quote_asset"`
}

func (w *VenueReference) UnmarshalYAML(value *yaml.Node) error {
	if len(value.Content) == 0 {
		return nil
	}

	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return errors.New("invalid venue yaml format")
	}

	key := value.Content[0].Value
	switch key {
	case "binance":
		var b Binance
		if err := value.Content[1].Decode(&b); err != nil {
			return fmt.Errorf("failed parsing binance venue config: %w", err)
		}
		w.Venue = b
	case "alpaca":
		var alpaca Alpaca
		if err := value.Content[1].Decode(&alpaca); err != nil {
			return fmt.Errorf("failed parsing alpaca venue config: %w", err)
		}
		w.Venue = alpaca
	case "emulator":
		var emu Emulator
		if err := value.Content[1].Decode(&emu); err != nil {
			return fmt.Errorf("failed parsing emulator venue config: %w", err)
		}
		w.Venue = emu
	default:
		return fmt.Errorf("unknown venue type: %s", key)
	}

	return nil
}
