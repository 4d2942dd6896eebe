package engine

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownSizing is returned by NewSizer for an unrecognised policy name.
var ErrUnknownSizing = errors.New("unknown position sizing mode")

// DefaultRiskFactor is the fraction of cash risked per unit of ATR.
const DefaultRiskFactor = 0.0035

// SizingContext carries the per-day inputs a policy may need beyond the
// price: current cash and the instrument's ATR at the signal date.
type SizingContext struct {
	Cash float64
	ATR  float64
}

// Sizer decides how many shares to trade on a signal. Implementations never
// return a negative quantity; zero means no trade.
type Sizer interface {
	// Name returns the policy identifier ("fixed", "risk").
	Name() string

	// BuyQuantity returns the number of shares to buy at price given cash.
	BuyQuantity(cash, price float64, sc SizingContext) int64

	// SellQuantity returns the number of shares to sell out of holdings.
	SellQuantity(holdings int64, price float64, sc SizingContext) int64
}

// Compile-time interface checks.
var _ Sizer = FixedSizer{}
var _ Sizer = RiskSizer{}

// FixedSizer trades a configured number of shares, limited by what cash can
// pay for and what is held.
type FixedSizer struct {
	BuyCount  int64
	SellCount int64
}

// Name returns "fixed".
func (FixedSizer) Name() string { return "fixed" }

// BuyQuantity returns min(BuyCount, floor(cash/price)).
func (f FixedSizer) BuyQuantity(cash, price float64, _ SizingContext) int64 {
	if cash <= 0 || price <= 0 {
		return 0
	}
	return min(max(f.BuyCount, 0), floorQty(cash/price))
}

// SellQuantity returns min(SellCount, holdings).
func (f FixedSizer) SellQuantity(holdings int64, _ float64, _ SizingContext) int64 {
	if holdings <= 0 {
		return 0
	}
	return min(max(f.SellCount, 0), holdings)
}

// RiskSizer scales the trade with cash and inversely with volatility:
// floor(Factor * cash / ATR).
type RiskSizer struct {
	Factor float64
}

// Name returns "risk".
func (RiskSizer) Name() string { return "risk" }

// BuyQuantity returns floor(Factor*cash/ATR), or zero when ATR is undefined
// or not positive.
func (r RiskSizer) BuyQuantity(cash, _ float64, sc SizingContext) int64 {
	return r.quantity(cash, sc.ATR)
}

// SellQuantity returns min(floor(Factor*cash/ATR), holdings) using the cash
// in sc.
func (r RiskSizer) SellQuantity(holdings int64, _ float64, sc SizingContext) int64 {
	if holdings <= 0 {
		return 0
	}
	return min(r.quantity(sc.Cash, sc.ATR), holdings)
}

func (r RiskSizer) quantity(cash, atr float64) int64 {
	if math.IsNaN(atr) || atr <= 0 || cash <= 0 {
		return 0
	}
	return floorQty(r.Factor * cash / atr)
}

// floorQty converts a share count to int64, mapping NaN, ±Inf, negatives and
// values beyond int64 to zero.
func floorQty(q float64) int64 {
	if math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 || q >= math.MaxInt64 {
		return 0
	}
	return int64(math.Floor(q))
}

// SizingConfig selects and parameterises a Sizer.
type SizingConfig struct {
	Mode       string
	RiskFactor float64
	FixedBuy   int64
	FixedSell  int64
}

// NewSizer builds the policy named by cfg.Mode.
func NewSizer(cfg SizingConfig) (Sizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "fixed":
		if cfg.FixedBuy < 0 || cfg.FixedSell < 0 {
			return nil, fmt.Errorf("fixed sizing counts must be non-negative, got buy=%d sell=%d", cfg.FixedBuy, cfg.FixedSell)
		}
		return FixedSizer{BuyCount: cfg.FixedBuy, SellCount: cfg.FixedSell}, nil
	case "risk", "":
		f := cfg.RiskFactor
		if f == 0 {
			f = DefaultRiskFactor
		}
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("risk factor must be positive, got %v", cfg.RiskFactor)
		}
		return RiskSizer{Factor: f}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSizing, cfg.Mode)
	}
}
