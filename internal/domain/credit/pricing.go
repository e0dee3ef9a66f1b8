package credit

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCreditType is returned when pricing is requested for a
	// credit type that isn't configured.
	ErrUnknownCreditType = errors.New("unknown credit type")

	// ErrAmountOutOfRange is returned when the amount is outside the
	// configured minimum/maximum purchase bounds.
	ErrAmountOutOfRange = errors.New("amount out of range")

	// ErrNoPricing is returned when a credit type configures neither
	// slabs nor a calculator.
	ErrNoPricing = errors.New("no pricing rule configured")
)

// PriceSlab prices a contiguous amount range at a flat per-unit rate.
type PriceSlab struct {
	From         int
	To           int
	PricePerUnit decimal.Decimal
}

// PriceCalculator computes a price for an amount, optionally sensitive to
// the buyer's plan codename (e.g. discounted enterprise rates).
type PriceCalculator func(amount int, planCodename string) decimal.Decimal

// CreditTypeConfig describes one purchasable credit type. Exactly one of
// Slabs or Calculator drives the price.
type CreditTypeConfig struct {
	Name          string
	Currency      string
	MinimumAmount int // 0 = no minimum
	MaximumAmount int // 0 = no maximum
	Slabs         []PriceSlab
	Calculator    PriceCalculator
}

// PricingConfig maps credit type to its purchase pricing. The set of valid
// credit types is configuration, not code: the ledger itself accepts any
// non-empty credit type string.
type PricingConfig map[string]CreditTypeConfig

// Validate checks the config at load time so a malformed entry fails fast
// instead of surfacing on the first purchase.
func (c PricingConfig) Validate() error {
	for creditType, cfg := range c {
		if creditType == "" {
			return fmt.Errorf("pricing config: empty credit type key")
		}
		if cfg.Name == "" {
			return fmt.Errorf("pricing config %q: missing name", creditType)
		}
		if len(cfg.Slabs) == 0 && cfg.Calculator == nil {
			return fmt.Errorf("pricing config %q: %w", creditType, ErrNoPricing)
		}
		if cfg.MinimumAmount < 0 || cfg.MaximumAmount < 0 {
			return fmt.Errorf("pricing config %q: negative amount bound", creditType)
		}
		if cfg.MaximumAmount > 0 && cfg.MinimumAmount > cfg.MaximumAmount {
			return fmt.Errorf("pricing config %q: minimum exceeds maximum", creditType)
		}
		for _, slab := range cfg.Slabs {
			if slab.From > slab.To {
				return fmt.Errorf("pricing config %q: slab from > to", creditType)
			}
			if slab.PricePerUnit.IsNegative() {
				return fmt.Errorf("pricing config %q: negative slab price", creditType)
			}
		}
	}
	return nil
}

// Price returns the purchase price for amount credits of creditType.
// planCodename may be empty; calculators can use it for plan-based rates.
func (c PricingConfig) Price(creditType string, amount int, planCodename string) (decimal.Decimal, error) {
	cfg, ok := c[creditType]
	if !ok {
		return decimal.Zero, ErrUnknownCreditType
	}

	if amount <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	if cfg.MinimumAmount > 0 && amount < cfg.MinimumAmount {
		return decimal.Zero, fmt.Errorf("%w: minimum is %d", ErrAmountOutOfRange, cfg.MinimumAmount)
	}
	if cfg.MaximumAmount > 0 && amount > cfg.MaximumAmount {
		return decimal.Zero, fmt.Errorf("%w: maximum is %d", ErrAmountOutOfRange, cfg.MaximumAmount)
	}

	if len(cfg.Slabs) > 0 {
		for _, slab := range cfg.Slabs {
			if amount >= slab.From && amount <= slab.To {
				return slab.PricePerUnit.Mul(decimal.NewFromInt(int64(amount))), nil
			}
		}
		return decimal.Zero, fmt.Errorf("%w: no slab covers amount %d", ErrAmountOutOfRange, amount)
	}

	return cfg.Calculator(amount, planCodename), nil
}

// DefaultPricing mirrors the shipped credit catalogue. Deployments replace
// this with their own types and rates.
func DefaultPricing() PricingConfig {
	return PricingConfig{
		"image_generation": {
			Name:          "Image Generation Credits",
			Currency:      "USD",
			MinimumAmount: 1,
			Slabs: []PriceSlab{
				{From: 0, To: 1000, PricePerUnit: decimal.NewFromFloat(0.01)},
			},
		},
		"video_generation": {
			Name:          "Video Generation Credits",
			Currency:      "USD",
			MinimumAmount: 1,
			Calculator: func(amount int, _ string) decimal.Decimal {
				return decimal.NewFromFloat(0.01).Mul(decimal.NewFromInt(int64(amount)))
			},
		},
	}
}
