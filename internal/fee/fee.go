// Package fee computes the platform fee charged on a PIX transaction.
package fee

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Type is the persisted discriminator of a merchant fee configuration.
type Type string

const (
	TypeFixed      Type = "fixed"
	TypePercentage Type = "percentage"
)

var (
	ErrInvalidConfig    = errors.New("invalid fee configuration")
	ErrFeeExceedsAmount = errors.New("fee exceeds transaction amount")
	ErrInvalidAmount    = errors.New("amount must be positive")
)

var hundred = decimal.NewFromInt(100)

// Config is either Fixed or Percentage.
type Config interface {
	Type() Type
	isConfig()
}

// Fixed charges a flat amount per transaction, stored in cents.
type Fixed struct {
	Cents int64
}

func (Fixed) Type() Type { return TypeFixed }
func (Fixed) isConfig()  {}

// Percentage charges Rate percent (0-100) of the gross amount.
type Percentage struct {
	Rate decimal.Decimal
}

func (Percentage) Type() Type { return TypePercentage }
func (Percentage) isConfig()  {}

// Validate checks the bounds of a configuration.
func Validate(cfg Config) error {
	switch c := cfg.(type) {
	case Fixed:
		if c.Cents < 0 {
			return fmt.Errorf("%w: fixed fee must not be negative", ErrInvalidConfig)
		}
	case Percentage:
		if c.Rate.IsNegative() || c.Rate.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidConfig)
		}
	default:
		return ErrInvalidConfig
	}
	return nil
}

// Parse rebuilds a Config from its column representation, where exactly one of
// cents and rate is expected to be set.
func Parse(t Type, cents *int64, rate *decimal.Decimal) (Config, error) {
	var cfg Config
	switch t {
	case TypeFixed:
		if cents == nil || rate != nil {
			return nil, fmt.Errorf("%w: fixed fee requires only fee_amount", ErrInvalidConfig)
		}
		cfg = Fixed{Cents: *cents}
	case TypePercentage:
		if rate == nil || cents != nil {
			return nil, fmt.Errorf("%w: percentage fee requires only fee_percentage", ErrInvalidConfig)
		}
		cfg = Percentage{Rate: *rate}
	default:
		return nil, fmt.Errorf("%w: unknown fee type %q", ErrInvalidConfig, t)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Compute returns the fee and net amounts for a gross amount. Amounts are in major
// units rounded to cents; fee + net == gross always holds.
func Compute(cfg Config, gross decimal.Decimal) (feeAmount, net decimal.Decimal, err error) {
	if !gross.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrInvalidAmount
	}
	if err := Validate(cfg); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	switch c := cfg.(type) {
	case Fixed:
		feeAmount = decimal.New(c.Cents, -2)
	case Percentage:
		feeAmount = gross.Mul(c.Rate).Div(hundred).Round(2)
	}
	net = gross.Sub(feeAmount)
	if net.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: fee %s on amount %s", ErrFeeExceedsAmount, feeAmount.StringFixed(2), gross.StringFixed(2))
	}
	return feeAmount, net, nil
}
