package pricing

import (
	"errors"
	"math/big"
	"strings"
)

// ErrNoPrice is returned when an item carries neither an integer minor-unit
// price nor a parseable display price.
var ErrNoPrice = errors.New("item has no usable price")

// Item holds the catalog price fields relevant to charge verification.
type Item struct {
	// AmountMinor is the integer price in minor units (cents). When set it
	// always wins over DisplayPrice, which exists for rendering and may
	// carry decimal rounding.
	AmountMinor  int64
	DisplayPrice string
	Currency     string
}

// ExpectedMinor returns the charge the gateway must report for the item, in
// minor units.
func ExpectedMinor(item Item) (int64, error) {
	if item.AmountMinor > 0 {
		return item.AmountMinor, nil
	}
	return parseDisplayMinor(item.DisplayPrice)
}

// parseDisplayMinor converts a decimal display price ("25.50") to minor
// units without going through floating point.
func parseDisplayMinor(display string) (int64, error) {
	display = strings.TrimSpace(display)
	if display == "" {
		return 0, ErrNoPrice
	}
	r, ok := new(big.Rat).SetString(display)
	if !ok || r.Sign() <= 0 {
		return 0, ErrNoPrice
	}
	minor := new(big.Rat).Mul(r, big.NewRat(100, 1))
	if !minor.IsInt() {
		// Sub-cent display prices are a catalog bug; round half up.
		num := new(big.Int).Mul(minor.Num(), big.NewInt(2))
		num.Add(num, minor.Denom())
		den := new(big.Int).Mul(minor.Denom(), big.NewInt(2))
		return new(big.Int).Quo(num, den).Int64(), nil
	}
	return minor.Num().Int64(), nil
}
