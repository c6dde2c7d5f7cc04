package enclaveapi

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the wire resolution of monetary amounts: decimal
// strings carry at most this many fractional digits, and one base unit
// is 10^-AmountDecimals ("1.50" is 1_500_000 base units).
const AmountDecimals = 6

// ErrInvalidAmount rejects amounts that are not representable on the
// wire: non-numeric, negative, or finer than AmountDecimals digits.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a wire amount string to integer base units.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, s)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	units := d.Shift(AmountDecimals)
	if !units.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, AmountDecimals)
	}
	return units.BigInt(), nil
}

// FormatAmount renders base units as a wire amount string with exactly
// AmountDecimals fractional digits.
func FormatAmount(units *big.Int) string {
	if units == nil {
		return decimal.Zero.StringFixed(AmountDecimals)
	}
	return decimal.NewFromBigInt(units, -AmountDecimals).StringFixed(AmountDecimals)
}
