package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// DefaultDecimals is the display scale of 18-decimal ERC-20 tokens such as DAI.
const DefaultDecimals uint8 = 18

// MaxDecimals bounds the scale; 10^77 is the largest power of ten that fits a uint256.
const MaxDecimals uint8 = 77

var ErrNegative = errors.New("amount must not be negative")

// Amount is an exact token quantity held in base units together with the
// token's decimal scale. Arithmetic happens on the base value; the scale only
// matters when rendering.
type Amount struct {
	base     *big.Int
	decimals uint8
}

// New wraps a base-unit value. The value is copied.
func New(base *big.Int, decimals uint8) Amount {
	v := new(big.Int)
	if base != nil {
		v.Set(base)
	}
	return Amount{base: v, decimals: decimals}
}

// Zero returns an empty amount at the given scale.
func Zero(decimals uint8) Amount {
	return Amount{base: new(big.Int), decimals: decimals}
}

// FromTokens builds an amount from a whole number of display units,
// e.g. FromTokens(500, 18) is 500 * 10^18 base units.
func FromTokens(n int64, decimals uint8) Amount {
	v := new(big.Int).Mul(big.NewInt(n), Scale(decimals))
	return Amount{base: v, decimals: decimals}
}

// ParseBase parses a base-10 integer string of base units.
func ParseBase(s string, decimals uint8) (Amount, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid integer amount %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, ErrNegative
	}
	return Amount{base: v, decimals: decimals}, nil
}

// Scale returns 10^decimals.
func Scale(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Base returns a copy of the base-unit value.
func (a Amount) Base() *big.Int {
	if a.base == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.base)
}

// Decimals returns the display scale.
func (a Amount) Decimals() uint8 { return a.decimals }

// Add returns a+b at a's scale.
func (a Amount) Add(b Amount) Amount {
	return Amount{base: new(big.Int).Add(a.Base(), b.Base()), decimals: a.decimals}
}

// Sub returns a-b at a's scale.
func (a Amount) Sub(b Amount) Amount {
	return Amount{base: new(big.Int).Sub(a.Base(), b.Base()), decimals: a.decimals}
}

// Cmp compares base values.
func (a Amount) Cmp(b Amount) int {
	return a.Base().Cmp(b.Base())
}

// Equal reports whether both amounts hold the same base value.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

func (a Amount) Sign() int {
	if a.base == nil {
		return 0
	}
	return a.base.Sign()
}

// Abs returns |a|.
func (a Amount) Abs() Amount {
	return Amount{base: new(big.Int).Abs(a.Base()), decimals: a.decimals}
}

// String renders the amount in display units without trailing zeros,
// e.g. 1500000000000000000 at 18 decimals is "1.5".
func (a Amount) String() string {
	return Format(a.Base(), a.decimals)
}

// Format renders a base-unit integer divided by 10^decimals exactly.
func Format(base *big.Int, decimals uint8) string {
	if base == nil {
		return "0"
	}
	neg := base.Sign() < 0
	abs := new(big.Int).Abs(base)

	intPart, frac := new(big.Int).QuoRem(abs, Scale(decimals), new(big.Int))

	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	sb.WriteString(intPart.String())
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", int(decimals)-len(digits)) + digits
		sb.WriteByte('.')
		sb.WriteString(strings.TrimRight(digits, "0"))
	}
	return sb.String()
}
