package transform

import (
	"database/sql/driver"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
)

// Decimal is a fixed-point number: Unscaled * 10^-Scale.
type Decimal struct {
	Unscaled *big.Int
	Scale    int
}

var bigTen = big.NewInt(10)

// ParseDecimal parses s and rounds it half away from zero to scale digits.
// A value needing more than precision-scale integer digits is rejected.
func ParseDecimal(s string, precision, scale int) (Decimal, error) {
	if precision <= 0 {
		precision, scale = 10, 2
	}
	if strings.ContainsAny(s, "/") {
		return Decimal{}, eris.Errorf("transform: %q is not a number", s)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return Decimal{}, eris.Errorf("transform: %q is not a number", s)
	}

	factor := new(big.Int).Exp(bigTen, big.NewInt(int64(scale)), nil)
	r.Mul(r, new(big.Rat).SetInt(factor))

	// Round half away from zero: |r| + 1/2, truncated, with the sign restored.
	neg := r.Sign() < 0
	r.Abs(r)
	r.Add(r, big.NewRat(1, 2))
	unscaled := new(big.Int).Quo(r.Num(), r.Denom())
	if neg {
		unscaled.Neg(unscaled)
	}

	limit := new(big.Int).Exp(bigTen, big.NewInt(int64(precision)), nil)
	if new(big.Int).Abs(unscaled).Cmp(limit) >= 0 {
		return Decimal{}, eris.Errorf("transform: %q overflows NUMERIC(%d,%d)", s, precision, scale)
	}
	return Decimal{Unscaled: unscaled, Scale: scale}, nil
}

// String renders the value with exactly Scale fractional digits.
func (d Decimal) String() string {
	if d.Unscaled == nil {
		return ""
	}
	digits := new(big.Int).Abs(d.Unscaled).String()
	if d.Scale > 0 {
		if len(digits) <= d.Scale {
			digits = strings.Repeat("0", d.Scale-len(digits)+1) + digits
		}
		digits = digits[:len(digits)-d.Scale] + "." + digits[len(digits)-d.Scale:]
	}
	if d.Unscaled.Sign() < 0 {
		return "-" + digits
	}
	return digits
}

// Value implements driver.Valuer for database/sql backends.
func (d Decimal) Value() (driver.Value, error) {
	if d.Unscaled == nil {
		return nil, nil
	}
	return d.String(), nil
}

// NumericValue implements pgtype.NumericValuer for COPY into NUMERIC columns.
func (d Decimal) NumericValue() (pgtype.Numeric, error) {
	if d.Unscaled == nil {
		return pgtype.Numeric{}, nil
	}
	return pgtype.Numeric{Int: new(big.Int).Set(d.Unscaled), Exp: int32(-d.Scale), Valid: true}, nil
}

// MarshalJSON renders the value as a JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	if d.Unscaled == nil {
		return []byte("null"), nil
	}
	return []byte(d.String()), nil
}
