// Package points holds the point currency and the usage cost calculator.
package points

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Amount is a quantity of points in hundredths of a point.
type Amount int64

const scale = 2

var hundred = decimal.NewFromInt(100)

// FromDecimal rounds d half-up to two decimal places.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Round(scale).Mul(hundred).IntPart())
}

func FromFloat(f float64) Amount {
	return FromDecimal(decimal.NewFromFloat(f))
}

// Whole returns n full points.
func Whole(n int64) Amount {
	return Amount(n * 100)
}

func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse points %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -scale)
}

func (a Amount) Float64() float64 {
	f, _ := a.Decimal().Float64()
	return f
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(scale)
}

// NonNegative clamps a to zero.
func (a Amount) NonNegative() Amount {
	if a < 0 {
		return 0
	}
	return a
}

func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimals.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if raw == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	} else {
		var num json.Number
		if err := json.Unmarshal(data, &num); err != nil {
			return fmt.Errorf("points: %w", err)
		}
		raw = num.String()
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = 0
	case int64:
		*a = Amount(v)
	case int32:
		*a = Amount(v)
	case int:
		*a = Amount(v)
	case float64:
		*a = Amount(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("scan points: %w", err)
		}
		*a = Amount(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("scan points: %w", err)
		}
		*a = Amount(n)
	default:
		return fmt.Errorf("scan points: unsupported type %T", src)
	}
	return nil
}
