package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// NativeCurrency is the currency code of amounts expressed in drops.
const NativeCurrency = "XRP"

// Amount is either a native amount in drops or an issued-currency amount.
// Value keeps its wire spelling.
type Amount struct {
	Currency string
	Issuer   string
	Value    string
}

func Drops(n int64) Amount {
	return Amount{Currency: NativeCurrency, Value: decimal.NewFromInt(n).String()}
}

func IssuedAmount(currency, issuer, value string) Amount {
	return Amount{Currency: currency, Issuer: issuer, Value: value}
}

func (a Amount) IsNative() bool {
	return a.Currency == NativeCurrency && a.Issuer == ""
}

func (a Amount) Decimal() decimal.Decimal {
	d, _ := decimal.NewFromString(a.Value)
	return d
}

func (a Amount) String() string {
	if a.IsNative() {
		return a.Value + " drops"
	}
	return fmt.Sprintf("%s %s/%s", a.Value, a.Currency, a.Issuer)
}

func (a Amount) validate() error {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return fmt.Errorf("invalid amount value %q", a.Value)
	}
	if a.IsNative() {
		if !d.IsInteger() || d.IsNegative() {
			return fmt.Errorf("native amount must be a non-negative number of drops, got %q", a.Value)
		}
		return nil
	}
	if a.Currency == "" || a.Issuer == "" {
		return errors.New("issued amount needs currency and issuer")
	}
	return nil
}

// Stored returns the representation persisted by the store and used on the
// wire: a drops string, or a currency/issuer/value object.
func (a Amount) Stored() any {
	if a.IsNative() {
		return a.Value
	}
	return map[string]any{
		"currency": a.Currency,
		"issuer":   a.Issuer,
		"value":    a.Value,
	}
}

// ToAmount accepts an Amount, a drops string or integer, or a stored
// currency/issuer/value object.
func ToAmount(v any) (Amount, error) {
	var a Amount
	switch v := v.(type) {
	case Amount:
		a = v
	case *Amount:
		a = *v
	case string:
		a = Amount{Currency: NativeCurrency, Value: v}
	case int:
		a = Drops(int64(v))
	case int64:
		a = Drops(v)
	case map[string]any:
		cur, _ := v["currency"].(string)
		iss, _ := v["issuer"].(string)
		val, _ := v["value"].(string)
		a = Amount{cur, iss, val}
		if a.IsNative() {
			return Amount{}, errors.New("native amounts are written as drops strings")
		}
	default:
		return Amount{}, fmt.Errorf("expected amount, got %T", v)
	}
	if err := a.validate(); err != nil {
		return Amount{}, err
	}
	return a, nil
}
