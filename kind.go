package walletstore

import (
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the value kind of a declared field.
//
// Values are held in memory in a single canonical Go representation per kind:
//
//	KindString   string
//	KindInt      int64
//	KindDecimal  decimal.Decimal
//	KindBool     bool
//	KindTime     time.Time (UTC)
//	KindBlob     []byte
//	KindObject   map[string]any or []any
//	KindList     []string
//	KindAmount   string or map[string]any
//
// A nil value means the field is absent (null).
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindDecimal
	KindBool
	KindTime
	KindBlob
	KindObject
	KindList
	KindAmount
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindString:  "string",
	KindInt:     "int",
	KindDecimal: "decimal",
	KindBool:    "bool",
	KindTime:    "time",
	KindBlob:    "blob",
	KindObject:  "object",
	KindList:    "list",
	KindAmount:  "amount",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) Valid() bool {
	return k > KindInvalid && int(k) < len(kindNames)
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if i != int(KindInvalid) && name == s {
			return Kind(i), true
		}
	}
	return KindInvalid, false
}

// Coerce converts v into the canonical representation of the kind. It accepts
// the representations produced by the msgpack decoder, so that values read
// back from disk go through the same path as values supplied by callers.
func (k Kind) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case KindDecimal:
		switch v := v.(type) {
		case decimal.Decimal:
			return v, nil
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("invalid decimal %q", v)
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		default:
			if n, ok := toInt64(v); ok {
				return decimal.NewFromInt(n), nil
			}
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	case KindBlob:
		switch v := v.(type) {
		case []byte:
			return v, nil
		case string:
			b, err := hex.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("invalid hex blob")
			}
			return b, nil
		}
	case KindObject:
		switch v := v.(type) {
		case map[string]any, []any:
			return v, nil
		}
	case KindList:
		switch v := v.(type) {
		case []string:
			return v, nil
		case []any:
			out := make([]string, len(v))
			for i, el := range v {
				s, ok := el.(string)
				if !ok {
					return nil, fmt.Errorf("list element %d is %T, wanted string", i, el)
				}
				out[i] = s
			}
			return out, nil
		}
	case KindAmount:
		switch v := v.(type) {
		case string:
			return v, nil
		case map[string]any:
			return v, nil
		}
	default:
		return nil, fmt.Errorf("invalid kind %v", k)
	}
	return nil, fmt.Errorf("expected %v, got %T", k, v)
}

// storable converts a canonical value into something msgpack round-trips
// without ambiguity.
func (k Kind) storable(v any) any {
	switch v := v.(type) {
	case decimal.Decimal:
		return v.String()
	case time.Time:
		return v.UTC()
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}
