package walletstore

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one persisted entity instance: field name to canonical value (see
// Kind). Records returned by the store are copies; mutating them has no effect
// until they are written back.
type Record map[string]any

func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func (r Record) Has(name string) bool {
	return r[name] != nil
}

func (r Record) String(name string) string {
	s, _ := r[name].(string)
	return s
}

func (r Record) Int(name string) int64 {
	n, _ := r[name].(int64)
	return n
}

func (r Record) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

func (r Record) Decimal(name string) decimal.Decimal {
	d, _ := r[name].(decimal.Decimal)
	return d
}

func (r Record) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

func (r Record) Bytes(name string) []byte {
	b, _ := r[name].([]byte)
	return b
}

func (r Record) List(name string) []string {
	l, _ := r[name].([]string)
	return l
}

func (r Record) Object(name string) map[string]any {
	m, _ := r[name].(map[string]any)
	return m
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return slices.Clone(v)
	case []string:
		return slices.Clone(v)
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = cloneValue(el)
		}
		return out
	case map[string]any:
		out := maps.Clone(v)
		for k, el := range out {
			out[k] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}
