package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"

	"github.com/andreyvit/walletstore"
)

// RippleEpoch is the Unix time of ledger timestamp zero (2000-01-01 UTC).
const RippleEpoch = 946684800

var parsers fastjson.ParserPool

type ParseOptions struct {
	// DefaultType is used when the payload carries no TransactionType, as
	// when building an outgoing transaction locally.
	DefaultType TransactionType

	// Meta is attached when the payload has no "meta" of its own.
	Meta json.RawMessage

	// DraftID keeps the identity of a draft across save and load. A new one
	// is generated when zero.
	DraftID uuid.UUID
}

// Parse reads a wire JSON transaction. Fields the variant does not declare
// are ignored. A payload carrying "hash" is finalized and must be complete.
func Parse(data []byte, opt ParseOptions) (*Transaction, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, malformed("", "", "invalid JSON: %v", err)
	}
	if v.Type() != fastjson.TypeObject {
		return nil, malformed("", "", "expected an object, got %s", v.Type())
	}

	typ := opt.DefaultType
	if tv := v.Get(fieldTransactionType); tv != nil && tv.Type() != fastjson.TypeNull {
		b, err := tv.StringBytes()
		if err != nil {
			return nil, malformed("", fieldTransactionType, "expected a string, got %s", tv.Type())
		}
		typ = TransactionType(b)
	}
	if typ == "" {
		return nil, malformed("", fieldTransactionType, "missing")
	}

	tx, err := New(typ)
	if err != nil {
		return nil, err
	}
	if opt.DraftID != uuid.Nil {
		tx.draft = opt.DraftID
	}

	for _, f := range tx.shape.fields {
		fv := v.Get(f.Name)
		if fv == nil || fv.Type() == fastjson.TypeNull {
			continue
		}
		val, err := fromWire(f, fv)
		if err != nil {
			return nil, malformed(typ, f.Name, "%v", err)
		}
		tx.fields[f.Name] = val
	}

	if mv := v.Get(wireMeta); mv != nil && mv.Type() != fastjson.TypeNull {
		tx.meta = mv.MarshalTo(nil)
	} else if len(opt.Meta) > 0 {
		tx.meta = slices.Clone(opt.Meta)
	}

	if hv := v.Get(wireHash); hv != nil && hv.Type() != fastjson.TypeNull {
		h, err := hv.StringBytes()
		if err != nil {
			return nil, malformed(typ, wireHash, "expected a string, got %s", hv.Type())
		}
		if err := tx.Finalize(string(h)); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func fromWire(f Field, v *fastjson.Value) (any, error) {
	switch f.Kind {
	case walletstore.KindString:
		b, err := v.StringBytes()
		if err != nil {
			return nil, fmt.Errorf("expected a string, got %s", v.Type())
		}
		return string(b), nil

	case walletstore.KindInt:
		if v.Type() != fastjson.TypeNumber {
			return nil, fmt.Errorf("expected an integer, got %s", v.Type())
		}
		return v.Int64()

	case walletstore.KindDecimal:
		var s string
		switch v.Type() {
		case fastjson.TypeString:
			s = string(v.GetStringBytes())
		case fastjson.TypeNumber:
			s = v.String()
		default:
			return nil, fmt.Errorf("expected a decimal, got %s", v.Type())
		}
		return decimal.NewFromString(s)

	case walletstore.KindBool:
		return v.Bool()

	case walletstore.KindTime:
		if v.Type() != fastjson.TypeNumber {
			return nil, fmt.Errorf("expected ledger seconds, got %s", v.Type())
		}
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return time.Unix(n+RippleEpoch, 0).UTC(), nil

	case walletstore.KindBlob:
		b, err := v.StringBytes()
		if err != nil {
			return nil, fmt.Errorf("expected a hex string, got %s", v.Type())
		}
		return hex.DecodeString(string(b))

	case walletstore.KindObject:
		if t := v.Type(); t != fastjson.TypeObject && t != fastjson.TypeArray {
			return nil, fmt.Errorf("expected an object or array, got %s", t)
		}
		dec := json.NewDecoder(bytes.NewReader(v.MarshalTo(nil)))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil

	case walletstore.KindAmount:
		switch v.Type() {
		case fastjson.TypeString:
			return ToAmount(string(v.GetStringBytes()))
		case fastjson.TypeObject:
			return ToAmount(map[string]any{
				"currency": string(v.GetStringBytes("currency")),
				"issuer":   string(v.GetStringBytes("issuer")),
				"value":    string(v.GetStringBytes("value")),
			})
		default:
			return nil, fmt.Errorf("expected an amount, got %s", v.Type())
		}
	}
	return nil, fmt.Errorf("unsupported kind %v", f.Kind)
}

func toWire(v any) any {
	switch v := v.(type) {
	case []byte:
		return strings.ToUpper(hex.EncodeToString(v))
	case time.Time:
		return v.Unix() - RippleEpoch
	case decimal.Decimal:
		return v.String()
	case Amount:
		return v.Stored()
	}
	return v
}

// WireMap returns the wire form as a map: the discriminant, every present
// field, and the hash and meta of a received transaction.
func (tx *Transaction) WireMap() map[string]any {
	m := tx.payloadMap()
	if tx.hash != "" {
		m[wireHash] = tx.hash
	}
	if len(tx.meta) > 0 {
		m[wireMeta] = tx.meta
	}
	return m
}

func (tx *Transaction) payloadMap() map[string]any {
	m := make(map[string]any, len(tx.fields)+1)
	m[fieldTransactionType] = string(tx.typ)
	for _, f := range tx.shape.fields {
		if v := tx.fields[f.Name]; v != nil {
			m[f.Name] = toWire(v)
		}
	}
	return m
}

// ToWire encodes the transaction as JSON with sorted keys. Absent fields are
// omitted.
func (tx *Transaction) ToWire() ([]byte, error) {
	return encodeCanonical(tx.WireMap())
}

// SigningPayload is the canonical encoding of everything that gets signed:
// all fields except TxnSignature, without hash and meta.
func (tx *Transaction) SigningPayload() ([]byte, error) {
	m := tx.payloadMap()
	delete(m, fieldTxnSignature)
	return encodeCanonical(m)
}

// SignedPayload is the canonical encoding of the signed transaction: the
// signing payload plus TxnSignature, without hash and meta.
func (tx *Transaction) SignedPayload() ([]byte, error) {
	return encodeCanonical(tx.payloadMap())
}

func encodeCanonical(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (tx *Transaction) MarshalJSON() ([]byte, error) {
	return tx.ToWire()
}

func (tx *Transaction) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data, ParseOptions{})
	if err != nil {
		return err
	}
	*tx = *parsed
	return nil
}

// Signature is what a Signer produces for a signing payload.
type Signature struct {
	TxnSignature []byte
	Hash         string
}

// Signer holds key material outside this package.
type Signer interface {
	PublicKey() []byte
	Sign(payload []byte) (Signature, error)
}

// Sign fills in SigningPubKey, asks s to sign the payload and finalizes the
// transaction with the resulting hash. The transaction is unchanged on error.
func (tx *Transaction) Sign(s Signer) error {
	if tx.IsFinalized() {
		return ErrFinalized
	}
	work := tx.Clone()
	if err := work.Set(fieldSigningPubKey, s.PublicKey()); err != nil {
		return err
	}
	if missing := work.Missing(); len(missing) > 0 {
		return &IncompleteError{work.typ, missing}
	}
	payload, err := work.SigningPayload()
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return fmt.Errorf("sign %s: %w", tx.typ, err)
	}
	if err := work.Set(fieldTxnSignature, sig.TxnSignature); err != nil {
		return err
	}
	if err := work.Finalize(sig.Hash); err != nil {
		return err
	}
	*tx = *work
	return nil
}
