package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andreyvit/walletstore"
)

// Transaction is one ledger transaction of a known variant. Until it is
// finalized with a hash it is a local draft identified by a random draft ID.
// A finalized transaction is read-only.
type Transaction struct {
	typ    TransactionType
	shape  *shape
	fields map[string]any
	hash   string
	meta   json.RawMessage
	draft  uuid.UUID
}

// New starts a local draft of the given variant.
func New(t TransactionType) (*Transaction, error) {
	sh, err := shapeOf(t)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		typ:    t,
		shape:  sh,
		fields: make(map[string]any),
		draft:  uuid.New(),
	}, nil
}

func (tx *Transaction) Type() TransactionType { return tx.typ }

// Fields returns the variant's field descriptors.
func (tx *Transaction) Fields() []Field { return slices.Clone(tx.shape.fields) }

// Hash is the ledger hash, empty for drafts.
func (tx *Transaction) Hash() string { return tx.hash }

func (tx *Transaction) IsFinalized() bool { return tx.hash != "" }

// DraftID identifies the local draft this transaction started as.
func (tx *Transaction) DraftID() uuid.UUID { return tx.draft }

// ID is the hash of a finalized transaction or the draft ID.
func (tx *Transaction) ID() string {
	if tx.hash != "" {
		return tx.hash
	}
	return tx.draft.String()
}

// Meta is the opaque ledger metadata attached to a received transaction.
func (tx *Transaction) Meta() json.RawMessage { return tx.meta }

func (tx *Transaction) SetMeta(meta json.RawMessage) {
	tx.meta = slices.Clone(meta)
}

func (tx *Transaction) Account() string       { return tx.String(fieldAccount) }
func (tx *Transaction) Sequence() int64       { return tx.Int(fieldSequence) }
func (tx *Transaction) Fee() decimal.Decimal  { return tx.Decimal(fieldFee) }
func (tx *Transaction) SigningPubKey() []byte { return tx.Blob(fieldSigningPubKey) }
func (tx *Transaction) TxnSignature() []byte  { return tx.Blob(fieldTxnSignature) }
func (tx *Transaction) Flags() int64          { return tx.Int(fieldFlags) }
func (tx *Transaction) Has(name string) bool  { return tx.fields[name] != nil }
func (tx *Transaction) Get(name string) any   { return tx.fields[name] }
func (tx *Transaction) String(name string) string {
	s, _ := tx.fields[name].(string)
	return s
}

func (tx *Transaction) Int(name string) int64 {
	n, _ := tx.fields[name].(int64)
	return n
}

func (tx *Transaction) Decimal(name string) decimal.Decimal {
	d, _ := tx.fields[name].(decimal.Decimal)
	return d
}

func (tx *Transaction) Time(name string) time.Time {
	t, _ := tx.fields[name].(time.Time)
	return t
}

func (tx *Transaction) Blob(name string) []byte {
	b, _ := tx.fields[name].([]byte)
	return slices.Clone(b)
}

func (tx *Transaction) Object(name string) any {
	return tx.fields[name]
}

func (tx *Transaction) Amount(name string) (Amount, bool) {
	a, ok := tx.fields[name].(Amount)
	return a, ok
}

// Present lists the names of fields with values, in declaration order.
func (tx *Transaction) Present() []string {
	var names []string
	for _, f := range tx.shape.fields {
		if tx.fields[f.Name] != nil {
			names = append(names, f.Name)
		}
	}
	return names
}

// Missing lists required fields without values.
func (tx *Transaction) Missing() []string {
	var names []string
	for _, f := range tx.shape.fields {
		if f.Required && tx.fields[f.Name] == nil {
			names = append(names, f.Name)
		}
	}
	return names
}

func (tx *Transaction) field(name string) (Field, error) {
	if name == fieldTransactionType {
		return Field{}, &FieldError{tx.typ, name, "the discriminant is fixed at construction", ErrImmutableField}
	}
	f, ok := tx.shape.byName[name]
	if !ok {
		return Field{}, &FieldError{tx.typ, name, "", ErrUndeclaredField}
	}
	return f, nil
}

func (tx *Transaction) coerce(name string, v any) (any, error) {
	f, err := tx.field(name)
	if err != nil {
		return nil, err
	}
	if f.Kind == walletstore.KindAmount {
		a, err := ToAmount(v)
		if err != nil {
			return nil, malformed(tx.typ, name, "%v", err)
		}
		return a, nil
	}
	cv, err := f.Kind.Coerce(v)
	if err != nil {
		return nil, malformed(tx.typ, name, "%v", err)
	}
	return cv, nil
}

// Set assigns one field. A nil value clears it.
func (tx *Transaction) Set(name string, v any) error {
	return tx.Merge(map[string]any{name: v})
}

func (tx *Transaction) Unset(name string) error {
	return tx.Merge(map[string]any{name: nil})
}

// Merge applies a partial update: every key is validated first, then all are
// applied together. Nil values clear fields.
func (tx *Transaction) Merge(values map[string]any) error {
	if tx.IsFinalized() {
		return ErrFinalized
	}
	coerced := make(map[string]any, len(values))
	for _, name := range sortedKeys(values) {
		v := values[name]
		if v == nil {
			if _, err := tx.field(name); err != nil {
				return err
			}
			coerced[name] = nil
			continue
		}
		cv, err := tx.coerce(name, v)
		if err != nil {
			return err
		}
		coerced[name] = cv
	}
	for name, v := range coerced {
		if v == nil {
			delete(tx.fields, name)
		} else {
			tx.fields[name] = v
		}
	}
	return nil
}

// Finalize records the ledger hash. All required fields must be present.
func (tx *Transaction) Finalize(hash string) error {
	if tx.IsFinalized() {
		return ErrFinalized
	}
	b, err := hex.DecodeString(hash)
	if err != nil || len(b) != 32 {
		return malformed(tx.typ, wireHash, "expected a 32-byte hex hash, got %q", hash)
	}
	if missing := tx.Missing(); len(missing) > 0 {
		return &IncompleteError{tx.typ, missing}
	}
	tx.hash = strings.ToUpper(hash)
	return nil
}

// Clone returns an independent copy with the same identity.
func (tx *Transaction) Clone() *Transaction {
	cp := *tx
	cp.fields = make(map[string]any, len(tx.fields))
	for k, v := range tx.fields {
		switch v := v.(type) {
		case []byte:
			cp.fields[k] = slices.Clone(v)
		default:
			cp.fields[k] = v
		}
	}
	cp.meta = slices.Clone(tx.meta)
	return &cp
}

// Same reports whether a and b are the same logical transaction: equal
// hashes once both are finalized, otherwise the same object.
func Same(a, b *Transaction) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.IsFinalized() && b.IsFinalized() {
		return a.hash == b.hash
	}
	return a == b
}

func (tx *Transaction) GoString() string {
	return fmt.Sprintf("ledger.Transaction{%s %s}", tx.typ, tx.ID())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
