package ledger

import "time"

// Variant is a typed view of a transaction. The set of implementations is
// closed: one per TransactionType.
type Variant interface {
	Tx() *Transaction
	variant()
}

type base struct{ tx *Transaction }

func (b base) Tx() *Transaction { return b.tx }
func (base) variant()           {}

func (b base) amount(name string) Amount {
	a, _ := b.tx.Amount(name)
	return a
}

func (b base) timeOf(name string) (time.Time, bool) {
	t := b.tx.Time(name)
	return t, !t.IsZero()
}

type (
	AccountSetTx     struct{ base }
	AccountDeleteTx  struct{ base }
	CheckCancelTx    struct{ base }
	CheckCashTx      struct{ base }
	CheckCreateTx    struct{ base }
	DepositPreauthTx struct{ base }
	EscrowCancelTx   struct{ base }
	EscrowCreateTx   struct{ base }
	EscrowFinishTx   struct{ base }
	OfferCancelTx    struct{ base }
	OfferCreateTx    struct{ base }
	PaymentTx        struct{ base }
	SetRegularKeyTx  struct{ base }
	SignerListSetTx  struct{ base }
	TrustSetTx       struct{ base }
)

// Variant returns the typed view matching the transaction's discriminant.
func (tx *Transaction) Variant() Variant {
	b := base{tx}
	switch tx.typ {
	case AccountSet:
		return AccountSetTx{b}
	case AccountDelete:
		return AccountDeleteTx{b}
	case CheckCancel:
		return CheckCancelTx{b}
	case CheckCash:
		return CheckCashTx{b}
	case CheckCreate:
		return CheckCreateTx{b}
	case DepositPreauth:
		return DepositPreauthTx{b}
	case EscrowCancel:
		return EscrowCancelTx{b}
	case EscrowCreate:
		return EscrowCreateTx{b}
	case EscrowFinish:
		return EscrowFinishTx{b}
	case OfferCancel:
		return OfferCancelTx{b}
	case OfferCreate:
		return OfferCreateTx{b}
	case Payment:
		return PaymentTx{b}
	case SetRegularKey:
		return SetRegularKeyTx{b}
	case SignerListSet:
		return SignerListSetTx{b}
	case TrustSet:
		return TrustSetTx{b}
	}
	panic("ledger: unhandled transaction type " + string(tx.typ))
}

func (v AccountSetTx) SetFlag() int64   { return v.tx.Int("SetFlag") }
func (v AccountSetTx) ClearFlag() int64 { return v.tx.Int("ClearFlag") }
func (v AccountSetTx) Domain() string   { return string(v.tx.Blob("Domain")) }

func (v AccountDeleteTx) Destination() string         { return v.tx.String("Destination") }
func (v AccountDeleteTx) DestinationTag() int64       { return v.tx.Int("DestinationTag") }
func (v CheckCancelTx) CheckID() []byte               { return v.tx.Blob("CheckID") }
func (v CheckCashTx) CheckID() []byte                 { return v.tx.Blob("CheckID") }
func (v CheckCashTx) Amount() Amount                  { return v.amount("Amount") }
func (v CheckCashTx) DeliverMin() Amount              { return v.amount("DeliverMin") }
func (v CheckCreateTx) Destination() string           { return v.tx.String("Destination") }
func (v CheckCreateTx) SendMax() Amount               { return v.amount("SendMax") }
func (v CheckCreateTx) Expiration() (time.Time, bool) { return v.timeOf("Expiration") }

func (v DepositPreauthTx) Authorize() string   { return v.tx.String("Authorize") }
func (v DepositPreauthTx) Unauthorize() string { return v.tx.String("Unauthorize") }

func (v EscrowCancelTx) Owner() string                  { return v.tx.String("Owner") }
func (v EscrowCancelTx) OfferSequence() int64           { return v.tx.Int("OfferSequence") }
func (v EscrowCreateTx) Destination() string            { return v.tx.String("Destination") }
func (v EscrowCreateTx) Amount() Amount                 { return v.amount("Amount") }
func (v EscrowCreateTx) FinishAfter() (time.Time, bool) { return v.timeOf("FinishAfter") }
func (v EscrowCreateTx) CancelAfter() (time.Time, bool) { return v.timeOf("CancelAfter") }
func (v EscrowFinishTx) Owner() string                  { return v.tx.String("Owner") }
func (v EscrowFinishTx) OfferSequence() int64           { return v.tx.Int("OfferSequence") }

func (v OfferCancelTx) OfferSequence() int64 { return v.tx.Int("OfferSequence") }
func (v OfferCreateTx) TakerGets() Amount    { return v.amount("TakerGets") }
func (v OfferCreateTx) TakerPays() Amount    { return v.amount("TakerPays") }

func (v PaymentTx) Destination() string { return v.tx.String("Destination") }
func (v PaymentTx) DestinationTag() (int64, bool) {
	return v.tx.Int("DestinationTag"), v.tx.Has("DestinationTag")
}
func (v PaymentTx) Amount() Amount     { return v.amount("Amount") }
func (v PaymentTx) SendMax() Amount    { return v.amount("SendMax") }
func (v PaymentTx) DeliverMin() Amount { return v.amount("DeliverMin") }
func (v PaymentTx) InvoiceID() []byte  { return v.tx.Blob("InvoiceID") }

// RegularKey is empty when the transaction removes the regular key.
func (v SetRegularKeyTx) RegularKey() string { return v.tx.String("RegularKey") }

func (v SignerListSetTx) SignerQuorum() int64 { return v.tx.Int("SignerQuorum") }
func (v SignerListSetTx) SignerEntries() any  { return v.tx.Object("SignerEntries") }

func (v TrustSetTx) LimitAmount() Amount { return v.amount("LimitAmount") }
func (v TrustSetTx) QualityIn() int64    { return v.tx.Int("QualityIn") }
func (v TrustSetTx) QualityOut() int64   { return v.tx.Int("QualityOut") }
