package ledger

import (
	"slices"

	"github.com/andreyvit/walletstore"
)

// TransactionType is the wire discriminant of a transaction.
type TransactionType string

const (
	AccountSet     TransactionType = "AccountSet"
	AccountDelete  TransactionType = "AccountDelete"
	CheckCancel    TransactionType = "CheckCancel"
	CheckCash      TransactionType = "CheckCash"
	CheckCreate    TransactionType = "CheckCreate"
	DepositPreauth TransactionType = "DepositPreauth"
	EscrowCancel   TransactionType = "EscrowCancel"
	EscrowCreate   TransactionType = "EscrowCreate"
	EscrowFinish   TransactionType = "EscrowFinish"
	OfferCancel    TransactionType = "OfferCancel"
	OfferCreate    TransactionType = "OfferCreate"
	Payment        TransactionType = "Payment"
	SetRegularKey  TransactionType = "SetRegularKey"
	SignerListSet  TransactionType = "SignerListSet"
	TrustSet       TransactionType = "TrustSet"
)

// Field describes one named wire field of a transaction variant.
type Field struct {
	Name     string
	Kind     walletstore.Kind
	Required bool
}

const (
	fieldTransactionType = "TransactionType"
	fieldAccount         = "Account"
	fieldSequence        = "Sequence"
	fieldFee             = "Fee"
	fieldSigningPubKey   = "SigningPubKey"
	fieldTxnSignature    = "TxnSignature"
	fieldFlags           = "Flags"

	wireHash = "hash"
	wireMeta = "meta"
)

func req(name string, kind walletstore.Kind) Field { return Field{name, kind, true} }
func opt(name string, kind walletstore.Kind) Field { return Field{name, kind, false} }

const (
	kString  = walletstore.KindString
	kInt     = walletstore.KindInt
	kDecimal = walletstore.KindDecimal
	kTime    = walletstore.KindTime
	kBlob    = walletstore.KindBlob
	kObject  = walletstore.KindObject
	kAmount  = walletstore.KindAmount
)

var envelopeFields = []Field{
	req(fieldAccount, kString),
	req(fieldSequence, kInt),
	req(fieldFee, kDecimal),
	req(fieldSigningPubKey, kBlob),
	opt(fieldTxnSignature, kBlob),
	opt(fieldFlags, kInt),
	opt("LastLedgerSequence", kInt),
	opt("SourceTag", kInt),
	opt("TicketSequence", kInt),
	opt("AccountTxnID", kBlob),
	opt("NetworkID", kInt),
	opt("Memos", kObject),
	opt("Signers", kObject),
}

var variantFields = map[TransactionType][]Field{
	AccountSet: {
		opt("ClearFlag", kInt),
		opt("SetFlag", kInt),
		opt("Domain", kBlob),
		opt("EmailHash", kBlob),
		opt("MessageKey", kBlob),
		opt("TransferRate", kInt),
		opt("TickSize", kInt),
		opt("NFTokenMinter", kString),
	},
	AccountDelete: {
		req("Destination", kString),
		opt("DestinationTag", kInt),
	},
	CheckCancel: {
		req("CheckID", kBlob),
	},
	CheckCash: {
		req("CheckID", kBlob),
		opt("Amount", kAmount),
		opt("DeliverMin", kAmount),
	},
	CheckCreate: {
		req("Destination", kString),
		req("SendMax", kAmount),
		opt("DestinationTag", kInt),
		opt("Expiration", kTime),
		opt("InvoiceID", kBlob),
	},
	DepositPreauth: {
		opt("Authorize", kString),
		opt("Unauthorize", kString),
	},
	EscrowCancel: {
		req("Owner", kString),
		req("OfferSequence", kInt),
	},
	EscrowCreate: {
		req("Amount", kAmount),
		req("Destination", kString),
		opt("DestinationTag", kInt),
		opt("CancelAfter", kTime),
		opt("FinishAfter", kTime),
		opt("Condition", kBlob),
	},
	EscrowFinish: {
		req("Owner", kString),
		req("OfferSequence", kInt),
		opt("Condition", kBlob),
		opt("Fulfillment", kBlob),
	},
	OfferCancel: {
		req("OfferSequence", kInt),
	},
	OfferCreate: {
		req("TakerGets", kAmount),
		req("TakerPays", kAmount),
		opt("Expiration", kTime),
		opt("OfferSequence", kInt),
	},
	Payment: {
		req("Amount", kAmount),
		req("Destination", kString),
		opt("DestinationTag", kInt),
		opt("InvoiceID", kBlob),
		opt("Paths", kObject),
		opt("SendMax", kAmount),
		opt("DeliverMin", kAmount),
	},
	SetRegularKey: {
		opt("RegularKey", kString),
	},
	SignerListSet: {
		req("SignerQuorum", kInt),
		opt("SignerEntries", kObject),
	},
	TrustSet: {
		req("LimitAmount", kAmount),
		opt("QualityIn", kInt),
		opt("QualityOut", kInt),
	},
}

type shape struct {
	fields []Field
	byName map[string]Field
}

var shapes = buildShapes()

func buildShapes() map[TransactionType]*shape {
	result := make(map[TransactionType]*shape, len(variantFields))
	for typ, fields := range variantFields {
		sh := &shape{byName: make(map[string]Field)}
		for _, f := range slices.Concat(envelopeFields, fields) {
			if _, dup := sh.byName[f.Name]; dup {
				panic("ledger: duplicate field " + f.Name + " in " + string(typ))
			}
			sh.fields = append(sh.fields, f)
			sh.byName[f.Name] = f
		}
		result[typ] = sh
	}
	return result
}

func shapeOf(t TransactionType) (*shape, error) {
	sh := shapes[t]
	if sh == nil {
		return nil, &VariantError{Type: string(t)}
	}
	return sh, nil
}

// FieldsFor returns the fields of a variant: the common envelope first, then
// the variant's own fields, in declaration order.
func FieldsFor(t TransactionType) ([]Field, error) {
	sh, err := shapeOf(t)
	if err != nil {
		return nil, err
	}
	return slices.Clone(sh.fields), nil
}

// Types lists every known variant in alphabetical order.
func Types() []TransactionType {
	types := make([]TransactionType, 0, len(variantFields))
	for t := range variantFields {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

func (t TransactionType) Valid() bool {
	return shapes[t] != nil
}
