package ledger

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	bob   = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
	gw    = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"

	paymentHash = "e3fe6ea3d48f0c2b639448020ea4f03d4f4f8ffdb243a852a0f59177921b4879"
	checkID     = "49647F0D748DC3FE26BDACBC57F251AADEFFF391403EC9BF87C97F67E9977FB0"
)

const paymentWire = `{
	"TransactionType": "Payment",
	"Account": "` + alice + `",
	"Destination": "` + bob + `",
	"Amount": {"currency": "USD", "issuer": "` + gw + `", "value": "1.50"},
	"Fee": "12",
	"Sequence": 5,
	"Flags": 2147483648,
	"SigningPubKey": "03ab",
	"TxnSignature": "3045",
	"DestinationTag": 7,
	"Memos": [{"Memo": {"MemoData": "68656C6C6F"}}],
	"ledger_index": 123,
	"hash": "` + paymentHash + `",
	"meta": {"TransactionResult": "tesSUCCESS"}
}`

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestFieldsFor(t *testing.T) {
	fields, err := FieldsFor(SetRegularKey)
	require.NoError(t, err)
	assert.Equal(t, "Account", fields[0].Name)
	assert.Equal(t, "RegularKey", fields[len(fields)-1].Name)
	assert.False(t, fields[len(fields)-1].Required)

	_, err = FieldsFor("Teleport")
	assert.ErrorIs(t, err, ErrUnknownVariant)
	var ve *VariantError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Teleport", ve.Type)

	assert.Len(t, Types(), 15)
	for _, typ := range Types() {
		assert.True(t, typ.Valid(), typ)
		tx, err := New(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, tx.Type())
		assert.NotNil(t, tx.Variant())
	}
}

func TestToWire_SetRegularKeyWithoutFee(t *testing.T) {
	tx, err := New(SetRegularKey)
	require.NoError(t, err)
	require.NoError(t, tx.Merge(map[string]any{
		"Account":       alice,
		"Sequence":      12,
		"RegularKey":    bob,
		"SigningPubKey": "03ab",
	}))

	data, err := tx.ToWire()
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"Fee"`)
	assert.NotContains(t, string(data), "null")
	newGoldie(t).Assert(t, "set_regular_key", data)

	assert.Equal(t, bob, tx.Variant().(SetRegularKeyTx).RegularKey())
	assert.False(t, tx.IsFinalized())
	assert.Equal(t, tx.DraftID().String(), tx.ID())
}

func TestParse_FinalizedPayment(t *testing.T) {
	tx, err := Parse([]byte(paymentWire), ParseOptions{})
	require.NoError(t, err)

	assert.True(t, tx.IsFinalized())
	assert.Equal(t, strings.ToUpper(paymentHash), tx.Hash())
	assert.Equal(t, alice, tx.Account())
	assert.Equal(t, int64(5), tx.Sequence())
	assert.Equal(t, "12", tx.Fee().String())
	assert.Equal(t, []byte{0x03, 0xAB}, tx.SigningPubKey())
	assert.JSONEq(t, `{"TransactionResult":"tesSUCCESS"}`, string(tx.Meta()))
	assert.False(t, tx.Has("ledger_index"))

	p := tx.Variant().(PaymentTx)
	assert.Equal(t, bob, p.Destination())
	assert.Equal(t, IssuedAmount("USD", gw, "1.50"), p.Amount())
	assert.Equal(t, "1.5", p.Amount().Decimal().String())
	tag, ok := p.DestinationTag()
	assert.True(t, ok)
	assert.Equal(t, int64(7), tag)

	data, err := tx.ToWire()
	require.NoError(t, err)
	newGoldie(t).Assert(t, "payment_finalized", data)

	assert.ErrorIs(t, tx.Set("Fee", "10"), ErrFinalized)
	assert.ErrorIs(t, tx.Finalize(paymentHash), ErrFinalized)
}

func TestParse_RoundTripEveryVariant(t *testing.T) {
	envelope := `"Account":"` + alice + `","Sequence":3,"Fee":"10","SigningPubKey":"ED01","Flags":0,"LastLedgerSequence":800,"SourceTag":9`
	bodies := map[TransactionType]string{
		AccountSet:     `"SetFlag":8,"ClearFlag":4,"Domain":"6578616D706C652E636F6D","TransferRate":1002000000,"TickSize":5`,
		AccountDelete:  `"Destination":"` + bob + `","DestinationTag":13`,
		CheckCancel:    `"CheckID":"` + checkID + `"`,
		CheckCash:      `"CheckID":"` + checkID + `","Amount":"100000000"`,
		CheckCreate:    `"Destination":"` + bob + `","SendMax":"100000000","Expiration":570113521,"InvoiceID":"6F1DFD1D0FE8A32E40E1F2C05CF1C15545BAB56B617F9C6C2D63A6B704BEF59B"`,
		DepositPreauth: `"Authorize":"` + bob + `"`,
		EscrowCancel:   `"Owner":"` + bob + `","OfferSequence":7`,
		EscrowCreate:   `"Amount":"10000","Destination":"` + bob + `","CancelAfter":533257958,"FinishAfter":533171558,"Condition":"A0258020"`,
		EscrowFinish:   `"Owner":"` + bob + `","OfferSequence":7,"Condition":"A0258020","Fulfillment":"A0228020"`,
		OfferCancel:    `"OfferSequence":6`,
		OfferCreate:    `"TakerGets":"6000000","TakerPays":{"currency":"GKO","issuer":"` + gw + `","value":"2"},"Expiration":595640108`,
		Payment:        `"Amount":"1000","Destination":"` + bob + `","Paths":[[{"account":"` + gw + `","type":1}]],"SendMax":"1100"`,
		SetRegularKey:  `"RegularKey":"` + bob + `"`,
		SignerListSet:  `"SignerQuorum":3,"SignerEntries":[{"SignerEntry":{"Account":"` + bob + `","SignerWeight":2}}]`,
		TrustSet:       `"LimitAmount":{"currency":"USD","issuer":"` + gw + `","value":"100"},"QualityIn":0,"QualityOut":1`,
	}
	require.Len(t, bodies, len(Types()))

	for typ, body := range bodies {
		t.Run(string(typ), func(t *testing.T) {
			in := `{"TransactionType":"` + string(typ) + `",` + envelope + `,` + body + `,"Unknown":"dropped"}`
			tx, err := Parse([]byte(in), ParseOptions{})
			require.NoError(t, err)
			assert.Empty(t, tx.Missing())

			out, err := tx.ToWire()
			require.NoError(t, err)

			var inMap, outMap map[string]any
			require.NoError(t, json.Unmarshal([]byte(in), &inMap))
			require.NoError(t, json.Unmarshal(out, &outMap))
			delete(inMap, "Unknown")
			assert.Equal(t, inMap, outMap)

			again, err := Parse(out, ParseOptions{})
			require.NoError(t, err)
			assert.Equal(t, tx.Present(), again.Present())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`{"TransactionType":"Payment","Sequence":"five"}`), ParseOptions{})
	assert.ErrorIs(t, err, ErrMalformedTransaction)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Sequence", fe.Field)
	assert.Equal(t, Payment, fe.Type)

	_, err = Parse([]byte(`{"TransactionType":"Payment","Amount":"1.5"}`), ParseOptions{})
	assert.ErrorIs(t, err, ErrMalformedTransaction)

	_, err = Parse([]byte(`{"TransactionType":"Payment","SigningPubKey":"XYZ"}`), ParseOptions{})
	assert.ErrorIs(t, err, ErrMalformedTransaction)

	_, err = Parse([]byte(`{"TransactionType":"Teleport"}`), ParseOptions{})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = Parse([]byte(`{"Account":"`+alice+`"}`), ParseOptions{})
	assert.ErrorIs(t, err, ErrMalformedTransaction)

	_, err = Parse([]byte(`[1,2]`), ParseOptions{})
	assert.ErrorIs(t, err, ErrMalformedTransaction)

	_, err = Parse([]byte(`{"TransactionType":"SetRegularKey","Account":"`+alice+`","hash":"`+paymentHash+`"}`), ParseOptions{})
	assert.ErrorIs(t, err, ErrIncompleteTransaction)
	var ie *IncompleteError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{"Sequence", "Fee", "SigningPubKey"}, ie.Missing)
}

func TestParse_DefaultTypeAndMeta(t *testing.T) {
	tx, err := Parse([]byte(`{"Account":"`+alice+`","RegularKey":"`+bob+`"}`), ParseOptions{
		DefaultType: SetRegularKey,
		Meta:        json.RawMessage(`{"delivered":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, SetRegularKey, tx.Type())
	assert.Equal(t, `{"delivered":true}`, string(tx.Meta()))

	tx, err = Parse([]byte(`{"TransactionType":"AccountSet","Account":"`+alice+`"}`), ParseOptions{DefaultType: SetRegularKey})
	require.NoError(t, err)
	assert.Equal(t, AccountSet, tx.Type())
}

func TestMerge_IsAtomic(t *testing.T) {
	tx, err := New(Payment)
	require.NoError(t, err)
	require.NoError(t, tx.Set("Amount", Drops(1000)))

	err = tx.Merge(map[string]any{
		"Destination": bob,
		"Sequence":    "not a number",
	})
	assert.ErrorIs(t, err, ErrMalformedTransaction)
	assert.False(t, tx.Has("Destination"))

	assert.ErrorIs(t, tx.Set("RegularKey", bob), ErrUndeclaredField)
	assert.ErrorIs(t, tx.Set("TransactionType", "TrustSet"), ErrImmutableField)
	assert.ErrorIs(t, tx.Unset("Nope"), ErrUndeclaredField)

	require.NoError(t, tx.Merge(map[string]any{"Destination": bob, "DestinationTag": 3}))
	require.NoError(t, tx.Unset("DestinationTag"))
	assert.Equal(t, []string{"Amount", "Destination"}, tx.Present())
}

func TestTimeFieldsUseLedgerEpoch(t *testing.T) {
	tx, err := Parse([]byte(`{"TransactionType":"EscrowCreate","FinishAfter":1000}`), ParseOptions{})
	require.NoError(t, err)
	finish, ok := tx.Variant().(EscrowCreateTx).FinishAfter()
	require.True(t, ok)
	assert.Equal(t, time.Date(2000, 1, 1, 0, 16, 40, 0, time.UTC), finish)

	_, ok = tx.Variant().(EscrowCreateTx).CancelAfter()
	assert.False(t, ok)
}

type fakeSigner struct {
	payload []byte
	fail    bool
}

func (s *fakeSigner) PublicKey() []byte { return []byte{0xED, 0x01} }

func (s *fakeSigner) Sign(payload []byte) (Signature, error) {
	if s.fail {
		return Signature{}, errors.New("device locked")
	}
	s.payload = payload
	return Signature{TxnSignature: []byte{0x30, 0x44}, Hash: paymentHash}, nil
}

func TestSign(t *testing.T) {
	draft := func() *Transaction {
		tx, err := New(Payment)
		require.NoError(t, err)
		require.NoError(t, tx.Merge(map[string]any{
			"Account":     alice,
			"Destination": bob,
			"Amount":      "1000",
			"Fee":         "12",
			"Sequence":    1,
		}))
		return tx
	}

	tx := draft()
	err := tx.Sign(&fakeSigner{fail: true})
	assert.ErrorContains(t, err, "device locked")
	assert.False(t, tx.IsFinalized())
	assert.False(t, tx.Has("SigningPubKey"))

	s := &fakeSigner{}
	require.NoError(t, tx.Sign(s))
	assert.True(t, tx.IsFinalized())
	assert.Equal(t, []byte{0x30, 0x44}, tx.TxnSignature())
	assert.Equal(t, `{"Account":"`+alice+`","Amount":"1000","Destination":"`+bob+`","Fee":"12","Sequence":1,"SigningPubKey":"ED01","TransactionType":"Payment"}`, string(s.payload))

	payload, err := tx.SigningPayload()
	require.NoError(t, err)
	assert.Equal(t, string(s.payload), string(payload))

	incomplete, err := New(Payment)
	require.NoError(t, err)
	assert.ErrorIs(t, incomplete.Sign(s), ErrIncompleteTransaction)

	other := draft()
	assert.False(t, Same(tx, other))
	assert.True(t, Same(other, other))
	require.NoError(t, other.Set("SigningPubKey", []byte{0xED, 0x01}))
	require.NoError(t, other.Finalize(strings.ToUpper(paymentHash)))
	assert.True(t, Same(tx, other))
}

func TestJSONMarshaling(t *testing.T) {
	tx, err := Parse([]byte(paymentWire), ParseOptions{})
	require.NoError(t, err)

	data, err := json.Marshal(tx)
	require.NoError(t, err)

	var back Transaction
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Same(tx, &back))
	assert.Equal(t, tx.Present(), back.Present())
}
