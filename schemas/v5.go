package schemas

import (
	"strconv"
	"strings"

	ws "github.com/andreyvit/walletstore"
)

var contactV5 = ws.DefineEntity(Contact, func(b *ws.EntityBuilder) {
	b.Extend(contactV1, "destinationTag")
	b.Field("destinationTag", ws.KindInt, ws.Optional())
})

// transactionV5 keeps ledger transactions as their canonical wire JSON.
// Drafts are keyed by draft ID, finalized transactions by hash.
var transactionV5 = ws.DefineEntity(Transaction, func(b *ws.EntityBuilder) {
	b.Field("id", ws.KindString)
	b.PrimaryKey("id")
	b.Field("account", ws.KindString)
	b.Field("type", ws.KindString)
	b.Field("draftID", ws.KindString)
	b.Field("hash", ws.KindString, ws.Optional())
	b.Field("finalized", ws.KindBool, ws.Default(false))
	b.Field("payload", ws.KindString)
	b.Field("createdAt", ws.KindTime, ws.DefaultFunc(now))
})

func v5() *ws.SchemaVersion {
	return ws.NewVersion(5, migrateV5, coreV3, profileV4, accountV4, trustLineV1, contactV5, transactionV5)
}

// migrateV5 converts contact destination tags from free text to integers.
// Tags that are not valid 32-bit unsigned numbers are dropped.
func migrateV5(m *ws.Migration) error {
	oldTags := make(map[string]string)
	for _, old := range m.Old(Contact) {
		oldTags[old.String(ws.IDField)] = old.String("destinationTag")
	}
	for _, contact := range m.Objects(Contact) {
		s := strings.TrimSpace(oldTags[contact.String(ws.IDField)])
		if s == "" {
			continue
		}
		tag, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			m.Logger().Warn("dropping invalid destination tag", "contact", contact.String(ws.IDField), "tag", s)
			continue
		}
		contact["destinationTag"] = int64(tag)
	}
	return nil
}
