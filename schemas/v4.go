package schemas

import (
	"time"

	ws "github.com/andreyvit/walletstore"
)

func now() any { return time.Now().UTC() }

var profileV4 = ws.DefineEntity(Profile, func(b *ws.EntityBuilder) {
	b.Extend(profileV1)
	b.Field("hasPro", ws.KindBool, ws.Default(false))
	b.Field("registerAt", ws.KindTime, ws.DefaultFunc(now))
	b.Field("lastSync", ws.KindTime, ws.DefaultFunc(now))
})

var accountV4 = ws.DefineEntity(Account, func(b *ws.EntityBuilder) {
	b.Extend(accountV1)
	b.Field("hidden", ws.KindBool, ws.Default(false))
})

func v4() *ws.SchemaVersion {
	return ws.NewVersion(4, migrateV4, coreV3, profileV4, accountV4, trustLineV1, contactV1)
}

// migrateV4 forces a fresh API session: the refresh token format changed
// together with the profile shape.
func migrateV4(m *ws.Migration) error {
	m.Logger().Info("migrating Profile schema", "version", m.Version())
	for _, profile := range m.Objects(Profile) {
		profile["refreshToken"] = nil
		profile["bearerHash"] = nil
	}
	return nil
}
