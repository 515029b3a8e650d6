package schemas

import (
	ws "github.com/andreyvit/walletstore"
)

var coreV2 = ws.DefineEntity(Core, func(b *ws.EntityBuilder) {
	b.Extend(coreV1)
	b.Field("lastPasscodeFailedTimestamp", ws.KindInt, ws.Optional())
	b.Field("passcodeFailedAttempts", ws.KindInt, ws.Default(0))
	b.Field("lastUnlockedTimestamp", ws.KindInt, ws.Optional())
	b.Field("purgeOnBruteForce", ws.KindBool, ws.Default(false))
	b.Field("theme", ws.KindString, ws.Default(DefaultTheme))
	b.Field("showMemoAlert", ws.KindBool, ws.Default(true))
})

func v2() *ws.SchemaVersion {
	return ws.NewVersion(2, migrateV2, coreV2, profileV1, accountV1, trustLineV1, contactV1)
}

// migrateV2 starts the brute-force counters from a clean state.
func migrateV2(m *ws.Migration) error {
	m.Logger().Info("migrating Core schema", "version", m.Version())
	for _, core := range m.Objects(Core) {
		core["lastPasscodeFailedTimestamp"] = int64(0)
		core["passcodeFailedAttempts"] = int64(0)
		core["lastUnlockedTimestamp"] = int64(0)
		core["purgeOnBruteForce"] = false
		core["theme"] = DefaultTheme
	}
	return nil
}
