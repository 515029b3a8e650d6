package schemas

import (
	ws "github.com/andreyvit/walletstore"
)

var coreV3 = ws.DefineEntity(Core, func(b *ws.EntityBuilder) {
	b.Extend(coreV2, "showMemoAlert")
	b.Field("defaultExplorer", ws.KindString, ws.Default(LegacyDefaultExplorer))
	b.Field("hapticFeedback", ws.KindBool, ws.Default(true))
})

func v3() *ws.SchemaVersion {
	return ws.NewVersion(3, migrateV3, coreV3, profileV1, accountV1, trustLineV1, contactV1)
}

func migrateV3(m *ws.Migration) error {
	m.Logger().Info("migrating Core schema", "version", m.Version())
	for _, core := range m.Objects(Core) {
		core["hapticFeedback"] = true
		core["defaultExplorer"] = LegacyDefaultExplorer
	}
	return nil
}
