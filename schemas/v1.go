package schemas

import (
	ws "github.com/andreyvit/walletstore"
)

var coreV1 = ws.DefineEntity(Core, func(b *ws.EntityBuilder) {
	b.Singleton()
	b.Field("initialized", ws.KindBool, ws.Default(false))
	b.Field("passcode", ws.KindString, ws.Optional())
	b.Field("minutesAutoLock", ws.KindInt, ws.Default(1))
	b.Field("biometricMethod", ws.KindString, ws.Optional())
	b.Field("passcodeFallback", ws.KindBool, ws.Default(false))
	b.Field("language", ws.KindString, ws.Default(DefaultLanguage))
	b.Field("defaultNode", ws.KindString, ws.Default(LegacyDefaultNode))
})

var profileV1 = ws.DefineEntity(Profile, func(b *ws.EntityBuilder) {
	b.Singleton()
	b.Field("username", ws.KindString, ws.Optional())
	b.Field("slug", ws.KindString, ws.Optional())
	b.Field("uuid", ws.KindString, ws.Optional())
	b.Field("deviceUUID", ws.KindString, ws.Optional())
	b.Field("signedTOSVersion", ws.KindInt, ws.Optional())
	b.Field("signedTOSDate", ws.KindTime, ws.Optional())
	b.Field("accessToken", ws.KindString, ws.Optional())
	b.Field("refreshToken", ws.KindString, ws.Optional())
	b.Field("bearerHash", ws.KindString, ws.Optional())
	b.Field("idempotency", ws.KindInt, ws.Default(0))
})

var accountV1 = ws.DefineEntity(Account, func(b *ws.EntityBuilder) {
	b.Field("address", ws.KindString)
	b.PrimaryKey("address")
	b.Field("label", ws.KindString, ws.Default(DefaultAccountLabel))
	b.Field("publicKey", ws.KindString, ws.Optional())
	b.Field("regularKey", ws.KindString, ws.Optional())
	b.Field("accessLevel", ws.KindString, ws.Default(AccessFull))
	b.Field("encryptionLevel", ws.KindString, ws.Default(EncryptionPasscode))
	b.Field("type", ws.KindString, ws.Default(AccountRegular))
	b.Field("default", ws.KindBool, ws.Default(false))
	b.Field("order", ws.KindInt, ws.Default(0))
	b.Field("balance", ws.KindDecimal, ws.Default("0"))
	b.Field("ownerCount", ws.KindInt, ws.Default(0))
	b.Field("sequence", ws.KindInt, ws.Default(0))
	b.Field("lines", ws.KindList, ws.Default([]string{}))
	b.Field("additionalInfo", ws.KindObject, ws.Optional())
})

var trustLineV1 = ws.DefineEntity(TrustLine, func(b *ws.EntityBuilder) {
	b.Field("id", ws.KindString)
	b.PrimaryKey("id")
	b.Field("account", ws.KindString)
	b.Field("currency", ws.KindString)
	b.Field("issuer", ws.KindString)
	b.Field("balance", ws.KindDecimal, ws.Default("0"))
	b.Field("limit", ws.KindDecimal, ws.Default("0"))
	b.Field("noRipple", ws.KindBool, ws.Default(false))
})

var contactV1 = ws.DefineEntity(Contact, func(b *ws.EntityBuilder) {
	b.Field("name", ws.KindString)
	b.Field("address", ws.KindString)
	b.Field("destinationTag", ws.KindString, ws.Optional())
})

func v1() *ws.SchemaVersion {
	return ws.NewVersion(1, nil, coreV1, profileV1, accountV1, trustLineV1, contactV1)
}

// TrustLineID is the primary key of the trust line of account in
// currency/issuer.
func TrustLineID(account, currency, issuer string) string {
	return account + "." + currency + "." + issuer
}
