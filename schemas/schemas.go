// Package schemas declares the wallet's schema chain: every version of the
// Core, Profile, Account, TrustLine, Contact and Transaction entities, and the
// migrations between them.
package schemas

import (
	"sync"

	"github.com/andreyvit/walletstore"
)

// Entity names.
const (
	Core        = "Core"
	Profile     = "Profile"
	Account     = "Account"
	TrustLine   = "TrustLine"
	Contact     = "Contact"
	Transaction = "Transaction"
)

// Account access levels.
const (
	AccessFull     = "Full"
	AccessReadonly = "Readonly"
)

// Account encryption levels.
const (
	EncryptionPasscode   = "Passcode"
	EncryptionPassphrase = "Passphrase"
)

// Account types.
const (
	AccountRegular = "Regular"
	AccountTangem  = "Tangem"
)

const (
	DefaultLanguage       = "en"
	DefaultTheme          = "light"
	DefaultAccountLabel   = "Personal account"
	LegacyDefaultNode     = "wss://xrplcluster.com"
	LegacyDefaultExplorer = "bithomp"
)

// Client-only Transaction fields. They are never part of the ledger payload.
const (
	LocalStatus = "localStatus"
	LocalNote   = "localNote"
)

// MetadataFields is passed as walletstore.Options.MetadataFields.
var MetadataFields = map[string][]string{
	Transaction: {LocalStatus, LocalNote},
}

var (
	registryOnce sync.Once
	registry     *walletstore.Registry
)

// Registry returns the full chain, oldest version first.
func Registry() *walletstore.Registry {
	registryOnce.Do(func() {
		registry = walletstore.MustRegistry(v1(), v2(), v3(), v4(), v5())
	})
	return registry
}

// Options returns store options wired with the wallet's metadata fields.
func Options(opt walletstore.Options) walletstore.Options {
	opt.MetadataFields = MetadataFields
	return opt
}

// Open creates a store for the wallet schema and brings it to the latest
// version.
func Open(path string, opt walletstore.Options) (*walletstore.Store, error) {
	s := walletstore.New(path, Registry(), Options(opt))
	if err := s.Open(); err != nil {
		return nil, err
	}
	return s, nil
}
