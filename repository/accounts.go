// Package repository provides the wallet's account and transaction
// repositories on top of a walletstore.Store opened with the schemas chain.
package repository

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andreyvit/walletstore"
	"github.com/andreyvit/walletstore/schemas"
)

// Event topics published in addition to the Account entity topic.
const (
	TopicAccountCreate  = schemas.Account + ".create"
	TopicAccountRemove  = schemas.Account + ".remove"
	TopicAccountDefault = schemas.Account + ".default"
)

var (
	ErrAccountExists  = errors.New("account already exists")
	ErrReadonly       = errors.New("account is read-only")
	ErrNoOtherDefault = errors.New("no other visible account can become the default")
)

// Account is the typed form of an Account record.
type Account struct {
	Address         string
	Label           string
	PublicKey       string
	RegularKey      string
	AccessLevel     string
	EncryptionLevel string
	Type            string
	Default         bool
	Hidden          bool
	Order           int64
	Balance         decimal.Decimal
	OwnerCount      int64
	Sequence        int64
	Lines           []string
	AdditionalInfo  map[string]any
}

func (a *Account) IsFullAccess() bool { return a.AccessLevel == schemas.AccessFull }

// IsSpendable means the account can sign: full access and not hidden.
func (a *Account) IsSpendable() bool { return a.IsFullAccess() && !a.Hidden }

func accountFromRecord(rec walletstore.Record) *Account {
	return &Account{
		Address:         rec.String("address"),
		Label:           rec.String("label"),
		PublicKey:       rec.String("publicKey"),
		RegularKey:      rec.String("regularKey"),
		AccessLevel:     rec.String("accessLevel"),
		EncryptionLevel: rec.String("encryptionLevel"),
		Type:            rec.String("type"),
		Default:         rec.Bool("default"),
		Hidden:          rec.Bool("hidden"),
		Order:           rec.Int("order"),
		Balance:         rec.Decimal("balance"),
		OwnerCount:      rec.Int("ownerCount"),
		Sequence:        rec.Int("sequence"),
		Lines:           rec.List("lines"),
		AdditionalInfo:  rec.Object("additionalInfo"),
	}
}

func (a *Account) record() walletstore.Record {
	rec := walletstore.Record{
		"address":    a.Address,
		"default":    a.Default,
		"hidden":     a.Hidden,
		"order":      a.Order,
		"balance":    a.Balance,
		"ownerCount": a.OwnerCount,
		"sequence":   a.Sequence,
	}
	optional := map[string]string{
		"label":           a.Label,
		"publicKey":       a.PublicKey,
		"regularKey":      a.RegularKey,
		"accessLevel":     a.AccessLevel,
		"encryptionLevel": a.EncryptionLevel,
		"type":            a.Type,
	}
	for name, v := range optional {
		if v != "" {
			rec[name] = v
		}
	}
	if a.Lines != nil {
		rec["lines"] = slices.Clone(a.Lines)
	}
	if a.AdditionalInfo != nil {
		rec["additionalInfo"] = a.AdditionalInfo
	}
	return rec
}

// TrustLine is the typed form of a TrustLine record.
type TrustLine struct {
	Account  string
	Currency string
	Issuer   string
	Balance  decimal.Decimal
	Limit    decimal.Decimal
	NoRipple bool
}

func (l *TrustLine) ID() string {
	return schemas.TrustLineID(l.Account, l.Currency, l.Issuer)
}

func trustLineFromRecord(rec walletstore.Record) *TrustLine {
	return &TrustLine{
		Account:  rec.String("account"),
		Currency: rec.String("currency"),
		Issuer:   rec.String("issuer"),
		Balance:  rec.Decimal("balance"),
		Limit:    rec.Decimal("limit"),
		NoRipple: rec.Bool("noRipple"),
	}
}

// Accounts is the account repository.
type Accounts struct {
	s *walletstore.Store
}

func NewAccounts(s *walletstore.Store) *Accounts {
	return &Accounts{s: s}
}

// Add stores a new account. The first account becomes the default one, as
// does any account added with Default set.
func (r *Accounts) Add(acct *Account) (*Account, error) {
	if acct.Address == "" {
		return nil, fmt.Errorf("%w: account address is required", walletstore.ErrValidation)
	}
	var result *Account
	err := r.s.Update(func(tx *walletstore.Tx) error {
		if _, err := tx.Get(schemas.Account, acct.Address); err == nil {
			return fmt.Errorf("%w: %s", ErrAccountExists, acct.Address)
		} else if !walletstore.IsNotFound(err) {
			return err
		}
		n, err := tx.Count(schemas.Account)
		if err != nil {
			return err
		}
		rec := acct.record()
		rec["default"] = false
		if _, err := tx.Write(schemas.Account, rec); err != nil {
			return err
		}
		if n == 0 || acct.Default {
			if err := setDefault(tx, acct.Address); err != nil {
				return err
			}
		}
		stored, err := tx.Get(schemas.Account, acct.Address)
		if err != nil {
			return err
		}
		tx.Emit(TopicAccountCreate, acct.Address, stored)
		result = accountFromRecord(stored)
		return nil
	})
	return result, err
}

// Update applies a partial update to an existing account. A "default" change
// goes through the same path as SetDefault; clearing it moves the default to
// the first other visible account.
func (r *Accounts) Update(address string, changes walletstore.Record) (*Account, error) {
	var result *Account
	err := r.s.Update(func(tx *walletstore.Tx) error {
		acct, err := update(tx, address, changes)
		result = acct
		return err
	})
	return result, err
}

func update(tx *walletstore.Tx, address string, changes walletstore.Record) (*Account, error) {
	if _, err := tx.Get(schemas.Account, address); err != nil {
		return nil, err
	}
	rec := changes.Clone()
	if rec == nil {
		rec = walletstore.Record{}
	}
	rec["address"] = address
	def, hasDefault := rec["default"]
	delete(rec, "default")

	stored, err := tx.Write(schemas.Account, rec)
	if err != nil {
		return nil, err
	}
	if !hasDefault {
		return accountFromRecord(stored), nil
	}

	want, ok := def.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: Account.default: expected bool, got %T", walletstore.ErrValidation, def)
	}
	switch {
	case want:
		err = setDefault(tx, address)
	case stored.Bool("default"):
		var promoted bool
		promoted, err = promoteDefault(tx, address)
		if err == nil && !promoted {
			err = fmt.Errorf("%w: %s", ErrNoOtherDefault, address)
		}
	}
	if err != nil {
		return nil, err
	}
	stored, err = tx.Get(schemas.Account, address)
	if err != nil {
		return nil, err
	}
	return accountFromRecord(stored), nil
}

// promoteDefault makes the first visible account other than except the
// default. It reports false when there is no such account.
func promoteDefault(tx *walletstore.Tx, except string) (bool, error) {
	visible, err := findAccounts(tx, func(a *Account) bool { return !a.Hidden && a.Address != except })
	if err != nil {
		return false, err
	}
	if len(visible) == 0 {
		return false, nil
	}
	return true, setDefault(tx, visible[0].Address)
}

func (r *Accounts) Get(address string) (*Account, error) {
	rec, err := r.s.Get(schemas.Account, address)
	if err != nil {
		return nil, err
	}
	return accountFromRecord(rec), nil
}

// All returns every account ordered by Order, then address.
func (r *Accounts) All() ([]*Account, error) {
	return r.find(nil)
}

func (r *Accounts) find(pred func(a *Account) bool) ([]*Account, error) {
	var result []*Account
	err := r.s.View(func(tx *walletstore.Tx) error {
		var err error
		result, err = findAccounts(tx, pred)
		return err
	})
	return result, err
}

func findAccounts(tx *walletstore.Tx, pred func(a *Account) bool) ([]*Account, error) {
	recs, err := tx.Read(schemas.Account, nil)
	if err != nil {
		return nil, err
	}
	var result []*Account
	for _, rec := range recs {
		a := accountFromRecord(rec)
		if pred == nil || pred(a) {
			result = append(result, a)
		}
	}
	slices.SortFunc(result, func(a, b *Account) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), strings.Compare(a.Address, b.Address))
	})
	return result, nil
}

// DefaultAccount returns the account marked default, falling back to the
// first account when none is marked.
func (r *Accounts) DefaultAccount() (*Account, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, &walletstore.NotFoundError{Entity: schemas.Account, Key: "default"}
	}
	for _, a := range all {
		if a.Default {
			return a, nil
		}
	}
	return all[0], nil
}

// SetDefault makes address the only default account in one transaction.
func (r *Accounts) SetDefault(address string) error {
	return r.s.Update(func(tx *walletstore.Tx) error {
		return setDefault(tx, address)
	})
}

func setDefault(tx *walletstore.Tx, address string) error {
	target, err := tx.Get(schemas.Account, address)
	if err != nil {
		return err
	}
	if target.Bool("default") {
		return nil
	}
	current, err := tx.Read(schemas.Account, func(rec walletstore.Record) bool {
		return rec.Bool("default")
	})
	if err != nil {
		return err
	}
	for _, rec := range current {
		if _, err := tx.Write(schemas.Account, walletstore.Record{"address": rec.String("address"), "default": false}); err != nil {
			return err
		}
	}
	stored, err := tx.Write(schemas.Account, walletstore.Record{"address": address, "default": true})
	if err != nil {
		return err
	}
	tx.Emit(TopicAccountDefault, address, stored)
	return nil
}

// SpendableAccounts returns accounts that can sign transactions.
func (r *Accounts) SpendableAccounts() ([]*Account, error) {
	return r.find((*Account).IsSpendable)
}

// Downgrade turns a full access account into a read-only one.
func (r *Accounts) Downgrade(address string) (*Account, error) {
	return r.Update(address, walletstore.Record{"accessLevel": schemas.AccessReadonly})
}

// ChangeVisibility hides or shows an account. Hiding the default account
// moves the default to the first visible account, if any.
func (r *Accounts) ChangeVisibility(address string, hidden bool) (*Account, error) {
	var result *Account
	err := r.s.Update(func(tx *walletstore.Tx) error {
		acct, err := update(tx, address, walletstore.Record{"hidden": hidden})
		if err != nil {
			return err
		}
		if hidden && acct.Default {
			promoted, err := promoteDefault(tx, address)
			if err != nil {
				return err
			}
			if promoted {
				acct.Default = false
			}
		}
		result = acct
		return nil
	})
	return result, err
}

// FindByRegularKey returns the accounts whose regular key is key.
func (r *Accounts) FindByRegularKey(key string) ([]*Account, error) {
	return r.find(func(a *Account) bool { return a.RegularKey == key })
}

// IsRegularKey reports whether address serves as the regular key of another
// account in the wallet.
func (r *Accounts) IsRegularKey(address string) (bool, error) {
	found, err := r.FindByRegularKey(address)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// Purge removes an account together with its trust lines and transactions.
// When the default account is purged, the first remaining visible account
// becomes the default.
func (r *Accounts) Purge(address string) error {
	return r.s.Update(func(tx *walletstore.Tx) error {
		rec, err := tx.Get(schemas.Account, address)
		if err != nil {
			return err
		}
		owned := map[string]string{
			schemas.TrustLine:   "account",
			schemas.Transaction: "account",
		}
		for entity, field := range owned {
			recs, err := tx.Read(entity, func(rec walletstore.Record) bool {
				return rec.String(field) == address
			})
			if err != nil {
				return err
			}
			pk := tx.Schema().Entity(entity).PrimaryKey()
			for _, rec := range recs {
				if err := tx.Remove(entity, rec.String(pk)); err != nil {
					return err
				}
			}
		}
		if err := tx.Remove(schemas.Account, address); err != nil {
			return err
		}
		tx.Emit(TopicAccountRemove, address, rec)

		if rec.Bool("default") {
			_, err := promoteDefault(tx, address)
			return err
		}
		return nil
	})
}

// SetTrustLine creates or updates a trust line and links it to its account.
func (r *Accounts) SetTrustLine(line *TrustLine) error {
	return r.s.Update(func(tx *walletstore.Tx) error {
		acct, err := tx.Get(schemas.Account, line.Account)
		if err != nil {
			return err
		}
		id := line.ID()
		_, err = tx.Write(schemas.TrustLine, walletstore.Record{
			"id":       id,
			"account":  line.Account,
			"currency": line.Currency,
			"issuer":   line.Issuer,
			"balance":  line.Balance,
			"limit":    line.Limit,
			"noRipple": line.NoRipple,
		})
		if err != nil {
			return err
		}
		lines := acct.List("lines")
		if !slices.Contains(lines, id) {
			_, err = tx.Write(schemas.Account, walletstore.Record{
				"address": line.Account,
				"lines":   append(slices.Clone(lines), id),
			})
		}
		return err
	})
}

// TrustLines returns the trust lines linked to address, in link order.
func (r *Accounts) TrustLines(address string) ([]*TrustLine, error) {
	var result []*TrustLine
	err := r.s.View(func(tx *walletstore.Tx) error {
		acct, err := tx.Get(schemas.Account, address)
		if err != nil {
			return err
		}
		for _, id := range acct.List("lines") {
			rec, err := tx.Get(schemas.TrustLine, id)
			if walletstore.IsNotFound(err) {
				continue
			} else if err != nil {
				return err
			}
			result = append(result, trustLineFromRecord(rec))
		}
		return nil
	})
	return result, err
}

// OnChange calls fn with every created or updated account.
func (r *Accounts) OnChange(fn func(a *Account)) (cancel func()) {
	return r.s.Subscribe(schemas.Account, func(chg *walletstore.Change) error {
		if chg.HasRow() {
			fn(accountFromRecord(chg.Row()))
		}
		return nil
	})
}

func (r *Accounts) OnCreate(fn func(a *Account)) (cancel func()) {
	return r.subscribeEvent(TopicAccountCreate, fn)
}

func (r *Accounts) OnRemove(fn func(a *Account)) (cancel func()) {
	return r.subscribeEvent(TopicAccountRemove, fn)
}

func (r *Accounts) OnDefaultChange(fn func(a *Account)) (cancel func()) {
	return r.subscribeEvent(TopicAccountDefault, fn)
}

func (r *Accounts) subscribeEvent(topic string, fn func(a *Account)) func() {
	return r.s.Subscribe(topic, func(chg *walletstore.Change) error {
		fn(accountFromRecord(chg.Row()))
		return nil
	})
}
