package repository

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/walletstore"
	"github.com/andreyvit/walletstore/ledger"
	"github.com/andreyvit/walletstore/schemas"
)

// StoredTransaction is a ledger transaction together with its owner and the
// client-only metadata kept next to it.
type StoredTransaction struct {
	Tx          *ledger.Transaction
	Owner       string
	LocalStatus string
	LocalNote   string
	CreatedAt   time.Time
}

// Transactions is the transaction repository.
type Transactions struct {
	s *walletstore.Store
}

func NewTransactions(s *walletstore.Store) *Transactions {
	return &Transactions{s: s}
}

// Save persists tx for the owner account. Drafts are stored under their draft
// ID and only accepted for full access accounts. A finalized transaction is
// stored under its hash, replacing its draft row and inheriting its local
// metadata; once stored, its signed payload can never change. Saving it
// again with ledger meta attaches the meta.
func (r *Transactions) Save(owner string, tx *ledger.Transaction) error {
	payload, err := tx.ToWire()
	if err != nil {
		return err
	}
	signed, err := tx.SignedPayload()
	if err != nil {
		return err
	}
	return r.s.Update(func(wtx *walletstore.Tx) error {
		acct, err := wtx.Get(schemas.Account, owner)
		if err != nil {
			return err
		}
		draftID := tx.DraftID().String()
		rec := walletstore.Record{
			"id":        tx.ID(),
			"account":   owner,
			"type":      string(tx.Type()),
			"draftID":   draftID,
			"finalized": tx.IsFinalized(),
			"payload":   string(payload),
		}

		if !tx.IsFinalized() {
			if acct.String("accessLevel") != schemas.AccessFull {
				return fmt.Errorf("%w: %s cannot prepare transactions", ErrReadonly, owner)
			}
			_, err := wtx.Write(schemas.Transaction, rec)
			return err
		}

		rec["hash"] = tx.Hash()
		existing, err := wtx.Get(schemas.Transaction, tx.Hash())
		switch {
		case err == nil:
			prev, err := ledger.Parse([]byte(existing.String("payload")), ledger.ParseOptions{})
			if err != nil {
				return fmt.Errorf("transaction %s: %w", tx.Hash(), err)
			}
			prevSigned, err := prev.SignedPayload()
			if err != nil {
				return err
			}
			if string(prevSigned) != string(signed) {
				return fmt.Errorf("%w: %s", ledger.ErrFinalized, tx.Hash())
			}
			if len(tx.Meta()) == 0 || string(tx.Meta()) == string(prev.Meta()) {
				return nil
			}
			_, err = wtx.Write(schemas.Transaction, walletstore.Record{"id": tx.Hash(), "payload": string(payload)})
			return err
		case !walletstore.IsNotFound(err):
			return err
		}

		if draft, err := wtx.Get(schemas.Transaction, draftID); err == nil {
			for _, name := range []string{schemas.LocalStatus, schemas.LocalNote, "createdAt"} {
				if v, ok := draft[name]; ok {
					rec[name] = v
				}
			}
			if err := wtx.Remove(schemas.Transaction, draftID); err != nil {
				return err
			}
		} else if !walletstore.IsNotFound(err) {
			return err
		}
		_, err = wtx.Write(schemas.Transaction, rec)
		return err
	})
}

// Load returns the transaction stored under a hash or a draft ID.
func (r *Transactions) Load(id string) (*StoredTransaction, error) {
	rec, err := r.s.Get(schemas.Transaction, id)
	if err != nil {
		return nil, err
	}
	return storedFromRecord(rec)
}

func storedFromRecord(rec walletstore.Record) (*StoredTransaction, error) {
	draftID, err := uuid.Parse(rec.String("draftID"))
	if err != nil {
		return nil, fmt.Errorf("transaction %s: invalid draft ID: %w", rec.String("id"), err)
	}
	tx, err := ledger.Parse([]byte(rec.String("payload")), ledger.ParseOptions{DraftID: draftID})
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", rec.String("id"), err)
	}
	return &StoredTransaction{
		Tx:          tx,
		Owner:       rec.String("account"),
		LocalStatus: rec.String(schemas.LocalStatus),
		LocalNote:   rec.String(schemas.LocalNote),
		CreatedAt:   rec.Time("createdAt"),
	}, nil
}

// ForAccount returns the transactions of address, oldest first.
func (r *Transactions) ForAccount(address string) ([]*StoredTransaction, error) {
	recs, err := r.s.Read(schemas.Transaction, func(rec walletstore.Record) bool {
		return rec.String("account") == address
	})
	if err != nil {
		return nil, err
	}
	result := make([]*StoredTransaction, 0, len(recs))
	for _, rec := range recs {
		st, err := storedFromRecord(rec)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	slices.SortStableFunc(result, func(a, b *StoredTransaction) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	return result, nil
}

// SetLocalStatus updates client metadata. It is allowed on finalized
// transactions.
func (r *Transactions) SetLocalStatus(id, status string) error {
	return r.setMetadata(id, schemas.LocalStatus, status)
}

func (r *Transactions) SetLocalNote(id, note string) error {
	return r.setMetadata(id, schemas.LocalNote, note)
}

func (r *Transactions) setMetadata(id, field, value string) error {
	return r.s.Update(func(tx *walletstore.Tx) error {
		if _, err := tx.Get(schemas.Transaction, id); err != nil {
			return err
		}
		_, err := tx.Write(schemas.Transaction, walletstore.Record{"id": id, field: value})
		return err
	})
}

// Remove deletes a draft. Finalized transactions are only removed together
// with their account.
func (r *Transactions) Remove(id string) error {
	return r.s.Update(func(tx *walletstore.Tx) error {
		rec, err := tx.Get(schemas.Transaction, id)
		if err != nil {
			return err
		}
		if rec.Bool("finalized") {
			return fmt.Errorf("%w: %s", ledger.ErrFinalized, id)
		}
		return tx.Remove(schemas.Transaction, id)
	})
}
