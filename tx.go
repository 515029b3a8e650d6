package walletstore

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
)

// Tx is a read or write transaction over the open schema version. A Tx must
// not be used after the function it was passed to returns.
type Tx struct {
	s        *Store
	stx      storageTx
	schema   *SchemaVersion
	writable bool

	changes []*Change
}

// View runs f in a read-only transaction.
func (s *Store) View(f func(tx *Tx) error) error {
	st, schema, err := s.ready()
	if err != nil {
		return err
	}
	stx, err := st.BeginTx(false)
	if err != nil {
		return fmt.Errorf("failed to start reading: %w", err)
	}
	defer stx.Rollback()

	s.ReadCount.Add(1)
	tx := &Tx{s: s, stx: stx, schema: schema}
	return safelyCall(f, tx)
}

// Update runs f in a write transaction. If f returns an error, nothing is
// persisted and no listener is notified. Otherwise changes are committed and
// delivered to listeners in the order they were made, before Update returns.
// Updates are serialized.
func (s *Store) Update(f func(tx *Tx) error) error {
	if _, _, err := s.ready(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	st, schema, err := s.ready()
	if err != nil {
		return err
	}
	stx, err := st.BeginTx(true)
	if err != nil {
		return fmt.Errorf("failed to start writing: %w", err)
	}
	defer stx.Rollback()

	tx := &Tx{s: s, stx: stx, schema: schema, writable: true}
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.WriteCount.Add(1)

	s.subs.deliver(s.logger, tx.changes)
	return nil
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// Subscribe registers fn for changes published on topic: an entity name, or a
// topic passed to Tx.Emit. The returned function cancels the subscription.
func (s *Store) Subscribe(topic string, fn Listener) (cancel func()) {
	return s.subs.add(topic, fn)
}

func (s *Store) Get(entity, key string) (Record, error) {
	var rec Record
	err := s.View(func(tx *Tx) error {
		var err error
		rec, err = tx.Get(entity, key)
		return err
	})
	return rec, err
}

func (s *Store) Read(entity string, pred func(rec Record) bool) ([]Record, error) {
	var recs []Record
	err := s.View(func(tx *Tx) error {
		var err error
		recs, err = tx.Read(entity, pred)
		return err
	})
	return recs, err
}

func (s *Store) Count(entity string) (int, error) {
	var n int
	err := s.View(func(tx *Tx) error {
		var err error
		n, err = tx.Count(entity)
		return err
	})
	return n, err
}

func (s *Store) Write(entity string, rec Record) (Record, error) {
	var result Record
	err := s.Update(func(tx *Tx) error {
		var err error
		result, err = tx.Write(entity, rec)
		return err
	})
	return result, err
}

func (s *Store) Remove(entity, key string) error {
	return s.Update(func(tx *Tx) error {
		return tx.Remove(entity, key)
	})
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

func (tx *Tx) Schema() *SchemaVersion {
	return tx.schema
}

func (tx *Tx) Store() *Store {
	return tx.s
}

func (tx *Tx) entity(name string) (*Entity, storageBucket, error) {
	ent := tx.schema.Entity(name)
	if ent == nil {
		return nil, nil, &ValidationError{Entity: name, Msg: fmt.Sprintf("unknown entity in schema v%d", tx.schema.number), Err: ErrValidation}
	}
	return ent, nonNil(tx.stx.Bucket(entityBucket(ent.name))), nil
}

func (tx *Tx) decode(ent *Entity, key string, raw []byte) (Record, error) {
	_, rec, err := decodeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", ent.name, key, err)
	}
	extra, err := coerceRecord(ent, rec)
	if err != nil {
		return nil, dataErrf(raw, 0, err, "%s/%s", ent.name, key)
	}
	for _, name := range extra {
		if !tx.s.isMetadata(ent.name, name) {
			delete(rec, name)
		}
	}
	return rec, nil
}

func (tx *Tx) lookupKey(ent *Entity, key string) string {
	if ent.singleton {
		return singletonKey
	}
	return key
}

// Get returns the record of entity with the given key. For singletons the
// key is ignored.
func (tx *Tx) Get(entity, key string) (Record, error) {
	ent, buck, err := tx.entity(entity)
	if err != nil {
		return nil, err
	}
	key = tx.lookupKey(ent, key)
	raw := buck.Get([]byte(key))
	if raw == nil {
		return nil, &NotFoundError{Entity: ent.name, Key: key}
	}
	return tx.decode(ent, key, raw)
}

// Read returns all records of entity accepted by pred, in key order. A nil
// pred accepts everything.
func (tx *Tx) Read(entity string, pred func(rec Record) bool) ([]Record, error) {
	ent, buck, err := tx.entity(entity)
	if err != nil {
		return nil, err
	}
	var result []Record
	err = buck.ForEach(func(k, v []byte) error {
		rec, err := tx.decode(ent, string(k), v)
		if err != nil {
			return err
		}
		if pred == nil || pred(rec) {
			result = append(result, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (tx *Tx) Count(entity string) (int, error) {
	_, buck, err := tx.entity(entity)
	if err != nil {
		return 0, err
	}
	return buck.KeyCount(), nil
}

// Write creates or updates a record. Fields present in rec replace stored
// values; absent fields keep theirs, or take their defaults on creation. The
// identity comes from the primary key field, the _id field, or is assigned
// from a sequence. Returns the full stored record.
func (tx *Tx) Write(entity string, rec Record) (Record, error) {
	if !tx.writable {
		return nil, ErrReadOnlyTx
	}
	ent, buck, err := tx.entity(entity)
	if err != nil {
		return nil, err
	}
	input, err := tx.validateInput(ent, rec)
	if err != nil {
		return nil, err
	}

	key := ent.KeyOf(input)
	var old Record
	if key != "" {
		if raw := buck.Get([]byte(key)); raw != nil {
			old, err = tx.decode(ent, key, raw)
			if err != nil {
				return nil, err
			}
		} else if _, ok := input[IDField]; ok {
			return nil, &NotFoundError{Entity: ent.name, Key: key}
		}
	} else if ent.primaryKey != "" {
		return nil, validationErrf(ent.name, ent.primaryKey, nil, "primary key is required")
	} else {
		seq, err := buck.NextSequence()
		if err != nil {
			return nil, err
		}
		key = strconv.FormatUint(seq, 10)
	}

	var merged Record
	if old != nil {
		merged = old.Clone()
	} else {
		merged = ent.newRecord()
		if ent.primaryKey == "" && !ent.singleton {
			merged[IDField] = key
		}
	}
	for name, v := range input {
		merged[name] = v
	}
	for _, fld := range ent.fields {
		if fld.Required() && merged[fld.Name] == nil {
			return nil, validationErrf(ent.name, fld.Name, nil, "required field is missing")
		}
	}

	if err := buck.Put([]byte(key), encodeValue(ent, tx.schema.number, merged)); err != nil {
		return nil, err
	}
	if tx.s.opt.Verbose {
		tx.s.logf("db: PUT %s/%s => %v", ent.name, key, merged)
	}
	tx.changes = append(tx.changes, &Change{
		topic:  ent.name,
		entity: ent.name,
		op:     OpPut,
		key:    key,
		row:    merged.Clone(),
		oldRow: old,
	})
	return merged.Clone(), nil
}

func (tx *Tx) validateInput(ent *Entity, rec Record) (Record, error) {
	out := make(Record, len(rec))
	for name, v := range rec {
		if name == IDField {
			if ent.primaryKey != "" || ent.singleton {
				return nil, validationErrf(ent.name, name, nil, "entity is keyed by %s", ent.keyDescription())
			}
			s, ok := v.(string)
			if !ok || s == "" {
				return nil, validationErrf(ent.name, name, nil, "must be a non-empty string, got %T", v)
			}
			out[name] = s
			continue
		}
		fld := ent.fieldsByName[name]
		if fld == nil {
			if tx.s.isMetadata(ent.name, name) {
				out[name] = cloneValue(v)
				continue
			}
			return nil, validationErrf(ent.name, name, nil, "field is not declared in schema v%d", tx.schema.number)
		}
		if v == nil {
			if !fld.Optional {
				return nil, validationErrf(ent.name, name, nil, "cannot be null")
			}
			out[name] = nil
			continue
		}
		cv, err := fld.Kind.Coerce(v)
		if err != nil {
			return nil, validationErrf(ent.name, name, err, "invalid %s value", fld.Kind)
		}
		out[name] = cv
	}
	return out, nil
}

// Remove deletes a record. Singletons cannot be removed.
func (tx *Tx) Remove(entity, key string) error {
	if !tx.writable {
		return ErrReadOnlyTx
	}
	ent, buck, err := tx.entity(entity)
	if err != nil {
		return err
	}
	if ent.singleton {
		return validationErrf(ent.name, "", nil, "singleton cannot be removed")
	}
	raw := buck.Get([]byte(key))
	if raw == nil {
		return &NotFoundError{Entity: ent.name, Key: key}
	}
	old, err := tx.decode(ent, key, raw)
	if err != nil {
		return err
	}
	if err := buck.Delete([]byte(key)); err != nil {
		return err
	}
	if tx.s.opt.Verbose {
		tx.s.logf("db: DEL %s/%s", ent.name, key)
	}
	tx.changes = append(tx.changes, &Change{
		topic:  ent.name,
		entity: ent.name,
		op:     OpDelete,
		key:    key,
		oldRow: old,
	})
	return nil
}

// Emit queues a custom event for delivery on topic after commit, in order
// with the transaction's other changes.
func (tx *Tx) Emit(topic, key string, rec Record) {
	if !tx.writable {
		panic(ErrReadOnlyTx)
	}
	tx.changes = append(tx.changes, &Change{
		topic: topic,
		op:    OpEvent,
		key:   key,
		row:   rec.Clone(),
	})
}

// IsNotFound reports whether err means a record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
