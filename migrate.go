package walletstore

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Migration is handed to a version's migrate function. Objects are already
// reshaped to the new version: declared fields carry their old values when
// still valid, new fields carry defaults, removed fields are gone. The
// function edits them in place; Old exposes the records as they were before
// the step.
type Migration struct {
	from    uint64
	version *SchemaVersion
	logger  *slog.Logger

	old     map[string][]Record
	objects map[string][]Record
	removed map[string]map[string]bool
}

// Version is the schema version being migrated to.
func (m *Migration) Version() uint64 { return m.version.number }

// FromVersion is the schema version the store was at before this step.
func (m *Migration) FromVersion() uint64 { return m.from }

func (m *Migration) Logger() *slog.Logger { return m.logger }

// Old returns copies of the records entity had before the step, including
// entities and fields the new version drops.
func (m *Migration) Old(entity string) []Record {
	recs := m.old[entity]
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out
}

// Objects returns the live records of entity in the new shape. Mutations are
// persisted when the step commits.
func (m *Migration) Objects(entity string) []Record {
	if m.version.byName[entity] == nil {
		panic(fmt.Errorf("migration to v%d: entity %s is not declared", m.version.number, entity))
	}
	return m.objects[entity]
}

// Object returns the only record of a singleton entity.
func (m *Migration) Object(entity string) Record {
	objs := m.Objects(entity)
	if len(objs) == 0 {
		return nil
	}
	return objs[0]
}

// Add appends a new record to entity.
func (m *Migration) Add(entity string, rec Record) Record {
	ent := m.version.byName[entity]
	if ent == nil {
		panic(fmt.Errorf("migration to v%d: entity %s is not declared", m.version.number, entity))
	}
	obj := ent.newRecord()
	for k, v := range rec {
		obj[k] = v
	}
	m.objects[entity] = append(m.objects[entity], obj)
	return obj
}

// Remove deletes the record with the given key when the step commits.
func (m *Migration) Remove(entity, key string) {
	if m.removed[entity] == nil {
		m.removed[entity] = make(map[string]bool)
	}
	m.removed[entity][key] = true
}

func (s *Store) applyStep(st storage, from uint64, target *SchemaVersion, step, steps int) error {
	start := time.Now()
	s.logger.Info("store: migrating", "from", from, "to", target.number, "step", step, "steps", steps)

	stx, err := st.BeginTx(true)
	if err != nil {
		return err
	}
	defer stx.Rollback()

	prev, _ := s.registry.Version(from)

	m := &Migration{
		from:    from,
		version: target,
		logger:  s.logger.With("migration", target.number),
		old:     make(map[string][]Record),
		objects: make(map[string][]Record),
		removed: make(map[string]map[string]bool),
	}

	var oldNames []string
	for _, name := range stx.BucketNames() {
		entName, ok := strings.CutPrefix(name, entityBucketPrefix)
		if !ok {
			continue
		}
		oldNames = append(oldNames, entName)
		var prevEnt *Entity
		if prev != nil {
			prevEnt = prev.byName[entName]
		}
		var recs []Record
		err := stx.Bucket(name).ForEach(func(k, v []byte) error {
			_, rec, err := decodeValue(v)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", entName, k, err)
			}
			if prevEnt != nil {
				if _, err := coerceRecord(prevEnt, rec); err != nil {
					return dataErrf(v, 0, err, "%s/%s", entName, k)
				}
			}
			recs = append(recs, rec)
			return nil
		})
		if err != nil {
			return err
		}
		m.old[entName] = recs
	}

	for _, ent := range target.entities {
		var objs []Record
		for _, rec := range m.old[ent.name] {
			objs = append(objs, s.reshape(m, ent, rec))
		}
		m.objects[ent.name] = objs
	}
	for _, name := range oldNames {
		if target.byName[name] == nil {
			m.logger.Warn("store: dropping entity", "entity", name, "records", len(m.old[name]))
		}
	}

	if target.migrate != nil {
		if err := safelyMigrate(target.migrate, m); err != nil {
			return err
		}
	}

	for _, name := range oldNames {
		if target.byName[name] == nil {
			if err := stx.DeleteBucket(entityBucket(name)); err != nil {
				return err
			}
		}
	}
	for _, ent := range target.entities {
		if err := s.writeMigrated(stx, m, ent); err != nil {
			return err
		}
	}

	if err := writeMarker(stx, target, s.opt.Now()); err != nil {
		return err
	}
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("store: migrated", "version", target.number, "ms", time.Since(start).Milliseconds())
	return nil
}

// reshape maps a record into the shape of ent. Values that no longer fit the
// field kind fall back to the default.
func (s *Store) reshape(m *Migration, ent *Entity, rec Record) Record {
	out := ent.newRecord()
	for name, v := range rec {
		if name == IDField {
			if ent.primaryKey == "" && !ent.singleton {
				out[IDField] = v
			}
			continue
		}
		fld := ent.fieldsByName[name]
		if fld == nil {
			if s.isMetadata(ent.name, name) {
				out[name] = v
			}
			continue
		}
		if v == nil {
			continue
		}
		cv, err := fld.Kind.Coerce(v)
		if err != nil {
			m.logger.Warn("store: resetting field to default", "entity", ent.name, "field", name, "err", err)
			continue
		}
		out[name] = cv
	}
	return out
}

func (s *Store) writeMigrated(stx storageTx, m *Migration, ent *Entity) error {
	buck, err := stx.CreateBucket(entityBucket(ent.name))
	if err != nil {
		return err
	}
	removed := m.removed[ent.name]
	keep := make(map[string]bool)
	for _, rec := range m.objects[ent.name] {
		if err := s.checkMigrated(ent, m.version, rec); err != nil {
			return err
		}
		key := ent.KeyOf(rec)
		if key == "" {
			seq, err := buck.NextSequence()
			if err != nil {
				return err
			}
			key = strconv.FormatUint(seq, 10)
			rec[IDField] = key
		}
		if removed[key] {
			continue
		}
		if keep[key] {
			return validationErrf(ent.name, ent.keyDescription(), nil, "duplicate key %q", key)
		}
		keep[key] = true
		if err := buck.Put([]byte(key), encodeValue(ent, m.version.number, rec)); err != nil {
			return err
		}
	}

	var stale [][]byte
	err = buck.ForEach(func(k, _ []byte) error {
		if !keep[string(k)] {
			stale = append(stale, slices.Clone(k))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := buck.Delete(k); err != nil {
			return err
		}
	}
	if len(removed) > 0 {
		m.logger.Info("store: removed records", "entity", ent.name, "count", len(removed))
	}

	if ent.singleton && len(keep) == 0 {
		if err := buck.Put([]byte(singletonKey), encodeValue(ent, m.version.number, ent.newRecord())); err != nil {
			return err
		}
	}
	return nil
}

// checkMigrated enforces that a migration only assigned declared fields, with
// values of the declared kinds.
func (s *Store) checkMigrated(ent *Entity, ver *SchemaVersion, rec Record) error {
	for name, v := range rec {
		if name == IDField {
			if ent.primaryKey != "" || ent.singleton {
				delete(rec, name)
			}
			continue
		}
		fld := ent.fieldsByName[name]
		if fld == nil {
			if s.isMetadata(ent.name, name) {
				continue
			}
			return validationErrf(ent.name, name, nil, "field is not declared in schema v%d", ver.number)
		}
		if v == nil {
			if fld.Required() {
				return validationErrf(ent.name, name, nil, "required field is missing")
			}
			continue
		}
		cv, err := fld.Kind.Coerce(v)
		if err != nil {
			return validationErrf(ent.name, name, err, "invalid %s value", fld.Kind)
		}
		rec[name] = cv
	}
	for _, fld := range ent.fields {
		if _, ok := rec[fld.Name]; !ok && fld.Required() {
			return validationErrf(ent.name, fld.Name, nil, "required field is missing")
		}
	}
	return nil
}

func safelyMigrate(fn MigrateFunc, m *Migration) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(m)
}
