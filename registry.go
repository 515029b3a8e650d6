package walletstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// MigrateFunc rewrites records that have already been reshaped to the step's
// schema version.
type MigrateFunc func(m *Migration) error

// SchemaVersion is an immutable snapshot of all entity shapes.
type SchemaVersion struct {
	number   uint64
	entities []*Entity
	byName   map[string]*Entity
	migrate  MigrateFunc
	fp       uint64
}

// NewVersion declares a schema version. migrate may be nil.
func NewVersion(number uint64, migrate MigrateFunc, entities ...*Entity) *SchemaVersion {
	if number == 0 {
		panic("schema version numbers start at 1")
	}
	ver := &SchemaVersion{
		number:  number,
		migrate: migrate,
		byName:  make(map[string]*Entity, len(entities)),
	}
	for _, ent := range entities {
		if ver.byName[ent.name] != nil {
			panic(fmt.Errorf("schema v%d: duplicate entity %s", number, ent.name))
		}
		ver.byName[ent.name] = ent
		ver.entities = append(ver.entities, ent)
	}
	ver.fp = fingerprint(ver.entities)
	return ver
}

func (ver *SchemaVersion) Number() uint64 { return ver.number }

func (ver *SchemaVersion) Entities() []*Entity {
	return slices.Clone(ver.entities)
}

func (ver *SchemaVersion) Entity(name string) *Entity {
	return ver.byName[name]
}

func (ver *SchemaVersion) HasMigration() bool {
	return ver.migrate != nil
}

// Fingerprint is a hash of entity names and field shapes. It is recorded next
// to the version number so that a store written by a different build of the
// same version number is detected.
func (ver *SchemaVersion) Fingerprint() uint64 {
	return ver.fp
}

func fingerprint(entities []*Entity) uint64 {
	sorted := slices.Clone(entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	h := xxhash.New()
	var buf [binary.MaxVarintLen64]byte
	writeStr := func(s string) {
		n := binary.PutUvarint(buf[:], uint64(len(s)))
		h.Write(buf[:n])
		h.WriteString(s)
	}
	for _, ent := range sorted {
		writeStr(ent.name)
		writeStr(ent.primaryKey)
		flags := uint64(0)
		if ent.singleton {
			flags |= 1
		}
		n := binary.PutUvarint(buf[:], flags)
		h.Write(buf[:n])

		fields := slices.Clone(ent.fields)
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		for _, fld := range fields {
			writeStr(fld.Name)
			writeStr(fld.Kind.String())
			if fld.Optional {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{0})
			}
		}
	}
	return h.Sum64()
}

// Registry is the ordered chain of schema versions.
type Registry struct {
	versions []*SchemaVersion
}

var errEmptyRegistry = errors.New("schema registry is empty")

// NewRegistry validates and returns a registry. Versions must be passed in
// strictly ascending order; gaps are allowed.
func NewRegistry(versions ...*SchemaVersion) (*Registry, error) {
	if len(versions) == 0 {
		return nil, errEmptyRegistry
	}
	if versions[0].migrate != nil {
		return nil, fmt.Errorf("schema v%d: the first version cannot have a migration", versions[0].number)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i].number <= versions[i-1].number {
			return nil, fmt.Errorf("schema v%d follows v%d: versions must be strictly increasing", versions[i].number, versions[i-1].number)
		}
	}
	return &Registry{versions: slices.Clone(versions)}, nil
}

func MustRegistry(versions ...*SchemaVersion) *Registry {
	return must(NewRegistry(versions...))
}

// AllVersions returns the chain in ascending order.
func (reg *Registry) AllVersions() []*SchemaVersion {
	return slices.Clone(reg.versions)
}

func (reg *Registry) Latest() *SchemaVersion {
	return reg.versions[len(reg.versions)-1]
}

func (reg *Registry) Version(number uint64) (*SchemaVersion, bool) {
	i, found := slices.BinarySearchFunc(reg.versions, number, func(v *SchemaVersion, n uint64) int {
		switch {
		case v.number < n:
			return -1
		case v.number > n:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return nil, false
	}
	return reg.versions[i], true
}

// After returns every version newer than number, in the order they must be
// applied.
func (reg *Registry) After(number uint64) []*SchemaVersion {
	for i, v := range reg.versions {
		if v.number > number {
			return slices.Clone(reg.versions[i:])
		}
	}
	return nil
}

// Lint checks the cross-version contract: a version that introduces a
// required field without a default, or drops a required field, must carry a
// migration. The check spans two independent snapshots, so it is meant to be
// run from tests rather than at open time.
func (reg *Registry) Lint() []string {
	var problems []string
	for i := 1; i < len(reg.versions); i++ {
		prev, cur := reg.versions[i-1], reg.versions[i]
		if cur.migrate != nil {
			continue
		}
		for _, ent := range cur.entities {
			old := prev.byName[ent.name]
			if old == nil {
				continue
			}
			for _, fld := range ent.fields {
				if old.fieldsByName[fld.Name] == nil && fld.Required() && !fld.HasDefault() {
					problems = append(problems, fmt.Sprintf("v%d: %s.%s is required, has no default and no migration backfills it", cur.number, ent.name, fld.Name))
				}
			}
			for _, fld := range old.fields {
				if ent.fieldsByName[fld.Name] == nil && fld.Required() {
					problems = append(problems, fmt.Sprintf("v%d: %s.%s is required in v%d and dropped without a migration", cur.number, ent.name, fld.Name, prev.number))
				}
			}
		}
	}
	return problems
}
