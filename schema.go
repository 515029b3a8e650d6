package walletstore

import (
	"fmt"
	"slices"
)

// IDField holds the store-assigned identity of records in entities that
// declare no primary key.
const IDField = "_id"

const singletonKey = "1"

// Field declares one field of an entity.
type Field struct {
	Name     string
	Kind     Kind
	Optional bool

	def     any
	defFunc func() any
}

// HasDefault reports whether a default value was declared.
func (f *Field) HasDefault() bool {
	return f.def != nil || f.defFunc != nil
}

// Default returns a fresh copy of the declared default, or nil.
func (f *Field) Default() any {
	if f.defFunc != nil {
		return f.defFunc()
	}
	return cloneValue(f.def)
}

// Required means the field can never be null.
func (f *Field) Required() bool {
	return !f.Optional
}

type FieldOption func(f *Field)

// Optional marks the field nullable.
func Optional() FieldOption {
	return func(f *Field) { f.Optional = true }
}

// Default sets a constant default. The value must be valid for the field kind.
func Default(v any) FieldOption {
	return func(f *Field) { f.def = v }
}

// DefaultFunc sets a default computed each time a record is seeded, e.g. the
// current time.
func DefaultFunc(fn func() any) FieldOption {
	return func(f *Field) { f.defFunc = fn }
}

// Entity is an immutable named record kind. Entities are shared between schema
// versions when their shape does not change.
type Entity struct {
	name         string
	primaryKey   string
	singleton    bool
	fields       []*Field
	fieldsByName map[string]*Field
}

type EntityBuilder struct {
	ent *Entity
}

// DefineEntity builds an entity. Like table definitions, mistakes in entity
// declarations are programming errors and panic.
func DefineEntity(name string, f func(b *EntityBuilder)) *Entity {
	if name == "" {
		panic("DefineEntity: empty name")
	}
	ent := &Entity{
		name:         name,
		fieldsByName: make(map[string]*Field),
	}
	b := EntityBuilder{ent}
	f(&b)

	if ent.primaryKey != "" {
		pk := ent.fieldsByName[ent.primaryKey]
		if pk == nil {
			panic(fmt.Errorf("%s: primary key %q is not a declared field", name, ent.primaryKey))
		}
		if pk.Kind != KindString || pk.Optional {
			panic(fmt.Errorf("%s: primary key %q must be a required string", name, ent.primaryKey))
		}
		if ent.singleton {
			panic(fmt.Errorf("%s: singleton entities cannot have a primary key", name))
		}
	}
	if ent.singleton {
		for _, fld := range ent.fields {
			if fld.Required() && !fld.HasDefault() {
				panic(fmt.Errorf("%s.%s: required singleton fields need a default", name, fld.Name))
			}
		}
	}
	return ent
}

// Field declares a field. Field names are unique per entity.
func (b *EntityBuilder) Field(name string, kind Kind, opts ...FieldOption) {
	if name == "" || name == IDField {
		panic(fmt.Errorf("%s: invalid field name %q", b.ent.name, name))
	}
	if !kind.Valid() {
		panic(fmt.Errorf("%s.%s: invalid kind", b.ent.name, name))
	}
	if b.ent.fieldsByName[name] != nil {
		panic(fmt.Errorf("%s: duplicate field %q", b.ent.name, name))
	}
	fld := &Field{Name: name, Kind: kind}
	for _, opt := range opts {
		opt(fld)
	}
	if fld.def != nil {
		v, err := kind.Coerce(fld.def)
		if err != nil {
			panic(fmt.Errorf("%s.%s: invalid default: %w", b.ent.name, name, err))
		}
		fld.def = v
	}
	b.ent.fields = append(b.ent.fields, fld)
	b.ent.fieldsByName[name] = fld
}

// PrimaryKey names the string field that identifies records.
func (b *EntityBuilder) PrimaryKey(name string) {
	b.ent.primaryKey = name
}

// Singleton marks an entity that always holds exactly one record, seeded with
// defaults when the entity first appears in the store.
func (b *EntityBuilder) Singleton() {
	b.ent.singleton = true
}

// Extend copies all fields of another entity, usually the previous version of
// the same entity.
func (b *EntityBuilder) Extend(base *Entity, except ...string) {
	for _, fld := range base.fields {
		if slices.Contains(except, fld.Name) {
			continue
		}
		cp := *fld
		b.ent.fields = append(b.ent.fields, &cp)
		b.ent.fieldsByName[cp.Name] = &cp
	}
	if base.primaryKey != "" && !slices.Contains(except, base.primaryKey) {
		b.ent.primaryKey = base.primaryKey
	}
	b.ent.singleton = base.singleton
}

func (ent *Entity) Name() string       { return ent.name }
func (ent *Entity) PrimaryKey() string { return ent.primaryKey }
func (ent *Entity) IsSingleton() bool  { return ent.singleton }

// Fields returns the declared fields in declaration order.
func (ent *Entity) Fields() []*Field {
	return slices.Clone(ent.fields)
}

func (ent *Entity) Field(name string) *Field {
	return ent.fieldsByName[name]
}

func (ent *Entity) String() string {
	return ent.name
}

// newRecord returns a record with every field at its declared default.
func (ent *Entity) newRecord() Record {
	rec := make(Record, len(ent.fields))
	for _, fld := range ent.fields {
		if fld.HasDefault() {
			rec[fld.Name] = fld.Default()
		} else {
			rec[fld.Name] = nil
		}
	}
	return rec
}

func (ent *Entity) keyDescription() string {
	switch {
	case ent.primaryKey != "":
		return ent.primaryKey
	case ent.singleton:
		return "singleton key"
	default:
		return IDField
	}
}

// KeyOf returns the identity of a record, or "" if it has none yet.
func (ent *Entity) KeyOf(rec Record) string {
	switch {
	case ent.primaryKey != "":
		s, _ := rec[ent.primaryKey].(string)
		return s
	case ent.singleton:
		return singletonKey
	default:
		s, _ := rec[IDField].(string)
		return s
	}
}
