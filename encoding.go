package walletstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	valueFormatVer1      = 1
	valueFormatVerLatest = valueFormatVer1

	minValueSize     = 3
	maxSchemaVersion = 1 << 20 // just a sanity value, can be increased
)

const (
	metaBucket         = "_meta"
	entityBucketPrefix = "e."
)

var versionMarkerKey = []byte("version")

func entityBucket(name string) string {
	return entityBucketPrefix + name
}

// Marker is the persisted "current schema version" scalar.
type Marker struct {
	Version     uint64    `msgpack:"v"`
	Fingerprint uint64    `msgpack:"f"`
	UpdatedAt   time.Time `msgpack:"t"`
}

func encodeMsgPack(v any) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return buf.Bytes()
}

func decodeMsgPack(buf []byte, v any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	dec.UseLooseInterfaceDecoding(true)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

// encodeValue produces the stored form of a record:
//
//  1. Format version (uvarint).
//  2. Schema version that wrote the record (uvarint).
//  3. msgpack map of field values, keys sorted.
func encodeValue(ent *Entity, schemaVer uint64, rec Record) []byte {
	data := make(map[string]any, len(rec))
	for name, v := range rec {
		if v == nil {
			continue
		}
		if fld := ent.fieldsByName[name]; fld != nil {
			v = fld.Kind.storable(v)
		}
		data[name] = v
	}

	var hdr [2 * binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], valueFormatVerLatest)
	n += binary.PutUvarint(hdr[n:], schemaVer)
	return append(hdr[:n:n], encodeMsgPack(data)...)
}

// decodeValue parses a stored record. Field values are left in their raw
// decoded form; callers coerce them against the entity they are reading into.
func decodeValue(raw []byte) (uint64, Record, error) {
	if len(raw) < minValueSize {
		return 0, nil, dataErrf(raw, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	data := raw
	v, n := binary.Uvarint(data)
	if n <= 0 || v != valueFormatVer1 {
		return 0, nil, dataErrf(raw, 0, nil, "invalid value: unsupported format")
	}
	data = data[n:]

	schemaVer, n := binary.Uvarint(data)
	if n <= 0 || schemaVer > maxSchemaVersion {
		return 0, nil, dataErrf(raw, len(raw)-len(data), nil, "invalid value: bad schema version")
	}
	data = data[n:]

	var rec map[string]any
	if err := decodeMsgPack(data, &rec); err != nil {
		return 0, nil, err
	}
	if rec == nil {
		rec = make(map[string]any)
	}
	return schemaVer, Record(rec), nil
}

// coerceRecord converts raw decoded values into canonical ones. Fields not
// declared by the entity are returned in extra.
func coerceRecord(ent *Entity, rec Record) (extra []string, err error) {
	for name, v := range rec {
		fld := ent.fieldsByName[name]
		if fld == nil {
			if name == IDField {
				if _, ok := v.(string); !ok {
					return nil, fmt.Errorf("%s: %s is %T", ent.name, IDField, v)
				}
				continue
			}
			extra = append(extra, name)
			continue
		}
		cv, err := fld.Kind.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ent.name, name, err)
		}
		rec[name] = cv
	}
	return extra, nil
}

func readMarker(stx storageTx) (Marker, bool, error) {
	buck := stx.Bucket(metaBucket)
	if buck == nil {
		return Marker{}, false, nil
	}
	raw := buck.Get(versionMarkerKey)
	if raw == nil {
		return Marker{}, false, nil
	}
	var m Marker
	if err := decodeMsgPack(raw, &m); err != nil {
		return Marker{}, false, err
	}
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, true, nil
}

func writeMarker(stx storageTx, ver *SchemaVersion, now time.Time) error {
	buck, err := stx.CreateBucket(metaBucket)
	if err != nil {
		return err
	}
	return buck.Put(versionMarkerKey, encodeMsgPack(&Marker{
		Version:     ver.number,
		Fingerprint: ver.fp,
		UpdatedAt:   now.UTC(),
	}))
}
