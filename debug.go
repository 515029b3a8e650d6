package walletstore

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpEntityHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpMarker

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the store contents for debugging and tests.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	if f.Contains(DumpMarker) {
		m, found, err := readMarker(tx.stx)
		switch {
		case err != nil:
			fmt.Fprintf(&buf, "marker ** ERROR: %v\n", err)
		case !found:
			fmt.Fprintln(&buf, "marker = <none>")
		default:
			fmt.Fprintf(&buf, "marker = v%d (%016x)\n", m.Version, m.Fingerprint)
		}
	}
	for _, ent := range tx.schema.entities {
		tx.dumpEntity(&buf, f, ent)
	}
	return buf.String()
}

func (tx *Tx) dumpEntity(w *strings.Builder, f DumpFlags, ent *Entity) {
	s, err := tx.EntityStats(ent.name)
	if f.Contains(DumpEntityHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", ent.name, s.Records)
	}
	if err != nil {
		fmt.Fprintf(w, "%s ** ERROR: %v\n", ent.name, err)
		return
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: data_size = %d, versions = %v\n", ent.name, s.DataSize, s.Versions)
	}
	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		buck := nonNil(tx.stx.Bucket(entityBucket(ent.name)))
		var rowPos int
		_ = buck.ForEach(func(k, v []byte) error {
			rowPos++
			tx.dumpRecord(w, ent, rowPos, string(k), v)
			return nil
		})
	}
}

func (tx *Tx) dumpRecord(w *strings.Builder, ent *Entity, rowPos int, key string, v []byte) {
	ver, _, err := decodeValue(v)
	if err != nil {
		fmt.Fprintf(w, "%s.%d ** ERROR: %v\n", ent.name, rowPos, err)
		return
	}
	rec, err := tx.decode(ent, key, v)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = (s%d) ** ERROR: %v\n", ent.name, rowPos, ver, err)
		return
	}
	fmt.Fprintf(w, "%s.%d = (s%d) %s: %s\n", ent.name, rowPos, ver, key, loggableRecord(rec))
}
