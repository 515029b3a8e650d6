package walletstore

import (
	"encoding/json"
)

type EntityStats struct {
	Records int

	// DataSize is the total size of encoded records, excluding keys.
	DataSize int

	// Versions counts records by the schema version that last wrote them.
	Versions map[uint64]int
}

func (tx *Tx) EntityStats(entity string) (EntityStats, error) {
	_, buck, err := tx.entity(entity)
	if err != nil {
		return EntityStats{}, err
	}
	result := EntityStats{Versions: make(map[uint64]int)}
	err = buck.ForEach(func(k, v []byte) error {
		ver, _, err := decodeValue(v)
		if err != nil {
			return err
		}
		result.Records++
		result.DataSize += len(v)
		result.Versions[ver]++
		return nil
	})
	return result, err
}

func loggableRecord(rec Record) string {
	if rec == nil {
		return "<none>"
	}
	return string(must(json.Marshal(map[string]any(rec))))
}
