package docstore

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

//go:embed seed.json
var defaultSeed []byte

// DefaultSeed decodes the embedded demo dataset.
func DefaultSeed() Snapshot {
	snap, err := DecodeSnapshot(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("docstore: embedded seed is invalid: %v", err))
	}
	return snap
}

// LoadSeedFile reads a seed dataset from path.
func LoadSeedFile(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(raw)
}

// DecodeSnapshot parses a JSON object of collections. Null collections
// become empty ones and every record must carry a string id that is unique
// within its collection.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot is null")
	}
	for name, coll := range snap {
		if coll == nil {
			snap[name] = Collection{}
			continue
		}
		seen := make(map[string]int, len(coll))
		for i, rec := range coll {
			if rec == nil {
				return nil, fmt.Errorf("%s[%d]: record is null", name, i)
			}
			id, ok := rec["id"].(string)
			if !ok || id == "" {
				return nil, fmt.Errorf("%s[%d]: missing string id", name, i)
			}
			if first, dup := seen[id]; dup {
				return nil, fmt.Errorf("%s[%d]: duplicate id %q, first at %d", name, i, id, first)
			}
			seen[id] = i
		}
	}
	return snap, nil
}

// EncodeSnapshot renders snap with sorted keys, so equal snapshots encode to
// equal bytes.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return sonic.ConfigStd.Marshal(snap)
}
