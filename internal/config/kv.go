package config

import (
	"encoding/json"
	"fmt"
	"strings"

	bolt "go.etcd.io/bbolt"
)

// chunkSize mirrors the ~4 KiB value-size limit of an embedded key-value
// namespace such as ESP32 NVS; values larger than this are split across
// indexed chunk keys with a small header recording the chunk count.
const chunkSize = 4096

// KVStorage persists records into an embedded bbolt database, one bucket
// per record kind, exercising the same capability contract as FileStorage
// on a target with no filesystem.
type KVStorage struct {
	db *bolt.DB
}

// NewKVStorage opens (creating if absent) the bbolt database at path.
func NewKVStorage(path string) (*KVStorage, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	return &KVStorage{db: db}, nil
}

// Close releases the underlying database file.
func (k *KVStorage) Close() error { return k.db.Close() }

func bucketAndKey(record Record) (bucket, key string) {
	s := string(record)
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, "doc"
}

func (k *KVStorage) put(record Record, value []byte) error {
	bucketName, key := bucketAndKey(record)
	return k.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		// Clear out any chunked remnant from a previously larger value.
		meta := b.Get([]byte(key + "#meta"))
		if meta != nil {
			var h chunkHeader
			if json.Unmarshal(meta, &h) == nil {
				for i := 0; i < h.Chunks; i++ {
					b.Delete([]byte(fmt.Sprintf("%s#%d", key, i)))
				}
			}
			b.Delete([]byte(key + "#meta"))
		}

		if len(value) <= chunkSize {
			return b.Put([]byte(key), value)
		}

		b.Delete([]byte(key))
		n := 0
		for off := 0; off < len(value); off += chunkSize {
			end := off + chunkSize
			if end > len(value) {
				end = len(value)
			}
			if err := b.Put([]byte(fmt.Sprintf("%s#%d", key, n)), value[off:end]); err != nil {
				return err
			}
			n++
		}
		hb, _ := json.Marshal(chunkHeader{Chunks: n})
		return b.Put([]byte(key+"#meta"), hb)
	})
}

type chunkHeader struct {
	Chunks int `json:"chunks"`
}

func (k *KVStorage) get(record Record) ([]byte, error) {
	bucketName, key := bucketAndKey(record)
	var out []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return notFound(record)
		}
		if direct := b.Get([]byte(key)); direct != nil {
			out = append(out, direct...)
			return nil
		}
		meta := b.Get([]byte(key + "#meta"))
		if meta == nil {
			return notFound(record)
		}
		var h chunkHeader
		if err := json.Unmarshal(meta, &h); err != nil {
			return corrupt(record, err)
		}
		for i := 0; i < h.Chunks; i++ {
			chunk := b.Get([]byte(fmt.Sprintf("%s#%d", key, i)))
			if chunk == nil {
				return corrupt(record, fmt.Errorf("missing chunk %d of %d", i, h.Chunks))
			}
			out = append(out, chunk...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (k *KVStorage) LoadSettings() (*Settings, error) {
	b, err := k.get(RecordSettings)
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, corrupt(RecordSettings, err)
	}
	return &s, nil
}

func (k *KVStorage) SaveSettings(s *Settings) error {
	b, err := marshal(s)
	if err != nil {
		return err
	}
	return k.put(RecordSettings, b)
}

func (k *KVStorage) LoadVessel() (*Vessel, error) {
	b, err := k.get(RecordVessel)
	if err != nil {
		return nil, err
	}
	var v Vessel
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, corrupt(RecordVessel, err)
	}
	return &v, nil
}

func (k *KVStorage) SaveVessel(v *Vessel) error {
	b, err := marshal(v)
	if err != nil {
		return err
	}
	return k.put(RecordVessel, b)
}

func (k *KVStorage) LoadSecurity() (*Security, error) {
	b, err := k.get(RecordSecurity)
	if err != nil {
		return nil, err
	}
	var s Security
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, corrupt(RecordSecurity, err)
	}
	return &s, nil
}

func (k *KVStorage) SaveSecurity(s *Security) error {
	b, err := marshal(s)
	if err != nil {
		return err
	}
	return k.put(RecordSecurity, b)
}

func (k *KVStorage) LoadPluginConfig(id string) (json.RawMessage, error) {
	return k.get(PluginRecord(id))
}

func (k *KVStorage) SavePluginConfig(id string, value json.RawMessage) error {
	return k.put(PluginRecord(id), value)
}
