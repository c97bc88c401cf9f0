package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/chatter-dev/chatter/internal/logger"
)

var (
	boltBucket = []byte("store")
	boltKey    = []byte("snapshot")
)

// BoltPersistence keeps the serialized snapshot under a single key in a
// BoltDB bucket.
type BoltPersistence struct {
	db *bolt.DB
}

// NewBoltPersistence opens (or creates) the database at path.
func NewBoltPersistence(path string) (*BoltPersistence, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	logger.L.Info("bolt snapshot store initialized", "path", path)
	return &BoltPersistence{db: db}, nil
}

func (p *BoltPersistence) Load() (*Snapshot, error) {
	var snap *Snapshot
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		v := b.Get(boltKey)
		if len(v) == 0 {
			return nil
		}
		snap = &Snapshot{}
		return json.Unmarshal(v, snap)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *BoltPersistence) Save(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return b.Put(boltKey, data)
	})
}

func (p *BoltPersistence) Close() error {
	return p.db.Close()
}
