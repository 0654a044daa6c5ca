package store

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketShutters = []byte("shutters")

// Record is what survives a restart of a shutter.
type Record struct {
	Position  int       `json:"position"`
	Closed    bool      `json:"closed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoltStore keeps the last known position of every shutter in a BoltDB file.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketShutters)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create buckets")
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) SavePosition(name string, position int) error {
	data, err := json.Marshal(Record{Position: position, Closed: position == 0, UpdatedAt: s.now()})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShutters)
		if b == nil {
			return errors.Errorf("bucket %q not found", bucketShutters)
		}
		return b.Put([]byte(name), data)
	})
}

func (s *BoltStore) LoadPosition(name string) (int, bool, error) {
	record, err := s.Get(name)
	if err != nil || record == nil {
		return 0, false, err
	}
	return record.Position, true, nil
}

// Get returns nil when nothing was stored for name.
func (s *BoltStore) Get(name string) (*Record, error) {
	var record *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShutters)
		if b == nil {
			return errors.Errorf("bucket %q not found", bucketShutters)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return nil
		}
		record = &Record{}
		return errors.Wrapf(json.Unmarshal(data, record), "shutter %s", name)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
