package position

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"PositionSentinel/internal/model"
)

var (
	boltBucket = []byte("position")
	boltKey    = []byte("current")
)

// BoltStore keeps the position in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt store")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (*model.Position, error) {
	var pos *model.Position
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(boltBucket).Get(boltKey)
		if data == nil {
			return nil
		}
		pos = &model.Position{}
		return json.Unmarshal(data, pos)
	})
	if err != nil {
		return nil, errors.Wrap(err, "load position")
	}
	return pos, nil
}

func (s *BoltStore) Save(pos model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(boltKey, data)
	})
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(boltKey)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
