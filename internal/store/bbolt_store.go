package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"hwid-license-server/internal/license"

	"go.etcd.io/bbolt"
)

const (
	bucketLicenses = "licenses"
	bucketHWIDs    = "hwids"
)

var errKeyTaken = errors.New("key collision")

type BBoltStore struct {
	db     *bbolt.DB
	newKey KeyFunc
	now    func() time.Time
}

func OpenBBolt(path string) (*BBoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storageErr("open", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, storageErr("open", err)
	}
	st := &BBoltStore{db: db, newKey: license.NewKey, now: time.Now}
	if err := st.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketLicenses)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketHWIDs)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, storageErr("open", err)
	}
	return st, nil
}

func (s *BBoltStore) Close() error { return s.db.Close() }

// SetKeyFunc replaces the key generator.
func (s *BBoltStore) SetKeyFunc(f KeyFunc) { s.newKey = f }

func (s *BBoltStore) Create(ctx context.Context, hwid string) (Record, error) {
	var rec Record
	for attempt := 0; attempt < maxKeyAttempts; attempt++ {
		key, err := s.newKey()
		if err != nil {
			return Record{}, storageErr("create", err)
		}
		rec = Record{Key: key, HWID: hwid, CreatedAt: s.now().UTC().Truncate(time.Second)}

		err = s.db.Update(func(tx *bbolt.Tx) error {
			hw := tx.Bucket([]byte(bucketHWIDs))
			if hw.Get([]byte(hwid)) != nil {
				return ErrConflict
			}
			b := tx.Bucket([]byte(bucketLicenses))
			if b.Get([]byte(key)) != nil {
				return errKeyTaken
			}
			if err := putRecord(tx, rec); err != nil {
				return err
			}
			return hw.Put([]byte(hwid), []byte(key))
		})
		switch {
		case err == nil:
			return rec, nil
		case errors.Is(err, errKeyTaken):
			continue
		case errors.Is(err, ErrConflict):
			return Record{}, ErrConflict
		default:
			return Record{}, storageErr("create", err)
		}
	}
	return Record{}, ErrConflict
}

func (s *BBoltStore) FindByHWID(ctx context.Context, hwid string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(bucketHWIDs)).Get([]byte(hwid))
		if key == nil {
			return ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, string(key))
		return err
	})
	if err != nil {
		return Record{}, wrapLookup("find_by_hwid", err)
	}
	return rec, nil
}

func (s *BBoltStore) FindByKey(ctx context.Context, key string) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = getRecord(tx, key)
		return err
	})
	if err != nil {
		return Record{}, wrapLookup("find_by_key", err)
	}
	return rec, nil
}

func (s *BBoltStore) Update(ctx context.Context, key string, p Patch) (Record, error) {
	var updated Record
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rec, err := getRecord(tx, key)
		if err != nil {
			return err
		}
		p.apply(&rec)
		updated = rec
		return putRecord(tx, rec)
	})
	if err != nil {
		return Record{}, wrapLookup("update", err)
	}
	return updated, nil
}

func (s *BBoltStore) List(ctx context.Context) ([]Record, error) {
	out := make([]Record, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLicenses))
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func getRecord(tx *bbolt.Tx, key string) (Record, error) {
	v := tx.Bucket([]byte(bucketLicenses)).Get([]byte(key))
	if v == nil {
		return Record{}, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal(v, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func putRecord(tx *bbolt.Tx, rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketLicenses)).Put([]byte(rec.Key), buf)
}

func wrapLookup(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return storageErr(op, err)
}
