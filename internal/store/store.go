package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("license not found")
	ErrConflict = errors.New("license already exists")
)

// StorageError wraps a backend failure. Callers are not expected to interpret Err.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// maxKeyAttempts bounds the regenerate loop on key collision.
const maxKeyAttempts = 5

type Record struct {
	Key       string     `json:"key"`
	HWID      string     `json:"hwid"`
	DaysLeft  int        `json:"days_left"`
	Banned    bool       `json:"banned"`
	Active    bool       `json:"active"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Patch is a partial update. Nil fields are left untouched; ClearLastTick
// sets last_tick to null and wins over LastTick.
type Patch struct {
	DaysLeft      *int
	Active        *bool
	Banned        *bool
	LastTick      *time.Time
	ClearLastTick bool
}

func (p Patch) apply(r *Record) {
	if p.DaysLeft != nil {
		r.DaysLeft = *p.DaysLeft
		if r.DaysLeft < 0 {
			r.DaysLeft = 0
		}
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.Banned != nil {
		r.Banned = *p.Banned
	}
	if p.LastTick != nil {
		t := p.LastTick.UTC().Truncate(time.Second)
		r.LastTick = &t
	}
	if p.ClearLastTick {
		r.LastTick = nil
	}
}

type Store interface {
	Close() error

	// Create inserts a fresh inactive record for hwid and returns it.
	// ErrConflict when hwid is already registered.
	Create(ctx context.Context, hwid string) (Record, error)
	FindByHWID(ctx context.Context, hwid string) (Record, error)
	FindByKey(ctx context.Context, key string) (Record, error)
	// Update applies p to the record and returns the result. ErrNotFound
	// when key does not exist.
	Update(ctx context.Context, key string, p Patch) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// Open returns the backend named by driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return OpenSQLite(path)
	case "bbolt":
		return OpenBBolt(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// KeyFunc generates license keys. Backends default to license.NewKey.
type KeyFunc func() (string, error)
