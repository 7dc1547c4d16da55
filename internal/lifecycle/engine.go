// Package lifecycle implements license state transitions on top of a
// store.Store: registration, lazy day decrement on every check, and the
// administrative activate / add-days / ban / unban operations.
//
// Every read-modify-write on a record runs under a per-key mutex, so two
// concurrent checks of the same license cannot both decrement for the same
// elapsed period.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"hwid-license-server/internal/audit"
	"hwid-license-server/internal/license"
	"hwid-license-server/internal/store"
)

type Engine struct {
	st    store.Store
	sink  audit.Sink
	clock Clock
	log   *slog.Logger
	locks *keyLocks
}

type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithAudit(s audit.Sink) Option { return func(e *Engine) { e.sink = s } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		st:    st,
		sink:  audit.Nop{},
		clock: SystemClock,
		log:   slog.Default(),
		locks: newKeyLocks(),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "lifecycle")
	return e
}

// Register issues a key for hwid. A second registration of the same hwid
// reports StatusExists and changes nothing.
func (e *Engine) Register(ctx context.Context, hwid string) (Result, error) {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" {
		return Result{}, invalid("missing hwid")
	}
	if _, err := e.st.FindByHWID(ctx, hwid); err == nil {
		return Result{Status: StatusExists}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}

	rec, err := e.st.Create(ctx, hwid)
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with another registration of the same hwid.
		if _, ferr := e.st.FindByHWID(ctx, hwid); ferr == nil {
			return Result{Status: StatusExists}, nil
		}
		return Result{}, fmt.Errorf("register: %w", err)
	}
	if err != nil {
		return Result{}, err
	}

	e.log.Info("license registered", "key", license.MaskKey(rec.Key), "hwid", hwid)
	e.record(ctx, audit.Event{Action: audit.ActionRegister, Key: rec.Key, HWID: hwid})
	return Result{Status: StatusRegistered, Key: rec.Key}, nil
}

// Check runs tick evaluation for the license bound to hwid and reports its
// status.
func (e *Engine) Check(ctx context.Context, hwid string) (Result, error) {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" {
		return Result{}, invalid("missing hwid")
	}
	rec, err := e.st.FindByHWID(ctx, hwid)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Status: StatusUnregistered}, nil
	}
	if err != nil {
		return Result{}, err
	}

	key := rec.Key
	return e.locked(ctx, key, func() (Result, *audit.Event, error) {
		// Re-read under the lock; an admin action may have landed in between.
		rec, err := e.st.FindByKey(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return Result{Status: StatusUnregistered}, nil, nil
		}
		if err != nil {
			return Result{}, nil, err
		}

		patch, changed, crossed := Tick(rec, e.clock.Now())
		if changed {
			rec, err = e.st.Update(ctx, rec.Key, patch)
			if err != nil {
				return Result{}, nil, err
			}
		}
		if !crossed {
			return statusOf(rec, false), nil, nil
		}
		e.log.Info("license expired", "key", license.MaskKey(rec.Key))
		return statusOf(rec, true), &audit.Event{Action: audit.ActionExpire, Key: rec.Key, HWID: rec.HWID}, nil
	})
}

// Activate grants days to key, lifts any ban and restarts the decrement
// baseline at now.
func (e *Engine) Activate(ctx context.Context, key string, days int) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, invalid("missing key")
	}
	if days < 1 {
		return Result{}, invalid("days must be positive")
	}

	return e.locked(ctx, key, func() (Result, *audit.Event, error) {
		now := e.clock.Now()
		active, banned := true, false
		rec, err := e.st.Update(ctx, key, store.Patch{DaysLeft: &days, Active: &active, Banned: &banned, LastTick: &now})
		if errors.Is(err, store.ErrNotFound) {
			return Result{Status: StatusInvalid}, nil, nil
		}
		if err != nil {
			return Result{}, nil, err
		}

		e.log.Info("license activated", "key", license.MaskKey(key), "days", days)
		return withDays(StatusOK, rec.DaysLeft), &audit.Event{Action: audit.ActionActivate, Key: key, HWID: rec.HWID, Days: &days}, nil
	})
}

// AddDays adjusts the remaining days by n (which may be negative), clamping
// at zero and saturating at math.MaxInt. The decrement baseline is left alone.
func (e *Engine) AddDays(ctx context.Context, key string, n int) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, invalid("missing key")
	}

	return e.locked(ctx, key, func() (Result, *audit.Event, error) {
		rec, err := e.st.FindByKey(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return Result{Status: StatusInvalid}, nil, nil
		}
		if err != nil {
			return Result{}, nil, err
		}
		if rec.Banned {
			return Result{Status: StatusBanned}, nil, nil
		}

		left := addDays(rec.DaysLeft, n)
		rec, err = e.st.Update(ctx, key, store.Patch{DaysLeft: &left})
		if err != nil {
			return Result{}, nil, err
		}

		e.log.Info("license days added", "key", license.MaskKey(key), "added", n, "days_left", rec.DaysLeft)
		return withDays(StatusOK, rec.DaysLeft), &audit.Event{Action: audit.ActionAddDays, Key: key, HWID: rec.HWID, Days: &n}, nil
	})
}

func addDays(left, n int) int {
	sum := left + n
	if n > 0 && sum < left {
		return math.MaxInt
	}
	return max(sum, 0)
}

// Ban sets the ban overlay. Days and activation are untouched.
func (e *Engine) Ban(ctx context.Context, key string) (Result, error) {
	return e.setBanned(ctx, key, true)
}

// Unban clears the ban overlay only.
func (e *Engine) Unban(ctx context.Context, key string) (Result, error) {
	return e.setBanned(ctx, key, false)
}

func (e *Engine) setBanned(ctx context.Context, key string, banned bool) (Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, invalid("missing key")
	}

	return e.locked(ctx, key, func() (Result, *audit.Event, error) {
		rec, err := e.st.Update(ctx, key, store.Patch{Banned: &banned})
		if errors.Is(err, store.ErrNotFound) {
			return Result{Status: StatusInvalid}, nil, nil
		}
		if err != nil {
			return Result{}, nil, err
		}

		action, status := audit.ActionUnban, StatusOK
		if banned {
			action, status = audit.ActionBan, StatusBanned
		}
		e.log.Info("license "+action, "key", license.MaskKey(key))
		return Result{Status: status}, &audit.Event{Action: action, Key: key, HWID: rec.HWID}, nil
	})
}

// locked runs fn under the per-key lock. The audit event fn returns is
// written after the lock is released, so a slow sink never holds up other
// operations on the same license.
func (e *Engine) locked(ctx context.Context, key string, fn func() (Result, *audit.Event, error)) (Result, error) {
	res, ev, err := func() (Result, *audit.Event, error) {
		defer e.locks.lock(key)()
		return fn()
	}()
	if err != nil {
		return Result{}, err
	}
	if ev != nil {
		e.record(ctx, *ev)
	}
	return res, nil
}

// List returns every record as stored, without tick evaluation.
func (e *Engine) List(ctx context.Context) ([]store.Record, error) {
	return e.st.List(ctx)
}

// Lookup finds a record by key, falling back to hwid.
func (e *Engine) Lookup(ctx context.Context, keyOrHWID string) (store.Record, error) {
	keyOrHWID = strings.TrimSpace(keyOrHWID)
	if keyOrHWID == "" {
		return store.Record{}, invalid("missing key")
	}
	rec, err := e.st.FindByKey(ctx, keyOrHWID)
	if errors.Is(err, store.ErrNotFound) {
		return e.st.FindByHWID(ctx, keyOrHWID)
	}
	return rec, err
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	ev.Time = e.clock.Now()
	if err := e.sink.Record(ctx, ev); err != nil {
		e.log.Warn("audit write failed", "action", ev.Action, "err", err)
	}
}
