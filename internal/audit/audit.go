// Package audit records administrative and registration actions to
// append-only sinks. Sinks are write-only; nothing in the service reads them
// back.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	ActionRegister = "register"
	ActionActivate = "activate"
	ActionAddDays  = "add_days"
	ActionBan      = "ban"
	ActionUnban    = "unban"
	ActionExpire   = "expire"
)

type Event struct {
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	Key    string    `json:"key,omitempty"`
	HWID   string    `json:"hwid,omitempty"`
	Days   *int      `json:"days,omitempty"`
}

// Line renders the event in the action log format.
func (e Event) Line() string {
	days := "-"
	if e.Days != nil {
		days = strconv.Itoa(*e.Days)
	}
	return fmt.Sprintf("%s | %s | key=%s | hwid=%s | days=%s",
		e.Time.UTC().Format(time.RFC3339), e.Action, orDash(e.Key), orDash(e.HWID), days)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
