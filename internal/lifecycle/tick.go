package lifecycle

import (
	"time"

	"hwid-license-server/internal/store"
)

const secondsPerDay = 24 * 60 * 60

// Tick works out what the passage of time does to rec at now. It never
// touches banned or inactive records. crossed is set when the remaining days
// reach zero during this evaluation, in which case the patch deactivates the
// record.
func Tick(rec store.Record, now time.Time) (p store.Patch, changed, crossed bool) {
	if rec.Banned || !rec.Active {
		return store.Patch{}, false, false
	}
	if rec.DaysLeft <= 0 {
		return expirePatch(), true, true
	}
	if rec.LastTick == nil {
		return store.Patch{LastTick: &now}, true, false
	}

	elapsed := ElapsedDays(*rec.LastTick, now)
	if elapsed <= 0 {
		return store.Patch{}, false, false
	}
	left := rec.DaysLeft - elapsed
	if left <= 0 {
		return expirePatch(), true, true
	}
	return store.Patch{DaysLeft: &left, LastTick: &now}, true, false
}

// ElapsedDays is the number of whole days between from and to, using whole
// seconds. It is negative or zero when to is not a full day after from.
func ElapsedDays(from, to time.Time) int {
	diff := to.Unix() - from.Unix()
	if diff < 0 {
		return -int((-diff) / secondsPerDay)
	}
	return int(diff / secondsPerDay)
}

func expirePatch() store.Patch {
	zero := 0
	inactive := false
	return store.Patch{DaysLeft: &zero, Active: &inactive, ClearLastTick: true}
}

// statusOf derives the reported status. Banned wins over everything; a
// license that ran out during this evaluation reports expired once, after
// which it is plain inactive.
func statusOf(rec store.Record, crossed bool) Result {
	switch {
	case rec.Banned:
		return Result{Status: StatusBanned}
	case crossed:
		return Result{Status: StatusExpired}
	case !rec.Active:
		return Result{Status: StatusInactive}
	case rec.DaysLeft <= 0:
		return Result{Status: StatusExpired}
	default:
		return withDays(StatusOK, rec.DaysLeft)
	}
}
