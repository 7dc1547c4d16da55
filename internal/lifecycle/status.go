package lifecycle

// Status is the outcome reported to callers. Values are part of the wire
// contract; clients branch on them.
type Status string

const (
	StatusRegistered   Status = "registered"
	StatusExists       Status = "exists"
	StatusUnregistered Status = "unregistered"
	StatusBanned       Status = "banned"
	StatusInactive     Status = "inactive"
	StatusExpired      Status = "expired"
	StatusOK           Status = "ok"
	StatusInvalid      Status = "invalid"
)

// Result is returned by every engine operation.
type Result struct {
	Status   Status `json:"status"`
	Key      string `json:"key,omitempty"`
	DaysLeft *int   `json:"days_left,omitempty"`
}

func withDays(s Status, days int) Result {
	return Result{Status: s, DaysLeft: &days}
}
