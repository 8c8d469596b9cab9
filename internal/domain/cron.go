package domain

import "time"

// Interval represents how often a cron triggers a build
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// ParseInterval returns the interval named by s and whether it is valid
func ParseInterval(s string) (Interval, bool) {
	switch Interval(s) {
	case IntervalDaily, IntervalWeekly, IntervalMonthly:
		return Interval(s), true
	}
	return "", false
}

// After returns the first run time following t
func (i Interval) After(t time.Time) time.Time {
	switch i {
	case IntervalWeekly:
		return t.AddDate(0, 0, 7)
	case IntervalMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Cron is a per-branch build schedule. A branch has at most one.
type Cron struct {
	ID                   int64
	RepositoryID         int64
	BranchID             int64
	BranchName           string
	Interval             Interval
	RunOnlyWhenNewCommit bool
	LastRun              *time.Time
	NextRun              time.Time
	CreatedAt            time.Time
}
