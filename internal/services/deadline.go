package services

import "time"

// Deadline is the wall-clock budget for one driver invocation. Under an
// externally imposed execution ceiling the budget is set slightly below
// it; as a long-running service the budget is zero, meaning infinite.
type Deadline struct {
	start  time.Time
	budget time.Duration
	now    func() time.Time
}

// NewDeadline starts a budget from now. A non-positive budget never
// expires. The clock is injectable for tests; nil means time.Now.
func NewDeadline(budget time.Duration, clock func() time.Time) Deadline {
	if clock == nil {
		clock = time.Now
	}
	return Deadline{start: clock(), budget: budget, now: clock}
}

// Exceeded reports whether the budget is spent. Checked before each unit
// of work; there is no cancellation mid-batch.
func (d Deadline) Exceeded() bool {
	if d.budget <= 0 {
		return false
	}
	return d.now().Sub(d.start) >= d.budget
}

// Elapsed returns time spent since the invocation started.
func (d Deadline) Elapsed() time.Duration {
	return d.now().Sub(d.start)
}
