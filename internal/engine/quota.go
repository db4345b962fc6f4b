package engine

import "fmt"

// QuotaEnforcer counts the node visits of one traversal and enforces a
// maximum. A graph whose conditions keep routing through a loop would
// otherwise traverse forever.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check counts one step and fails once the limit is passed.
func (q *QuotaEnforcer) Check(instanceID int64) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			InstanceID: instanceID,
			Steps:      q.current,
			Limit:      q.maxSteps,
		}
	}
	return nil
}

// Current returns the number of steps counted so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// StepsExceededError is returned when a traversal exceeds the step quota.
// The instance is aborted.
type StepsExceededError struct {
	InstanceID int64
	Steps      int
	Limit      int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("instance %d exceeded max steps (%d > %d)", e.InstanceID, e.Steps, e.Limit)
}
