package lock

import (
	stdErrors "errors"
	"fmt"
)

// ErrTimeout is returned by AcquireTimeout when the wait budget elapses
// before the lock frees up.
var ErrTimeout = stdErrors.New("lock: acquire timed out")

// DeadlockError reports that acquiring a lock would close a cycle with a
// lock the caller already holds. The caller must unwind and abort its
// critical section.
type DeadlockError struct {
	Lock     string // lock being acquired
	Conflict string // already-held lock closing the cycle
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("lock: acquiring %q would deadlock with held lock %q", e.Lock, e.Conflict)
}
