package recovery

import (
	"time"

	"reconciler/internal/domain"
)

// Log is the append-only attempt history of one reconciliation request.
// It is owned by a single request and is not safe for concurrent use.
type Log struct {
	attempts []domain.RecoveryAttempt
	now      func() time.Time
}

func NewLog() *Log {
	return &Log{now: time.Now}
}

func (l *Log) record(reference string, method domain.RecoveryMethod, err error) {
	a := domain.RecoveryAttempt{
		Reference: reference,
		Method:    method,
		Success:   err == nil,
		Timestamp: l.now().UTC(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	l.attempts = append(l.attempts, a)
}

// Attempts returns a copy of the recorded attempts in the order they ran.
func (l *Log) Attempts() []domain.RecoveryAttempt {
	out := make([]domain.RecoveryAttempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

func (l *Log) Successes() int {
	n := 0
	for _, a := range l.attempts {
		if a.Success {
			n++
		}
	}
	return n
}
