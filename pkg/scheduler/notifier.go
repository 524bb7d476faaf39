package scheduler

import "context"

// Notifier is signaled when a top-level url() chain's `end` event fires. It is an
// edge feature — external notification only, never on the hot propagation path — so
// a nil Notifier is the Scheduler's default and a Notify failure never blocks or
// fails url().
type Notifier interface {
	Notify(ctx context.Context, url string, duration float64, failed bool) error
}
