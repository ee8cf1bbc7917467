package scanning

import "time"

// TimeProvider is an interface that provides a Now method to get the current time.
type TimeProvider interface {
	Now() time.Time
}

// Real implementation for production.
type realTimeProvider struct{}

func (r *realTimeProvider) Now() time.Time { return time.Now().UTC() }

// Timeline tracks temporal aspects of scan jobs.
type Timeline struct {
	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	timeProvider TimeProvider
}

// NewTimeline creates a new Timeline instance stamped with the creation time.
func NewTimeline(timeProvider TimeProvider) *Timeline {
	return &Timeline{
		createdAt:    timeProvider.Now(),
		timeProvider: timeProvider,
	}
}

// ReconstructTimeline restores a Timeline from stored timestamps. Zero values
// mean the corresponding event has not happened.
func ReconstructTimeline(createdAt, startedAt, completedAt time.Time) *Timeline {
	return &Timeline{
		createdAt:    createdAt,
		startedAt:    startedAt,
		completedAt:  completedAt,
		timeProvider: new(realTimeProvider),
	}
}

// CreatedAt returns the time the scan job was requested.
func (t *Timeline) CreatedAt() time.Time { return t.createdAt }

// StartedAt returns the time the scan job started.
func (t *Timeline) StartedAt() time.Time { return t.startedAt }

// CompletedAt returns the time the scan job completed.
func (t *Timeline) CompletedAt() time.Time { return t.completedAt }

// MarkStarted records start time.
func (t *Timeline) MarkStarted() { t.startedAt = t.timeProvider.Now() }

// MarkCompleted records completion time.
func (t *Timeline) MarkCompleted() { t.completedAt = t.timeProvider.Now() }

// IsStarted checks if the timeline has been marked as started.
func (t *Timeline) IsStarted() bool { return !t.startedAt.IsZero() }

// IsCompleted checks if the timeline has been marked as completed.
func (t *Timeline) IsCompleted() bool { return !t.completedAt.IsZero() }
