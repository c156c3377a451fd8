package workqueue

import "log/slog"

// WorkQueueBuilderOption is a functional option for configuring a WorkQueue via NewWorkQueue.
type WorkQueueBuilderOption func(*workQueue)

// WithName sets the name attached to the queue's log records.
//
// Parameters:
//   - name: the queue name
//
// Returns:
//   - WorkQueueBuilderOption: option function to apply
func WithName(name string) WorkQueueBuilderOption {
	return func(q *workQueue) {
		q.name = name
	}
}

// WithLogger sets the logger used to report worker lifecycle events and recovered panics.
// A nil logger keeps the default no-op logger.
//
// Parameters:
//   - logger: the logger to use
//
// Returns:
//   - WorkQueueBuilderOption: option function to apply
func WithLogger(logger *slog.Logger) WorkQueueBuilderOption {
	return func(q *workQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}
