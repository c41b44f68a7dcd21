package turn

import "context"

// TaskRunner is the polymorphism point over task kinds (Regular, Compact,
// Review). The manager invokes Run on a background worker and Abort (for
// kind-specific teardown) after cancelling that worker; runners never emit
// lifecycle telemetry themselves, so every kind shares identical envelopes.
type TaskRunner interface {
	// Kind returns the runner's task kind. Must be pure and stable.
	Kind() TaskKind

	// Run executes the task body and returns the assistant's last message
	// for the phase, or nil if none. It must be cooperatively cancellable:
	// once ctx is done it should stop at the next safe suspension point.
	// A returned error is treated identically to a nil message: the
	// manager never surfaces runner errors as anything but a terminal
	// event carrying no message.
	Run(ctx context.Context, session *SessionContext, turnCtx TurnContext, subID string, input []InputItem) (*string, error)

	// Abort performs kind-specific teardown (e.g. rolling back a
	// compaction buffer) after the manager has already cancelled the
	// worker. The default behavior for kinds with nothing to roll back is
	// a no-op implementation.
	Abort(ctx context.Context, subID string)
}
