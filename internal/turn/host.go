package turn

// HostCallbacks lets the embedding host (the conversation loop) react to
// task lifecycle events without the manager importing host packages.
// Both fields are optional; a nil callback is simply skipped.
type HostCallbacks struct {
	// OnTaskComplete fires after a task's worker returns without having been
	// aborted first, with the last assistant message it produced, if any.
	// A runner that returns an error or panics also ends here, with a nil
	// message.
	OnTaskComplete func(subID string, lastMessage *string)

	// OnTurnAborted fires once per task torn down by AbortAllTasks or by
	// SpawnTask replacing the turn, after the worker has been cancelled and
	// the runner's Abort hook has run.
	OnTurnAborted func(subID string, kind TaskKind, reason AbortReason)
}

func (h HostCallbacks) taskComplete(subID string, lastMessage *string) {
	if h.OnTaskComplete != nil {
		h.OnTaskComplete(subID, lastMessage)
	}
}

func (h HostCallbacks) turnAborted(subID string, kind TaskKind, reason AbortReason) {
	if h.OnTurnAborted != nil {
		h.OnTurnAborted(subID, kind, reason)
	}
}
