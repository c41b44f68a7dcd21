// Package turn implements the task lifecycle manager: it spawns, tracks,
// pre-empts, and finalizes asynchronous agent-phase tasks, guaranteeing
// that at most one turn is active at a time and that every spawned task
// resolves through exactly one terminal event.
package turn

// TaskKind is the closed enumeration over agent phases a runner can
// implement. It is extensible in principle but kept finite here to ease
// exhaustive testing.
type TaskKind string

const (
	KindRegular TaskKind = "Regular"
	KindCompact TaskKind = "Compact"
	KindReview  TaskKind = "Review"
)

// AbortReason explains why abortAllTasks tore down a turn. Typed rather
// than a bare string so host events and visualizer payloads cannot diverge
// in spelling.
type AbortReason string

const (
	ReasonReplaced        AbortReason = "Replaced"
	ReasonInterrupted     AbortReason = "Interrupted"
	ReasonSessionClosed   AbortReason = "SessionClosed"
	ReasonManagerShutdown AbortReason = "ManagerShutdown"
)

// TurnContext is opaque to the manager. It is threaded through from
// SpawnTask to the runner's Run method verbatim; only the runner
// interprets its contents (conversation history, model settings, and
// other turn-scoped state the manager has no business inspecting).
type TurnContext any

// InputItem is one unit of turn input. Its only manager-visible property
// is that a slice of them has a length, used for the task_spawned
// inputItems count; runners interpret the contents.
type InputItem any

// SessionContext is the reference-counted, effectively-immutable handle
// shared between the manager and every worker it spawns. Its lifetime in
// Go is simply whatever keeps a pointer to it alive: the last worker to
// finish and the session dropping its own reference naturally release it
// to the garbage collector.
type SessionContext struct {
	ConversationID string
	Cwd            string
	IsReviewMode   bool
}
