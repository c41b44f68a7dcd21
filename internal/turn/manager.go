package turn

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/turnviz/internal/common/logger"
)

// sessionEmitter is the subset of *visualizer.SessionVisualizer the manager
// depends on. Declared locally so turn never imports the visualizer
// package directly; the two communicate only through this narrow seam.
type sessionEmitter interface {
	Emit(actionType string, action map[string]interface{}, state map[string]interface{})
}

// Action type strings mirrored from the visualizer package's wire contract.
// Kept as local constants rather than an import so turn has no compile-time
// dependency on visualizer; both sides must agree on these literals.
const (
	actionTaskSpawned   = "task_spawned"
	actionTaskCompleted = "task_completed"
	actionTaskAborted   = "task_aborted"
)

// Manager is the task lifecycle manager: it owns the single ActiveTurn for
// a session, serializes every spawn/abort/finish transition behind one
// mutex, and guarantees each spawned task resolves through exactly one
// terminal event, never both TaskComplete and TurnAborted, never
// neither.
type Manager struct {
	mu   sync.Mutex
	turn *ActiveTurn

	session       *SessionContext
	hostCallbacks HostCallbacks
	visualizer    sessionEmitter
	logger        *logger.Logger
}

// NewManager builds a Manager bound to session. visualizer may be nil, in
// which case no visualizer events are emitted (useful for tests and for
// hosts that run without a visualizer sink configured).
func NewManager(session *SessionContext, hostCallbacks HostCallbacks, visualizer sessionEmitter, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		session:       session,
		hostCallbacks: hostCallbacks,
		visualizer:    visualizer,
		logger:        log.WithFields(zap.String("component", "turn-manager")).WithConversationID(session.ConversationID),
	}
}

// SpawnTask replaces any currently active turn (aborting its tasks with
// ReasonReplaced) and starts a new single-task turn running runner on a
// background worker. pendingQueue is the session's pending-input queue,
// cleared if a prior turn is replaced.
func (m *Manager) SpawnTask(turnCtx TurnContext, subID string, input []InputItem, runner TaskRunner, pendingQueue PendingQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.abortAllTasksLocked(ReasonReplaced)

	ctx, cancel := context.WithCancel(context.Background())
	task := &RunningTask{
		Kind:   runner.Kind(),
		Runner: runner,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	turn := newActiveTurn(pendingQueue)
	turn.tasks[subID] = task
	m.turn = turn

	go m.runWorker(ctx, turnCtx, subID, input, runner, task)

	m.emitTaskSpawned(subID, runner.Kind(), len(input))
}

// AbortAllTasks tears down the active turn, if any, cancelling every
// tracked task and emitting TurnAborted for each one that had not already
// finished on its own. Safe to call with no active turn; a no-op then.
func (m *Manager) AbortAllTasks(reason AbortReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortAllTasksLocked(reason)
}

// abortAllTasksLocked must be called with mu held. It detaches the current
// turn (so no racing onTaskFinished call can observe it mid-teardown),
// drains its pending queue, and for every task still unclaimed: cancels
// its worker, runs the runner's Abort hook, and emits the single terminal
// event. A task whose worker already won the claim race (it had already
// returned and is mid-onTaskFinished, or finished between lock acquisition
// and here) is skipped entirely; its own completion path owns its event.
func (m *Manager) abortAllTasksLocked(reason AbortReason) {
	turn := m.turn
	if turn == nil {
		return
	}
	m.turn = nil
	turn.drain()

	for subID, task := range turn.tasks {
		if !task.claimed.CompareAndSwap(false, true) {
			continue
		}
		task.cancel()
		task.Runner.Abort(context.Background(), subID)
		m.hostCallbacks.turnAborted(subID, task.Kind, reason)
		m.emitTaskAborted(subID, task.Kind, reason)
	}
}

// runWorker executes runner.Run to completion and, if it wins the claim
// race against a concurrent abort, reports the task's natural completion.
func (m *Manager) runWorker(ctx context.Context, turnCtx TurnContext, subID string, input []InputItem, runner TaskRunner, task *RunningTask) {
	var lastMessage *string
	func() {
		defer close(task.done)
		defer func() {
			if r := recover(); r != nil {
				m.logger.WithSubID(subID).Error("task runner panicked", zap.Any("panic", r))
				lastMessage = nil
			}
		}()
		msg, err := runner.Run(ctx, m.session, turnCtx, subID, input)
		if err != nil {
			m.logger.WithSubID(subID).WithError(err).Warn("task runner returned error")
			lastMessage = nil
			return
		}
		lastMessage = msg
	}()

	if !task.claimed.CompareAndSwap(false, true) {
		// Lost the race: AbortAllTasks already claimed and reported this
		// task. Our own completion must stay silent.
		return
	}
	m.onTaskFinished(subID, lastMessage)
}

// onTaskFinished records a task's natural completion, tearing down the
// turn if this was its last task, then notifies the host and visualizer.
func (m *Manager) onTaskFinished(subID string, lastMessage *string) {
	m.mu.Lock()
	if m.turn != nil {
		if empty := m.turn.removeTask(subID); empty {
			m.turn = nil
		}
	}
	m.mu.Unlock()

	m.hostCallbacks.taskComplete(subID, lastMessage)
	m.emitTaskCompleted(subID, lastMessage)
}

// Snapshot returns a point-in-time view of the active turn's tasks, or nil
// if no turn is active. Used by the debug surface and tests only.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turn == nil {
		return nil
	}
	return m.turn.snapshot()
}

func (m *Manager) emitTaskSpawned(subID string, kind TaskKind, inputCount int) {
	if m.visualizer == nil {
		return
	}
	m.visualizer.Emit(actionTaskSpawned, map[string]interface{}{
		"subId":        subID,
		"taskKind":     string(kind),
		"inputItems":   inputCount,
		"cwd":          m.session.Cwd,
		"isReviewMode": m.session.IsReviewMode,
	}, nil)
}

func (m *Manager) emitTaskCompleted(subID string, lastMessage *string) {
	if m.visualizer == nil {
		return
	}
	var msg interface{}
	if lastMessage != nil {
		msg = *lastMessage
	}
	m.visualizer.Emit(actionTaskCompleted, map[string]interface{}{
		"subId":            subID,
		"lastAgentMessage": msg,
	}, nil)
}

func (m *Manager) emitTaskAborted(subID string, kind TaskKind, reason AbortReason) {
	if m.visualizer == nil {
		return
	}
	m.visualizer.Emit(actionTaskAborted, map[string]interface{}{
		"subId":    subID,
		"taskKind": string(kind),
		"reason":   string(reason),
	}, nil)
}
