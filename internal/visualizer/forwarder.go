package visualizer

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/turnviz/internal/common/logger"
)

// EnvVisualizerWS is the environment variable that configures the
// forwarder's sink URL. Empty or absent disables the forwarder.
const EnvVisualizerWS = "CODEX_VISUALIZER_WS"

const (
	defaultQueueCapacity = 256
	defaultMinBackoff    = 1 * time.Second
	defaultMaxBackoff    = 30 * time.Second
)

// sink abstracts the WebSocket connection used by the background worker so
// tests can substitute a fake sink without a real network round trip.
type sink interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// dialFunc opens a sink for the given connect URL.
type dialFunc func(ctx context.Context, url string) (sink, error)

// Forwarder is the background pipeline described by the visualizer event
// forwarder: a bounded queue drained by a single worker that maintains a
// WebSocket connection to an external sink, reconnecting with exponential
// backoff on failure. It never blocks a producer and never fails a task.
type Forwarder struct {
	logger *logger.Logger

	connectURL string
	disabled   atomic.Bool
	closed     atomic.Bool

	queue    chan Event
	sequence atomic.Uint64
	dropped  atomic.Uint64

	minBackoff time.Duration
	maxBackoff time.Duration
	dial       dialFunc

	backoffState atomic.Int64 // current backoff, nanoseconds; read via Backoff()
	connected    atomic.Bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configure a Forwarder. Zero values fall back to spec defaults.
type Options struct {
	QueueCapacity int
	MinBackoff    time.Duration
	MaxBackoff    time.Duration
}

// NewFromEnv builds a Forwarder from the CODEX_VISUALIZER_WS environment
// variable. An absent or blank value yields a disabled forwarder whose
// Emit is a cheap no-op.
func NewFromEnv(log *logger.Logger, opts Options) *Forwarder {
	return New(log, os.Getenv(EnvVisualizerWS), opts)
}

// New builds a Forwarder targeting rawURL. A blank (or whitespace-only)
// rawURL yields a disabled forwarder.
func New(log *logger.Logger, rawURL string, opts Options) *Forwarder {
	return newForwarder(log, rawURL, opts, dialWebsocket)
}

// newForwarder is the shared constructor; tests inject a fake dialFunc so
// the background worker never touches the network.
func newForwarder(log *logger.Logger, rawURL string, opts Options, dial dialFunc) *Forwarder {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("component", "visualizer-forwarder"))

	f := &Forwarder{
		logger:     log,
		minBackoff: orDefaultDuration(opts.MinBackoff, defaultMinBackoff),
		maxBackoff: orDefaultDuration(opts.MaxBackoff, defaultMaxBackoff),
		dial:       dial,
		stopCh:     make(chan struct{}),
	}
	f.backoffState.Store(int64(f.minBackoff))

	if strings.TrimSpace(rawURL) == "" {
		f.disabled.Store(true)
		return f
	}

	f.connectURL = normalizeConnectURL(rawURL, log)

	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	f.queue = make(chan Event, capacity)

	f.wg.Add(1)
	go f.run()

	return f
}

func orDefaultDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func dialWebsocket(ctx context.Context, url string) (sink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Disabled reports whether the forwarder is a permanent no-op, either
// because no sink URL was configured or because it has been closed.
func (f *Forwarder) Disabled() bool {
	return f.disabled.Load()
}

// Connected reports whether the background worker currently holds a live
// sink connection. Used by the debug surface; not part of any invariant.
func (f *Forwarder) Connected() bool {
	return f.connected.Load()
}

// QueueDepth returns the number of events currently buffered, for
// introspection only.
func (f *Forwarder) QueueDepth() int {
	if f.queue == nil {
		return 0
	}
	return len(f.queue)
}

// Backoff returns the worker's current reconnect delay.
func (f *Forwarder) Backoff() time.Duration {
	return time.Duration(f.backoffState.Load())
}

// DroppedCount returns the number of events dropped due to a full queue.
// Exposed for tests and the debug surface, not part of the wire contract.
func (f *Forwarder) DroppedCount() uint64 {
	return f.dropped.Load()
}

// Emit stamps sequence and timestamp, builds an Event, and enqueues it via a
// non-blocking best-effort send. Disabled forwarders return immediately
// without allocating the event. A closed forwarder behaves identically to a
// disabled one.
func (f *Forwarder) Emit(conversationID *string, actionType string, action map[string]interface{}, state map[string]interface{}) {
	if f.disabled.Load() || f.closed.Load() {
		return
	}

	ev := Event{
		Sequence:       f.sequence.Add(1),
		TimestampMs:    currentTimestampMs(),
		ConversationID: conversationID,
		ActionType:     actionType,
		Action:         action,
		State:          state,
	}

	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
		f.logger.Warn("visualizer queue full, dropping event",
			zap.String("actionType", actionType),
			zap.Uint64("sequence", ev.Sequence))
	}
}

func currentTimestampMs() uint64 {
	now := time.Now()
	if now.IsZero() {
		return 0
	}
	ms := now.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// Close stops the background worker and releases the sink connection. Any
// events still queued are discarded; Close does not attempt a final flush
// since delivery is explicitly best-effort.
func (f *Forwarder) Close() {
	if f.disabled.Load() {
		return
	}
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	close(f.stopCh)
	f.wg.Wait()
	f.disabled.Store(true)
}

// run is the single-threaded background worker. It owns the sink and the
// at-most-one pending retransmission slot exclusively; nothing else touches
// either.
func (f *Forwarder) run() {
	defer f.wg.Done()

	backoff := f.minBackoff
	var stream sink
	var pending *Event

	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()

	for {
		var ev Event
		if pending != nil {
			ev = *pending
		} else {
			select {
			case e, ok := <-f.queue:
				if !ok {
					return
				}
				ev = e
			case <-f.stopCh:
				return
			}
		}

		if stream == nil {
			conn, err := f.dial(context.Background(), f.connectURL)
			if err != nil {
				f.logger.Warn("visualizer connect failed, will retry",
					zap.String("url", f.connectURL), zap.Error(err))
				pending = &ev
				if !f.sleepBackoff(backoff) {
					return
				}
				backoff = nextBackoff(backoff, f.maxBackoff)
				f.backoffState.Store(int64(backoff))
				continue
			}
			stream = conn
			f.connected.Store(true)
			backoff = f.minBackoff
			f.backoffState.Store(int64(backoff))
		}

		data, err := json.Marshal(ev)
		if err != nil {
			f.logger.Error("failed to serialize visualizer event, dropping",
				zap.Uint64("sequence", ev.Sequence), zap.Error(err))
			pending = nil
			continue
		}

		if err := stream.WriteMessage(websocket.TextMessage, data); err != nil {
			f.logger.Warn("visualizer send failed, will reconnect", zap.Error(err))
			pending = &ev
			stream.Close()
			stream = nil
			f.connected.Store(false)
			if !f.sleepBackoff(backoff) {
				return
			}
			backoff = nextBackoff(backoff, f.maxBackoff)
			f.backoffState.Store(int64(backoff))
			continue
		}

		pending = nil
	}
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

// sleepBackoff waits for d or returns false early if the forwarder is
// closed during the wait.
func (f *Forwarder) sleepBackoff(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-f.stopCh:
		return false
	}
}
