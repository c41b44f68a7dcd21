package visualizer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kandev/turnviz/internal/common/logger"
)

// fakeSink records every frame written to it; its writes never fail.
// Connect failures for reconnect/backoff tests come from failNTimes.
type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *fakeSink) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// failNTimes returns a dialFunc that fails the first n dial attempts, then
// succeeds and returns sink for every attempt after.
func failNTimes(n int, s *fakeSink) dialFunc {
	var attempts int
	var mu sync.Mutex
	return func(ctx context.Context, url string) (sink, error) {
		mu.Lock()
		attempts++
		cur := attempts
		mu.Unlock()
		if cur <= n {
			return nil, errors.New("simulated connect failure")
		}
		return s, nil
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}

func TestNewDisabledOnEmptyURL(t *testing.T) {
	f := New(testLogger(t), "", Options{})
	defer f.Close()
	if !f.Disabled() {
		t.Fatal("expected forwarder disabled for empty URL")
	}
}

func TestNewDisabledOnWhitespaceURL(t *testing.T) {
	f := New(testLogger(t), "   \t  ", Options{})
	defer f.Close()
	if !f.Disabled() {
		t.Fatal("expected forwarder disabled for whitespace-only URL")
	}
}

func TestEmitOnDisabledForwarderIsNoop(t *testing.T) {
	f := New(testLogger(t), "", Options{})
	defer f.Close()

	f.Emit(nil, "task_spawned", map[string]interface{}{"subId": "a"}, nil)
	if f.sequence.Load() != 0 {
		t.Fatalf("expected sequence untouched when disabled, got %d", f.sequence.Load())
	}
}

func TestNormalizeConnectURLDefaultsScheme(t *testing.T) {
	got := normalizeConnectURL("localhost:9000", testLogger(t))
	want := "ws://localhost:9000/?role=producer"
	if got != want {
		t.Fatalf("normalizeConnectURL() = %q, want %q", got, want)
	}
}

func TestNormalizeConnectURLOverridesExistingRole(t *testing.T) {
	got := normalizeConnectURL("ws://x/y?role=consumer&k=v", testLogger(t))
	want := "ws://x/y?role=producer&k=v"
	if got != want {
		t.Fatalf("normalizeConnectURL() = %q, want %q", got, want)
	}
}

func TestNormalizeConnectURLPreservesParamOrder(t *testing.T) {
	got := normalizeConnectURL("ws://x/y?a=1&role=consumer&b=2", testLogger(t))
	want := "ws://x/y?a=1&role=producer&b=2"
	if got != want {
		t.Fatalf("normalizeConnectURL() = %q, want %q", got, want)
	}
}

func TestNormalizeConnectURLParseFailureFallsBack(t *testing.T) {
	raw := "ws://%zz"
	got := normalizeConnectURL(raw, testLogger(t))
	if got != raw {
		t.Fatalf("normalizeConnectURL() = %q, want raw string %q unchanged", got, raw)
	}
}

func decodeFrames(t *testing.T, frames [][]byte) []Event {
	t.Helper()
	out := make([]Event, 0, len(frames))
	for _, f := range frames {
		var ev Event
		if err := json.Unmarshal(f, &ev); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func TestEventsDeliveredInOrder(t *testing.T) {
	s := &fakeSink{}
	f := newForwarder(testLogger(t), "ws://sink.test", Options{}, func(ctx context.Context, url string) (sink, error) {
		return s, nil
	})
	defer f.Close()

	for i := 0; i < 20; i++ {
		f.Emit(nil, "task_spawned", map[string]interface{}{"i": i}, nil)
	}

	waitFor(t, func() bool { return len(s.snapshot()) == 20 })

	events := decodeFrames(t, s.snapshot())
	for i, ev := range events {
		if ev.Sequence != uint64(i+1) {
			t.Fatalf("event %d has sequence %d, want %d", i, ev.Sequence, i+1)
		}
	}
}

func TestReconnectRetransmitsPendingHeadInOrder(t *testing.T) {
	s := &fakeSink{}
	f := newForwarder(testLogger(t), "ws://sink.test", Options{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, failNTimes(2, s))
	defer f.Close()

	for i := 0; i < 5; i++ {
		f.Emit(nil, "task_spawned", map[string]interface{}{"i": i}, nil)
	}

	waitFor(t, func() bool { return len(s.snapshot()) == 5 })

	events := decodeFrames(t, s.snapshot())
	for i, ev := range events {
		if ev.Sequence != uint64(i+1) {
			t.Fatalf("event %d out of order after reconnect: sequence %d", i, ev.Sequence)
		}
	}
}

func TestQueueOverflowRecordsDrop(t *testing.T) {
	dialStarted := make(chan struct{}, 1)
	blockDial := make(chan struct{})
	f := newForwarder(testLogger(t), "ws://sink.test", Options{QueueCapacity: 4}, func(ctx context.Context, url string) (sink, error) {
		dialStarted <- struct{}{}
		<-blockDial // held open until the test releases it
		return &fakeSink{}, nil
	})
	defer func() {
		close(blockDial)
		f.Close()
	}()

	// Prime one event so the worker pulls it out of the queue and parks
	// inside dial, guaranteeing the channel below starts genuinely empty.
	f.Emit(nil, "task_spawned", map[string]interface{}{"i": "priming"}, nil)
	<-dialStarted

	for i := 0; i < 4; i++ {
		f.Emit(nil, "task_spawned", map[string]interface{}{"i": i}, nil)
	}
	if f.DroppedCount() != 0 {
		t.Fatalf("expected no drops while under capacity, got %d", f.DroppedCount())
	}

	f.Emit(nil, "task_spawned", map[string]interface{}{"i": "overflow"}, nil)
	if f.DroppedCount() != 1 {
		t.Fatalf("expected exactly one drop at capacity, got %d", f.DroppedCount())
	}
}

func TestBackoffDoublesOnRepeatedFailureUpToCeiling(t *testing.T) {
	f := newForwarder(testLogger(t), "ws://sink.test", Options{MinBackoff: time.Millisecond, MaxBackoff: 8 * time.Millisecond}, func(ctx context.Context, url string) (sink, error) {
		return nil, errors.New("always fails")
	})
	defer f.Close()

	f.Emit(nil, "task_spawned", nil, nil)

	waitFor(t, func() bool { return f.Backoff() >= 8*time.Millisecond })
	if f.Backoff() > 8*time.Millisecond {
		t.Fatalf("backoff exceeded ceiling: %v", f.Backoff())
	}
}

func TestCloseIsIdempotentAndDisablesForwarder(t *testing.T) {
	s := &fakeSink{}
	f := newForwarder(testLogger(t), "ws://sink.test", Options{}, func(ctx context.Context, url string) (sink, error) {
		return s, nil
	})
	f.Close()
	f.Close() // must not panic or block
	if !f.Disabled() {
		t.Fatal("expected forwarder disabled after Close")
	}
	f.Emit(nil, "task_spawned", nil, nil) // must not panic
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
