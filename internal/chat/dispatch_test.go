package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/omochice/chatlink/pkg/neterr"
)

type recordedEvent struct {
	kind      pushKind
	payload   []byte
	timestamp int64
	ack       *ServerMessageAck
	cause     error
}

// recordListener records deliveries in order for assertions.
type recordListener struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *recordListener) OnIncomingMessage(payload []byte, timestampMillis int64, ack *ServerMessageAck) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{kind: pushMessage, payload: payload, timestamp: timestampMillis, ack: ack})
}

func (l *recordListener) OnQueueEmpty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{kind: pushQueueEmpty})
}

func (l *recordListener) OnConnectionInterrupted(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{kind: pushInterrupted, cause: cause})
}

func (l *recordListener) snapshot() []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]recordedEvent, len(l.events))
	copy(out, l.events)
	return out
}

// waitFor polls until the listener has seen n events or the deadline hits.
func (l *recordListener) waitFor(t *testing.T, n int) []recordedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events := l.snapshot()
		if len(events) >= n {
			return events
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(l.snapshot()))
	return nil
}

func messageEvent(i int) pushEvent {
	return pushEvent{kind: pushMessage, payload: []byte(fmt.Sprintf("message %d", i)), timestamp: int64(i)}
}

func TestDispatchQueue_DeliversInArrivalOrder(t *testing.T) {
	q := newDispatchQueue()
	defer q.close()

	listener := &recordListener{}
	q.setListener(listener)

	const n = 50
	for i := 0; i < n; i++ {
		q.push(messageEvent(i))
	}

	events := listener.waitFor(t, n)
	for i, ev := range events[:n] {
		if ev.timestamp != int64(i) {
			t.Fatalf("event %d has timestamp %d, order broken", i, ev.timestamp)
		}
	}
}

func TestDispatchQueue_BuffersWithoutListener(t *testing.T) {
	q := newDispatchQueue()
	defer q.close()

	for i := 0; i < 3; i++ {
		q.push(messageEvent(i))
	}

	// Nothing may be dropped while no listener is attached.
	time.Sleep(20 * time.Millisecond)

	listener := &recordListener{}
	q.setListener(listener)
	q.push(messageEvent(3))

	events := listener.waitFor(t, 4)
	for i, ev := range events[:4] {
		if ev.timestamp != int64(i) {
			t.Fatalf("event %d has timestamp %d, want buffered events before new arrivals", i, ev.timestamp)
		}
	}
}

// swapListener replaces itself with its successor after a fixed number of
// deliveries, from inside a handler, to exercise mid-stream replacement.
type swapListener struct {
	recordListener
	queue *dispatchQueue
	after int
	next  Listener
}

func (l *swapListener) OnIncomingMessage(payload []byte, timestampMillis int64, ack *ServerMessageAck) {
	l.recordListener.OnIncomingMessage(payload, timestampMillis, ack)
	if len(l.snapshot()) == l.after {
		l.queue.setListener(l.next)
	}
}

func TestDispatchQueue_ListenerReplacementKeepsOrder(t *testing.T) {
	q := newDispatchQueue()
	defer q.close()

	second := &recordListener{}
	first := &swapListener{queue: q, after: 2, next: second}
	q.setListener(first)

	const n = 6
	for i := 0; i < n; i++ {
		q.push(messageEvent(i))
	}

	events := second.waitFor(t, n-2)

	// The old listener saw exactly the first two, the new one exactly the
	// rest, with no duplicates and no gaps.
	firstEvents := first.snapshot()
	if len(firstEvents) != 2 {
		t.Fatalf("first listener saw %d events, want 2", len(firstEvents))
	}
	for i, ev := range firstEvents {
		if ev.timestamp != int64(i) {
			t.Errorf("first listener event %d has timestamp %d", i, ev.timestamp)
		}
	}
	for i, ev := range events[:n-2] {
		if ev.timestamp != int64(i+2) {
			t.Errorf("second listener event %d has timestamp %d, want %d", i, ev.timestamp, i+2)
		}
	}
}

func TestDispatchQueue_InterruptionArrivesAfterPrecedingPushes(t *testing.T) {
	q := newDispatchQueue()
	defer q.close()

	for i := 0; i < 3; i++ {
		q.push(messageEvent(i))
	}
	q.push(pushEvent{kind: pushInterrupted, cause: neterr.New(neterr.KindNetwork, "connection reset")})

	listener := &recordListener{}
	q.setListener(listener)

	events := listener.waitFor(t, 4)
	for i := 0; i < 3; i++ {
		if events[i].kind != pushMessage {
			t.Fatalf("event %d kind = %d, want message before interruption", i, events[i].kind)
		}
	}
	if events[3].kind != pushInterrupted {
		t.Fatalf("event 3 kind = %d, want interruption last", events[3].kind)
	}
	if neterr.KindOf(events[3].cause) != neterr.KindNetwork {
		t.Errorf("interruption cause kind = %v, want network", neterr.KindOf(events[3].cause))
	}
}

func TestDispatchQueue_CloseIsIdempotent(t *testing.T) {
	q := newDispatchQueue()
	q.close()
	q.close()

	// A push after close is discarded without panicking.
	q.push(messageEvent(0))
}
