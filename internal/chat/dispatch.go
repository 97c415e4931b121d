package chat

import "sync"

type pushKind int

const (
	pushMessage pushKind = iota
	pushQueueEmpty
	pushInterrupted
)

// pushEvent is one queued delivery. Exactly one handler fires per event.
type pushEvent struct {
	kind      pushKind
	payload   []byte
	timestamp int64
	ack       *ServerMessageAck
	cause     error
}

// dispatchQueue buffers pushed events in arrival order and drains them
// through a single worker goroutine. Events queued while no listener is
// attached are held, not dropped; attaching a listener later delivers them
// in original order before anything newer. Replacing the listener is an
// atomic swap: the worker reads the current listener once per dequeued
// event, so an event goes to exactly one of the two.
type dispatchQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []pushEvent
	listener Listener
	closed   bool
	done     chan struct{}
}

func newDispatchQueue() *dispatchQueue {
	d := &dispatchQueue{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// setListener replaces the dispatch target. Safe at any time, including
// before the session connects; passing nil detaches.
func (d *dispatchQueue) setListener(l Listener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
	d.cond.Broadcast()
}

// push appends one event. The queue is unbounded.
func (d *dispatchQueue) push(ev pushEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.items = append(d.items, ev)
	d.mu.Unlock()
	d.cond.Broadcast()
}

// close stops the worker after its in-flight delivery, if any. Undelivered
// events are discarded with the session.
func (d *dispatchQueue) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
	<-d.done
}

func (d *dispatchQueue) run() {
	for {
		d.mu.Lock()
		for !d.closed && (len(d.items) == 0 || d.listener == nil) {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			close(d.done)
			return
		}
		ev := d.items[0]
		d.items = d.items[1:]
		l := d.listener
		d.mu.Unlock()

		switch ev.kind {
		case pushMessage:
			l.OnIncomingMessage(ev.payload, ev.timestamp, ev.ack)
		case pushQueueEmpty:
			l.OnQueueEmpty()
		case pushInterrupted:
			l.OnConnectionInterrupted(ev.cause)
		}
	}
}
