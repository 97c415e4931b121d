package chat

import (
	"sync"

	"github.com/omochice/chatlink/pkg/wire"
)

// sendResult carries either the matched response or a classified failure.
type sendResult struct {
	resp *wire.Response
	err  error
}

// correlator matches outgoing requests to eventual responses by id.
// Ids increase monotonically per session; each pending request resolves
// exactly once.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan sendResult
	failed  error
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[uint64]chan sendResult)}
}

// register allocates an id and a one-shot result channel for it. If the
// correlator has already been failed (session torn down), the channel is
// pre-resolved with that failure.
func (c *correlator) register() (uint64, <-chan sendResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	ch := make(chan sendResult, 1)
	if c.failed != nil {
		ch <- sendResult{err: c.failed}
		return id, ch
	}
	c.pending[id] = ch
	return id, ch
}

// resolve completes the pending request with the given id. Reports false
// for unknown or already-resolved ids, so a duplicate response is dropped
// rather than delivered twice.
func (c *correlator) resolve(id uint64, resp *wire.Response) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- sendResult{resp: resp}
	return true
}

// fail completes one pending request with an error, typically because its
// write never made it onto the socket.
func (c *correlator) fail(id uint64, err error) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		ch <- sendResult{err: err}
	}
}

// failAll completes every pending request with the given error and makes
// all future registrations resolve with it immediately. Called on
// interruption and teardown.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan sendResult)
	c.failed = err
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- sendResult{err: err}
	}
}

// reset clears the failure latch so a reconnected session can send again.
func (c *correlator) reset() {
	c.mu.Lock()
	c.failed = nil
	c.mu.Unlock()
}
