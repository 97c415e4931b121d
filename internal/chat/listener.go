package chat

// Listener receives server-pushed events for one session. Handlers are
// invoked one at a time, in arrival order, never concurrently. Handlers
// must return promptly; long work belongs on the listener's own goroutine.
type Listener interface {
	// OnIncomingMessage delivers a pushed message. The timestamp is epoch
	// milliseconds taken from the push's x-signal-timestamp header, or 0 if
	// the header was absent or unparseable. The ack must be consumed at
	// most once.
	OnIncomingMessage(payload []byte, timestampMillis int64, ack *ServerMessageAck)

	// OnQueueEmpty signals that the server has drained its queued messages
	// for this session.
	OnQueueEmpty()

	// OnConnectionInterrupted reports that the connection dropped. It is
	// delivered through the same ordered path as messages, so it always
	// arrives after every push that preceded it.
	OnConnectionInterrupted(cause error)
}
