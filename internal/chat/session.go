// Package chat implements the client side of a persistent chat session:
// connection lifecycle, request/response correlation, and ordered dispatch
// of server-pushed requests to a replaceable listener.
package chat

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/omochice/chatlink/internal/auth"
	"github.com/omochice/chatlink/internal/transport"
	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
	"github.com/rs/zerolog"
)

// Server push routing. Pushes outside this set are dropped before they
// reach the listener.
const (
	pathMessage    = "/api/v1/message"
	pathQueueEmpty = "/api/v1/queue/empty"

	headerTimestamp = "x-signal-timestamp"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// State is the session's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateInterrupted
	// StateFailed is terminal: the handshake was rejected for a reason
	// reconnecting cannot fix (bad credential, delinked device, expired
	// client).
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateInterrupted:
		return "INTERRUPTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Config carries per-session settings.
type Config struct {
	// Auth authenticates the handshake; nil opens an unauthenticated
	// session.
	Auth *auth.Auth
	// Logger defaults to a disabled logger.
	Logger *zerolog.Logger
	// ConnectTimeout bounds the handshake; defaults to 10s.
	ConnectTimeout time.Duration
	// RequestTimeout bounds each Send waiting for its response; defaults
	// to 30s.
	RequestTimeout time.Duration
}

// Session is one logical chat connection. All methods are safe for
// concurrent use. The session never reconnects on its own; after an
// interruption the caller decides whether to call Connect again.
type Session struct {
	dialer   transport.Dialer
	endpoint string
	authCred *auth.Auth
	log      zerolog.Logger

	connectTimeout time.Duration
	requestTimeout time.Duration

	mu    sync.Mutex
	state State
	conn  transport.Conn
	gen   uint64

	writeMu sync.Mutex

	corr  *correlator
	queue *dispatchQueue
}

// New creates a session for the given endpoint. The session starts in
// StateDisconnected; a listener may be attached before Connect.
func New(dialer transport.Dialer, endpoint string, cfg Config) *Session {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "chat-session").Logger()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Session{
		dialer:         dialer,
		endpoint:       endpoint,
		authCred:       cfg.Auth,
		log:            logger,
		connectTimeout: cfg.ConnectTimeout,
		requestTimeout: cfg.RequestTimeout,
		corr:           newCorrelator(),
		queue:          newDispatchQueue(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetListener atomically replaces the dispatch target. Events queued while
// no listener was attached are delivered, in original order, once one is.
// Safe at any time, including before Connect.
func (s *Session) SetListener(l Listener) {
	s.queue.setListener(l)
}

// Connect establishes the connection. Valid from StateDisconnected and
// StateInterrupted. Fails with a timeout classification if the handshake
// does not complete within the configured bound.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected, StateInterrupted:
		s.state = StateConnecting
	case StateFailed:
		s.mu.Unlock()
		return neterr.New(neterr.KindNetwork, "session permanently failed")
	default:
		state := s.state
		s.mu.Unlock()
		return neterr.New(neterr.KindInvalidArgument, "connect is not valid in state %s", state)
	}
	s.mu.Unlock()

	header := http.Header{}
	if s.authCred != nil {
		header.Set("Authorization", s.authCred.Basic())
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(dialCtx, s.endpoint, header)
	if err != nil {
		classified := neterr.Classify(err)
		s.mu.Lock()
		switch classified.Kind {
		case neterr.KindInvalidToken, neterr.KindDeviceDelinked, neterr.KindAppExpired:
			s.state = StateFailed
		default:
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		s.log.Warn().Err(classified).Msg("connect failed")
		return classified
	}

	s.mu.Lock()
	s.state = StateConnected
	s.conn = conn
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.corr.reset()
	s.log.Info().Str("remote", conn.RemoteAddr()).Msg("connected")

	go s.readLoop(conn, gen)
	return nil
}

// Send transmits a request and waits for the matching response. Valid only
// in StateConnected. Local validation failures surface before any network
// activity.
func (s *Session) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return nil, neterr.New(neterr.KindNetwork, "connection is not usable in state %s", state)
	}
	conn := s.conn
	s.mu.Unlock()

	id, resultCh := s.corr.register()
	frame := &wire.Frame{Request: &wire.Request{
		Verb:    req.Verb,
		Path:    req.Path,
		Headers: req.Headers,
		Body:    req.Body,
		ID:      id,
	}}
	data, err := frame.Encode()
	if err != nil {
		failure := neterr.Wrap(neterr.KindInvalidArgument, err, "encode request")
		s.corr.fail(id, failure)
		return nil, failure
	}

	if err := s.writeFrame(ctx, conn, data); err != nil {
		failure := neterr.Classify(err)
		s.corr.fail(id, failure)
		return nil, failure
	}

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return &Response{
			Status:  res.resp.Status,
			Message: res.resp.Message,
			Headers: res.resp.Headers,
			Body:    res.resp.Body,
		}, nil
	case <-timer.C:
		failure := neterr.New(neterr.KindTimeout, "no response for request %d within %s", id, s.requestTimeout)
		s.corr.fail(id, failure)
		return nil, failure
	case <-ctx.Done():
		failure := neterr.Classify(ctx.Err())
		s.corr.fail(id, failure)
		return nil, failure
	}
}

// SendKeepalive probes the connection with a lightweight request.
func (s *Session) SendKeepalive(ctx context.Context) error {
	_, err := s.Send(ctx, &Request{Verb: "GET", Path: "/v1/keepalive"})
	return err
}

// Disconnect closes the connection and fails every pending request with a
// transport classification. Idempotent: disconnecting a disconnected
// session is a no-op.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	conn := s.conn
	s.conn = nil
	s.gen++
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close on disconnect")
		}
	}
	s.corr.failAll(neterr.New(neterr.KindNetwork, "session disconnected"))
	s.log.Info().Msg("disconnected")
}

// Close disconnects and stops the dispatch worker. The session cannot be
// used afterwards.
func (s *Session) Close(ctx context.Context) {
	s.Disconnect(ctx)
	s.queue.close()
}

func (s *Session) writeFrame(ctx context.Context, conn transport.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.Write(ctx, data)
}

func (s *Session) readLoop(conn transport.Conn, gen uint64) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			s.handleReadError(gen, err)
			return
		}

		var frame wire.Frame
		if err := frame.Decode(data); err != nil {
			// A malformed frame is dropped; the stream stays usable.
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		if frame.Response != nil {
			if !s.corr.resolve(frame.Response.ID, frame.Response) {
				s.log.Debug().Uint64("id", frame.Response.ID).Msg("dropping unmatched response")
			}
			continue
		}
		s.handlePush(conn, frame.Request)
	}
}

// handlePush classifies a server-pushed request and queues it for ordered
// dispatch. Unrecognized pushes are dropped without disturbing the order
// of the rest of the queue.
func (s *Session) handlePush(conn transport.Conn, req *wire.Request) {
	switch {
	case req.Verb == "PUT" && req.Path == pathMessage:
		var ts int64
		if raw, ok := req.Header(headerTimestamp); ok {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				s.log.Warn().Str("value", raw).Msg("unparseable timestamp header, substituting 0")
			} else {
				ts = parsed
			}
		}
		ack := newServerMessageAck(req.ID, func(ctx context.Context, resp *wire.Response) error {
			frame := &wire.Frame{Response: resp}
			data, err := frame.Encode()
			if err != nil {
				return neterr.Wrap(neterr.KindInvalidArgument, err, "encode acknowledgment")
			}
			if err := s.writeFrame(ctx, conn, data); err != nil {
				return neterr.Classify(err)
			}
			return nil
		})
		s.queue.push(pushEvent{kind: pushMessage, payload: req.Body, timestamp: ts, ack: ack})
	case req.Verb == "PUT" && req.Path == pathQueueEmpty:
		s.queue.push(pushEvent{kind: pushQueueEmpty})
		s.respondStatus(conn, req.ID, 200)
	default:
		s.log.Debug().Str("verb", req.Verb).Str("path", req.Path).Msg("dropping unrecognized push")
	}
}

// respondStatus acknowledges a push that carries no listener obligation.
func (s *Session) respondStatus(conn transport.Conn, id uint64, status uint32) {
	frame := &wire.Frame{Response: &wire.Response{ID: id, Status: status}}
	data, err := frame.Encode()
	if err != nil {
		return
	}
	if err := s.writeFrame(context.Background(), conn, data); err != nil {
		s.log.Debug().Err(err).Uint64("id", id).Msg("push acknowledgment failed")
	}
}

// handleReadError turns a dead read loop into an interruption, unless the
// teardown was user-initiated or belongs to an older connection.
func (s *Session) handleReadError(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateInterrupted
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	cause := neterr.Classify(err)
	if cause.Kind == neterr.KindUnknown {
		// A dead read loop is a transport failure whatever the library
		// reported.
		cause = neterr.Wrap(neterr.KindNetwork, err, "connection lost")
	}
	s.log.Warn().Err(cause).Msg("connection interrupted")
	s.corr.failAll(cause)
	// Delivered through the ordered queue, so the interruption arrives
	// after every push that preceded it.
	s.queue.push(pushEvent{kind: pushInterrupted, cause: cause})
}
