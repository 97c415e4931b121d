// Package server provides an in-process chat front-end and enclave quorum
// speaking the framed protocol. It backs the devserver command and the
// integration tests; it is not a production service.
package server

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/mux"
	"github.com/omochice/chatlink/pkg/wire"
	"github.com/rs/zerolog"
)

// Route layout. Each enclave is its own endpoint, as it would be in a real
// deployment.
const (
	ChatPath    = "/v1/websocket"
	EnclavePath = "/enclave/{id}"
)

var bodyEnc cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	bodyEnc = em
}

func marshalBody(v any) ([]byte, error)      { return bodyEnc.Marshal(v) }
func unmarshalBody(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// Credentials authorizes handshakes. A nil check accepts everything,
// including anonymous connections.
type Credentials func(username, password string) bool

// chatConn is one connected chat client.
type chatConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *chatConn) writeFrame(frame *wire.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerBinary(c.conn, data)
}

// Server hosts the chat endpoint and a quorum of enclaves.
type Server struct {
	check    Credentials
	log      zerolog.Logger
	enclaves map[string]*Enclave

	listener net.Listener
	server   *http.Server

	mu         sync.Mutex
	chatConns  map[*chatConn]bool
	nextPushID uint64
	acks       chan *wire.Response
}

// New creates a server with one enclave per id.
func New(enclaveIDs []string, check Credentials, logger *zerolog.Logger) *Server {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "devserver").Logger()
	}
	enclaves := make(map[string]*Enclave, len(enclaveIDs))
	for _, id := range enclaveIDs {
		enclaves[id] = NewEnclave(id)
	}
	return &Server{
		check:     check,
		log:       log,
		enclaves:  enclaves,
		chatConns: make(map[*chatConn]bool),
		acks:      make(chan *wire.Response, 64),
	}
}

// Start begins accepting connections on the given address.
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener

	r := mux.NewRouter()
	r.HandleFunc(ChatPath, s.handleChat)
	r.HandleFunc(EnclavePath, s.handleEnclave)
	s.server = &http.Server{Handler: r}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("server started")
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("serve")
		}
	}()
	return nil
}

// Stop closes the listener and every connection.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.Close()
	}
	s.mu.Lock()
	for c := range s.chatConns {
		c.conn.Close()
	}
	s.mu.Unlock()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ChatURL returns the websocket URL of the chat endpoint.
func (s *Server) ChatURL() string {
	return "ws://" + s.Addr() + ChatPath
}

// EnclaveURL returns the websocket URL of one enclave.
func (s *Server) EnclaveURL(id string) string {
	return "ws://" + s.Addr() + "/enclave/" + id
}

// ChatConnCount returns the number of connected chat clients.
func (s *Server) ChatConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chatConns)
}

// Acks exposes the acknowledgments chat clients send back for pushes.
func (s *Server) Acks() <-chan *wire.Response {
	return s.acks
}

// PushMessage pushes a message to every connected chat client and returns
// the push id used.
func (s *Server) PushMessage(payload []byte, timestampMillis int64) uint64 {
	s.mu.Lock()
	s.nextPushID++
	id := s.nextPushID
	conns := s.connsLocked()
	s.mu.Unlock()

	frame := &wire.Frame{Request: &wire.Request{
		Verb: "PUT",
		Path: "/api/v1/message",
		Headers: []wire.Header{
			{Name: "x-signal-timestamp", Value: strconv.FormatInt(timestampMillis, 10)},
		},
		Body: payload,
		ID:   id,
	}}
	s.broadcast(conns, frame)
	return id
}

// PushQueueEmpty signals every connected chat client that the queue is
// drained.
func (s *Server) PushQueueEmpty() uint64 {
	s.mu.Lock()
	s.nextPushID++
	id := s.nextPushID
	conns := s.connsLocked()
	s.mu.Unlock()

	frame := &wire.Frame{Request: &wire.Request{
		Verb: "PUT",
		Path: "/api/v1/queue/empty",
		ID:   id,
	}}
	s.broadcast(conns, frame)
	return id
}

// PushRaw pushes an arbitrary request, letting tests exercise how clients
// treat unrecognized paths.
func (s *Server) PushRaw(req *wire.Request) {
	s.mu.Lock()
	s.nextPushID++
	req.ID = s.nextPushID
	conns := s.connsLocked()
	s.mu.Unlock()
	s.broadcast(conns, &wire.Frame{Request: req})
}

func (s *Server) connsLocked() []*chatConn {
	conns := make([]*chatConn, 0, len(s.chatConns))
	for c := range s.chatConns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) broadcast(conns []*chatConn, frame *wire.Frame) {
	for _, c := range conns {
		if err := c.writeFrame(frame); err != nil {
			s.log.Debug().Err(err).Msg("push write failed")
		}
	}
}

// authorize validates the handshake's basic credential, if any.
func (s *Server) authorize(r *http.Request) bool {
	if s.check == nil {
		return true
	}
	username, password := parseBasic(r.Header.Get("Authorization"))
	return s.check(username, password)
}

func parseBasic(header string) (string, string) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", ""
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", ""
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", ""
	}
	return username, password
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("chat upgrade failed")
		return
	}

	c := &chatConn{conn: conn}
	s.mu.Lock()
	s.chatConns[c] = true
	s.mu.Unlock()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("chat client connected")

	go s.serveChat(c)
}

func (s *Server) serveChat(c *chatConn) {
	defer func() {
		s.mu.Lock()
		delete(s.chatConns, c)
		s.mu.Unlock()
		c.conn.Close()
	}()

	for {
		data, err := wsutil.ReadClientBinary(c.conn)
		if err != nil {
			return
		}
		var frame wire.Frame
		if err := frame.Decode(data); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed chat frame")
			continue
		}
		switch {
		case frame.Request != nil:
			// Client requests are answered with an echo; the devserver has
			// no message store behind it.
			reply := &wire.Frame{Response: &wire.Response{
				ID:      frame.Request.ID,
				Status:  200,
				Message: "OK",
				Body:    frame.Request.Body,
			}}
			if err := c.writeFrame(reply); err != nil {
				return
			}
		case frame.Response != nil:
			select {
			case s.acks <- frame.Response:
			default:
				s.log.Debug().Uint64("id", frame.Response.ID).Msg("ack channel full, dropping")
			}
		}
	}
}

func (s *Server) handleEnclave(w http.ResponseWriter, r *http.Request) {
	enclave, ok := s.enclaves[mux.Vars(r)["id"]]
	if !ok {
		http.Error(w, "unknown enclave", http.StatusNotFound)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	username, _ := parseBasic(r.Header.Get("Authorization"))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("enclave upgrade failed")
		return
	}

	go s.serveEnclave(enclave, conn, username)
}

func (s *Server) serveEnclave(enclave *Enclave, conn net.Conn, username string) {
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientBinary(conn)
		if err != nil {
			return
		}
		var frame wire.Frame
		if err := frame.Decode(data); err != nil || frame.Request == nil {
			s.log.Warn().Msg("dropping malformed enclave frame")
			continue
		}
		resp := enclave.Handle(frame.Request, username)
		resp.ID = frame.Request.ID
		out, err := (&wire.Frame{Response: resp}).Encode()
		if err != nil {
			s.log.Error().Err(err).Msg("encode enclave response")
			return
		}
		if err := wsutil.WriteServerBinary(conn, out); err != nil {
			return
		}
	}
}
