package server

import (
	"crypto/subtle"
	"sync"

	"github.com/omochice/chatlink/internal/svr"
	"github.com/omochice/chatlink/pkg/wire"
)

// record is one stored backup: the restore proof it is guarded by, the key
// share, and the remaining tries budget.
type record struct {
	proof []byte
	share []byte
	tries uint32
}

// Enclave holds recovery records for one member of the quorum. Records are
// keyed by the authenticated username. The tries budget is authoritative
// here: every restore attempt costs one try, and a record whose budget
// reaches zero is deleted, making it indistinguishable from one that never
// existed.
type Enclave struct {
	id string

	mu      sync.Mutex
	records map[string]*record
}

// NewEnclave creates an empty enclave.
func NewEnclave(id string) *Enclave {
	return &Enclave{id: id, records: make(map[string]*record)}
}

// ID returns the enclave's quorum id.
func (e *Enclave) ID() string { return e.id }

// Handle processes one framed request for the given authenticated user and
// returns the response. The response ID is left for the transport layer to
// fill in.
func (e *Enclave) Handle(req *wire.Request, username string) *wire.Response {
	switch {
	case req.Verb == "PUT" && req.Path == svr.PathBackup:
		return e.handleBackup(req, username)
	case req.Verb == "PUT" && req.Path == svr.PathRestore:
		return e.handleRestore(req, username)
	case req.Verb == "DELETE" && req.Path == svr.PathBackup:
		return e.handleRemove(username)
	default:
		return &wire.Response{Status: 400, Message: "unrecognized request"}
	}
}

func (e *Enclave) handleBackup(req *wire.Request, username string) *wire.Response {
	var body svr.BackupRequest
	if err := unmarshalBody(req.Body, &body); err != nil {
		return &wire.Response{Status: 400, Message: "malformed backup request"}
	}
	if body.MaxTries < 1 || len(body.Proof) == 0 || len(body.Share) == 0 {
		return &wire.Response{Status: 400, Message: "malformed backup request"}
	}

	e.mu.Lock()
	// A new backup replaces any previous one for this identity.
	e.records[username] = &record{
		proof: append([]byte(nil), body.Proof...),
		share: append([]byte(nil), body.Share...),
		tries: body.MaxTries,
	}
	e.mu.Unlock()
	return &wire.Response{Status: 200, Message: "OK"}
}

func (e *Enclave) handleRestore(req *wire.Request, username string) *wire.Response {
	var body svr.RestoreRequest
	if err := unmarshalBody(req.Body, &body); err != nil {
		return &wire.Response{Status: 400, Message: "malformed restore request"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[username]
	if !ok {
		return &wire.Response{Status: 404, Message: "no backup data"}
	}

	// The attempt costs a try before the proof is checked, and an
	// exhausted record is gone regardless of the outcome.
	rec.tries--
	exhausted := rec.tries == 0

	if subtle.ConstantTimeCompare(rec.proof, body.Proof) != 1 {
		resp := triesResponse(403, "restore rejected", rec.tries)
		if exhausted {
			delete(e.records, username)
		}
		return resp
	}

	out, err := marshalBody(svr.RestoreResponse{Share: rec.share, TriesRemaining: rec.tries})
	if err != nil {
		return &wire.Response{Status: 500, Message: "encode restore response"}
	}
	if exhausted {
		delete(e.records, username)
	}
	return &wire.Response{Status: 200, Message: "OK", Body: out}
}

func (e *Enclave) handleRemove(username string) *wire.Response {
	e.mu.Lock()
	delete(e.records, username)
	e.mu.Unlock()
	// Removing a backup that does not exist is still a success.
	return &wire.Response{Status: 200, Message: "OK"}
}

func triesResponse(status uint32, message string, tries uint32) *wire.Response {
	body, err := marshalBody(svr.TriesResponse{TriesRemaining: tries})
	if err != nil {
		return &wire.Response{Status: 500, Message: "encode tries response"}
	}
	return &wire.Response{Status: status, Message: message, Body: body}
}
