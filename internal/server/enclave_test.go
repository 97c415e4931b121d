package server

import (
	"bytes"
	"testing"

	"github.com/omochice/chatlink/internal/svr"
	"github.com/omochice/chatlink/pkg/wire"
)

func backupRequest(t *testing.T, proof, share []byte, maxTries uint32) *wire.Request {
	t.Helper()
	body, err := marshalBody(svr.BackupRequest{Proof: proof, Share: share, MaxTries: maxTries})
	if err != nil {
		t.Fatalf("marshal backup request: %v", err)
	}
	return &wire.Request{Verb: "PUT", Path: svr.PathBackup, Body: body}
}

func restoreRequest(t *testing.T, proof []byte) *wire.Request {
	t.Helper()
	body, err := marshalBody(svr.RestoreRequest{Proof: proof})
	if err != nil {
		t.Fatalf("marshal restore request: %v", err)
	}
	return &wire.Request{Verb: "PUT", Path: svr.PathRestore, Body: body}
}

func TestEnclave_Handle(t *testing.T) {
	proof := []byte("proof-proof-proof-proof-proof-32")
	share := []byte("share-share-share-share-share-32")

	tests := []struct {
		name       string
		setup      func(e *Enclave)
		req        func(t *testing.T) *wire.Request
		wantStatus uint32
	}{
		{
			name:       "backup stores a record",
			req:        func(t *testing.T) *wire.Request { return backupRequest(t, proof, share, 3) },
			wantStatus: 200,
		},
		{
			name:       "backup with zero tries is rejected",
			req:        func(t *testing.T) *wire.Request { return backupRequest(t, proof, share, 0) },
			wantStatus: 400,
		},
		{
			name: "backup with malformed body is rejected",
			req: func(t *testing.T) *wire.Request {
				return &wire.Request{Verb: "PUT", Path: svr.PathBackup, Body: []byte{0xFF, 0x00}}
			},
			wantStatus: 400,
		},
		{
			name:       "restore without a record",
			req:        func(t *testing.T) *wire.Request { return restoreRequest(t, proof) },
			wantStatus: 404,
		},
		{
			name: "restore with matching proof",
			setup: func(e *Enclave) {
				e.Handle(backupRequest(t, proof, share, 3), "user")
			},
			req:        func(t *testing.T) *wire.Request { return restoreRequest(t, proof) },
			wantStatus: 200,
		},
		{
			name: "restore with wrong proof",
			setup: func(e *Enclave) {
				e.Handle(backupRequest(t, proof, share, 3), "user")
			},
			req:        func(t *testing.T) *wire.Request { return restoreRequest(t, []byte("wrong")) },
			wantStatus: 403,
		},
		{
			name:       "remove without a record still succeeds",
			req:        func(t *testing.T) *wire.Request { return &wire.Request{Verb: "DELETE", Path: svr.PathBackup} },
			wantStatus: 200,
		},
		{
			name:       "unrecognized request",
			req:        func(t *testing.T) *wire.Request { return &wire.Request{Verb: "GET", Path: "/v1/other"} },
			wantStatus: 400,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEnclave("test")
			if tt.setup != nil {
				tt.setup(e)
			}
			resp := e.Handle(tt.req(t), "user")
			if resp.Status != tt.wantStatus {
				t.Errorf("Handle() status = %d, want %d", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestEnclave_TriesBudget(t *testing.T) {
	proof := []byte("correct-proof")
	share := []byte("the-share")
	e := NewEnclave("test")
	e.Handle(backupRequest(t, proof, share, 2), "user")

	// Wrong proof costs a try and reports the decremented budget.
	resp := e.Handle(restoreRequest(t, []byte("wrong")), "user")
	if resp.Status != 403 {
		t.Fatalf("status = %d, want 403", resp.Status)
	}
	var tries svr.TriesResponse
	if err := unmarshalBody(resp.Body, &tries); err != nil {
		t.Fatalf("decode tries body: %v", err)
	}
	if tries.TriesRemaining != 1 {
		t.Errorf("TriesRemaining = %d, want 1", tries.TriesRemaining)
	}

	// The correct proof consumes the last try and returns the share.
	resp = e.Handle(restoreRequest(t, proof), "user")
	if resp.Status != 200 {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	var restored svr.RestoreResponse
	if err := unmarshalBody(resp.Body, &restored); err != nil {
		t.Fatalf("decode restore body: %v", err)
	}
	if !bytes.Equal(restored.Share, share) {
		t.Errorf("share = %q, want %q", restored.Share, share)
	}
	if restored.TriesRemaining != 0 {
		t.Errorf("TriesRemaining = %d, want 0", restored.TriesRemaining)
	}

	// Budget exhausted: the record is gone even though the last restore
	// succeeded.
	if resp := e.Handle(restoreRequest(t, proof), "user"); resp.Status != 404 {
		t.Errorf("post-exhaustion status = %d, want 404", resp.Status)
	}
}

func TestEnclave_RecordsAreScopedPerUser(t *testing.T) {
	proof := []byte("proof")
	e := NewEnclave("test")
	e.Handle(backupRequest(t, proof, []byte("share"), 3), "alice")

	if resp := e.Handle(restoreRequest(t, proof), "bob"); resp.Status != 404 {
		t.Errorf("other user's restore status = %d, want 404", resp.Status)
	}
}
