package wire_test

import (
	"bytes"
	"testing"

	"github.com/omochice/chatlink/pkg/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFrame_Encode(t *testing.T) {
	tests := []struct {
		name    string
		frame   wire.Frame
		wantErr bool
	}{
		{
			name: "encode request frame successfully",
			frame: wire.Frame{
				Request: &wire.Request{
					Verb: "PUT",
					Path: "/api/v1/message",
					Headers: []wire.Header{
						{Name: "x-signal-timestamp", Value: "1700000000000"},
					},
					Body: []byte("payload"),
					ID:   7,
				},
			},
			wantErr: false,
		},
		{
			name: "encode response frame successfully",
			frame: wire.Frame{
				Response: &wire.Response{
					ID:      7,
					Status:  200,
					Message: "OK",
				},
			},
			wantErr: false,
		},
		{
			name:    "empty frame fails",
			frame:   wire.Frame{},
			wantErr: true,
		},
		{
			name: "frame with both halves fails",
			frame: wire.Frame{
				Request:  &wire.Request{Verb: "GET", Path: "/"},
				Response: &wire.Response{ID: 1, Status: 200},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.frame.Encode()
			if (err != nil) != tt.wantErr {
				t.Errorf("Frame.Encode() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && len(data) == 0 {
				t.Error("Frame.Encode() returned empty data")
			}
		})
	}
}

func TestFrame_EncodeDecodeRoundTrip(t *testing.T) {
	original := wire.Frame{
		Request: &wire.Request{
			Verb: "PUT",
			Path: "/api/v1/message",
			Headers: []wire.Header{
				{Name: "x-signal-timestamp", Value: "1700000000000"},
				{Name: "content-type", Value: "application/octet-stream"},
			},
			Body: []byte{0x01, 0x02, 0x03},
			ID:   42,
		},
	}

	encoded, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded wire.Frame
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := decoded.Request
	if got == nil {
		t.Fatal("Decode produced no request")
	}
	if got.Verb != original.Request.Verb {
		t.Errorf("Verb = %q, want %q", got.Verb, original.Request.Verb)
	}
	if got.Path != original.Request.Path {
		t.Errorf("Path = %q, want %q", got.Path, original.Request.Path)
	}
	if len(got.Headers) != 2 {
		t.Fatalf("Headers length = %d, want 2", len(got.Headers))
	}
	if got.Headers[0] != original.Request.Headers[0] || got.Headers[1] != original.Request.Headers[1] {
		t.Errorf("Headers = %v, want %v", got.Headers, original.Request.Headers)
	}
	if !bytes.Equal(got.Body, original.Request.Body) {
		t.Errorf("Body = %v, want %v", got.Body, original.Request.Body)
	}
	if got.ID != original.Request.ID {
		t.Errorf("ID = %d, want %d", got.ID, original.Request.ID)
	}
}

func TestFrame_DecodeIgnoresUnknownFields(t *testing.T) {
	frame := wire.Frame{
		Response: &wire.Response{ID: 9, Status: 204},
	}
	encoded, err := frame.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// A future peer may append fields this version has never heard of.
	encoded = protowire.AppendTag(encoded, 99, protowire.BytesType)
	encoded = protowire.AppendBytes(encoded, []byte("from the future"))
	encoded = protowire.AppendTag(encoded, 100, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, 12345)

	var decoded wire.Frame
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("Decode failed on frame with unknown fields: %v", err)
	}
	if decoded.Response == nil || decoded.Response.ID != 9 || decoded.Response.Status != 204 {
		t.Errorf("Decode lost known fields: %+v", decoded.Response)
	}
}

func TestFrame_DecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated tag", data: []byte{0xFF}},
		{name: "truncated length prefix", data: []byte{0x0A, 0x10, 0x01}},
		{name: "empty input", data: nil},
		{name: "garbage", data: []byte{0x00, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f wire.Frame
			if err := f.Decode(tt.data); err == nil {
				t.Errorf("Decode(%v) succeeded, want error", tt.data)
			}
		})
	}
}

func TestRequest_Header(t *testing.T) {
	req := wire.Request{
		Headers: []wire.Header{
			{Name: "X-Signal-Timestamp", Value: "123"},
			{Name: "x-signal-timestamp", Value: "456"},
		},
	}

	got, ok := req.Header("x-signal-timestamp")
	if !ok {
		t.Fatal("Header() did not find case-insensitive match")
	}
	if got != "123" {
		t.Errorf("Header() = %q, want first match %q", got, "123")
	}

	if _, ok := req.Header("missing"); ok {
		t.Error("Header() reported a match for an absent name")
	}
}
