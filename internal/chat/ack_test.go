package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/omochice/chatlink/pkg/wire"
)

func TestServerMessageAck_Send(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "informational", status: 100},
		{name: "ok", status: 200},
		{name: "client error", status: 400},
		{name: "server error", status: 500},
		{name: "upper bound", status: 599},
		{name: "negative is out of range", status: -1, wantErr: ErrStatusOutOfRange},
		{name: "huge is out of range", status: 100000, wantErr: ErrStatusOutOfRange},
		{name: "zero is not a status", status: 0, wantErr: ErrStatusNotValid},
		{name: "one is not a status", status: 1, wantErr: ErrStatusNotValid},
		{name: "99 is not a status", status: 99, wantErr: ErrStatusNotValid},
		{name: "1000 fits in 16 bits but is not a status", status: 1000, wantErr: ErrStatusNotValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent *wire.Response
			ack := newServerMessageAck(7, func(_ context.Context, resp *wire.Response) error {
				sent = resp
				return nil
			})

			err := ack.Send(context.Background(), tt.status)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Send(%d) error = %v, want %v", tt.status, err, tt.wantErr)
				}
				if sent != nil {
					t.Errorf("Send(%d) transmitted despite validation failure", tt.status)
				}
				return
			}
			if err != nil {
				t.Fatalf("Send(%d) error = %v", tt.status, err)
			}
			if sent == nil || sent.ID != 7 || sent.Status != uint32(tt.status) {
				t.Errorf("Send(%d) transmitted %+v", tt.status, sent)
			}
		})
	}
}

func TestServerMessageAck_OneShot(t *testing.T) {
	calls := 0
	ack := newServerMessageAck(1, func(_ context.Context, _ *wire.Response) error {
		calls++
		return nil
	})

	if err := ack.Send(context.Background(), 200); err != nil {
		t.Fatalf("first Send error = %v", err)
	}
	if err := ack.Send(context.Background(), 200); !errors.Is(err, ErrAckConsumed) {
		t.Errorf("second Send error = %v, want ErrAckConsumed", err)
	}
	if calls != 1 {
		t.Errorf("transmit count = %d, want 1", calls)
	}
}

func TestServerMessageAck_ValidationDoesNotConsume(t *testing.T) {
	ack := newServerMessageAck(1, func(_ context.Context, _ *wire.Response) error {
		return nil
	})

	if err := ack.Send(context.Background(), 99); !errors.Is(err, ErrStatusNotValid) {
		t.Fatalf("invalid Send error = %v", err)
	}
	if err := ack.Send(context.Background(), 200); err != nil {
		t.Errorf("Send after failed validation error = %v, want nil", err)
	}
}
