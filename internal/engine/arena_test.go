package engine

import (
	"errors"
	"testing"

	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// TestArenaAbort discards a partially received delivery
func TestArenaAbort(t *testing.T) {
	a := NewArena(2, 0)
	if p, err := a.Add(&protocol.Transfer{DeliveryID: u32(0), DeliveryTag: []byte("x"), More: true}, []byte("part")); err != nil || p != nil {
		t.Fatalf("First frame: got %v %v, want pending", p, err)
	}
	if a.Len() != 1 {
		t.Errorf("Len: got %d, want 1", a.Len())
	}
	if p, err := a.Add(&protocol.Transfer{Aborted: true}, nil); err != nil || p != nil {
		t.Fatalf("Abort: got %v %v, want nil", p, err)
	}
	if a.Len() != 0 {
		t.Errorf("Len after abort: got %d, want 0", a.Len())
	}

	p, err := a.Add(&protocol.Transfer{DeliveryID: u32(1), DeliveryTag: []byte("y")}, []byte("whole"))
	if err != nil || p == nil {
		t.Fatalf("Next delivery: got %v %v", p, err)
	}
	if p.ID != 1 || string(p.Payload) != "whole" {
		t.Errorf("Delivery: got id %d payload %q", p.ID, p.Payload)
	}
}

// TestArenaLimits enforces max message size and max in-flight count
func TestArenaLimits(t *testing.T) {
	t.Run("message size", func(t *testing.T) {
		a := NewArena(1, 8)
		if _, err := a.Add(&protocol.Transfer{DeliveryTag: []byte("a"), More: true}, []byte("12345")); err != nil {
			t.Fatalf("First frame failed: %v", err)
		}
		_, err := a.Add(&protocol.Transfer{}, []byte("6789"))
		var v *ProtocolViolation
		if !errors.As(err, &v) || v.Condition != protocol.ErrCondMessageSizeExceeded {
			t.Fatalf("Oversized delivery: got %v, want message-size-exceeded", err)
		}
		if a.Len() != 0 {
			t.Errorf("Len: got %d, want 0", a.Len())
		}
	})

	t.Run("in flight", func(t *testing.T) {
		a := NewArena(1, 0)
		if _, err := a.Add(&protocol.Transfer{DeliveryTag: []byte("a"), More: true}, nil); err != nil {
			t.Fatalf("First delivery failed: %v", err)
		}
		_, err := a.Add(&protocol.Transfer{DeliveryTag: []byte("b"), More: true}, nil)
		var v *ProtocolViolation
		if !errors.As(err, &v) || v.Condition != protocol.ErrCondResourceLimitExceeded {
			t.Fatalf("Second delivery: got %v, want resource-limit-exceeded", err)
		}
	})
}

// TestUnsettledIDs returns ids in ascending order
func TestUnsettledIDs(t *testing.T) {
	u := NewUnsettled()
	for _, id := range []uint32{5, 1, 3} {
		if !u.Add(&Delivery{ID: id}) {
			t.Fatalf("Add %d failed", id)
		}
	}
	if u.Add(&Delivery{ID: 3}) {
		t.Error("Duplicate Add should fail")
	}
	ids := u.IDs()
	want := []uint32{1, 3, 5}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("IDs[%d]: got %d, want %d", i, ids[i], want[i])
		}
	}
	if _, ok := u.Settle(3); !ok {
		t.Error("Settle 3 should succeed")
	}
	if u.Len() != 2 {
		t.Errorf("Len: got %d, want 2", u.Len())
	}
}

// TestUnsettledHasTag looks deliveries up by tag
func TestUnsettledHasTag(t *testing.T) {
	u := NewUnsettled()
	u.Add(&Delivery{ID: 1, Tag: []byte("order-1")})

	if !u.HasTag([]byte("order-1")) {
		t.Error("HasTag(order-1): got false, want true")
	}
	if u.HasTag([]byte("order-2")) {
		t.Error("HasTag(order-2): got true, want false")
	}
	u.Settle(1)
	if u.HasTag([]byte("order-1")) {
		t.Error("HasTag after settle: got true, want false")
	}
}
