package chat

import (
	"testing"

	"github.com/omochice/chatlink/pkg/neterr"
	"github.com/omochice/chatlink/pkg/wire"
)

func TestCorrelator_MonotonicIDs(t *testing.T) {
	c := newCorrelator()
	var last uint64
	for i := 0; i < 10; i++ {
		id, _ := c.register()
		if id <= last {
			t.Fatalf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestCorrelator_ResolveExactlyOnce(t *testing.T) {
	c := newCorrelator()
	id, ch := c.register()

	if !c.resolve(id, &wire.Response{ID: id, Status: 200}) {
		t.Fatal("first resolve reported no match")
	}
	if c.resolve(id, &wire.Response{ID: id, Status: 500}) {
		t.Error("second resolve for the same id reported a match")
	}

	res := <-ch
	if res.err != nil {
		t.Fatalf("result error = %v", res.err)
	}
	if res.resp.Status != 200 {
		t.Errorf("result status = %d, want 200 from the first resolution", res.resp.Status)
	}
	select {
	case extra := <-ch:
		t.Errorf("second result delivered: %+v", extra)
	default:
	}
}

func TestCorrelator_ResolveUnknownID(t *testing.T) {
	c := newCorrelator()
	if c.resolve(99, &wire.Response{ID: 99, Status: 200}) {
		t.Error("resolve reported a match for an id that was never registered")
	}
}

func TestCorrelator_FailAll(t *testing.T) {
	c := newCorrelator()
	_, ch1 := c.register()
	_, ch2 := c.register()

	cause := neterr.New(neterr.KindNetwork, "connection interrupted")
	c.failAll(cause)

	for i, ch := range []<-chan sendResult{ch1, ch2} {
		res := <-ch
		if res.err == nil {
			t.Fatalf("pending request %d resolved without error", i)
		}
		if neterr.KindOf(res.err) != neterr.KindNetwork {
			t.Errorf("pending request %d error kind = %v, want network", i, neterr.KindOf(res.err))
		}
	}

	// After failAll, new registrations resolve immediately with the same
	// failure until reset.
	_, ch3 := c.register()
	if res := <-ch3; res.err == nil {
		t.Error("registration after failAll resolved without error")
	}

	c.reset()
	id, ch4 := c.register()
	if !c.resolve(id, &wire.Response{ID: id, Status: 200}) {
		t.Error("resolve failed after reset")
	}
	if res := <-ch4; res.err != nil {
		t.Errorf("result after reset carries error %v", res.err)
	}
}
