package backplane

import (
	"testing"

	"github.com/relaymesh/relaymesh/pkg/types"
)

func env(payload string) types.Envelope {
	return types.Envelope{Scope: types.ScopeBroadcast, Origin: "n1", Payload: []byte(payload)}
}

func TestQueue_FIFO(t *testing.T) {
	q := newQueue(8)
	for _, p := range []string{"a", "b", "c"} {
		if dropped := q.push(env(p)); dropped {
			t.Errorf("push %q dropped below capacity", p)
		}
	}
	got := q.drain()
	if len(got) != 3 {
		t.Fatalf("drain: got %d, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(got[i].Payload) != want {
			t.Errorf("item %d: got %q, want %q", i, got[i].Payload, want)
		}
	}
	if q.len() != 0 {
		t.Errorf("len after drain: got %d, want 0", q.len())
	}
}

func TestQueue_DropsOldestOnOverflow(t *testing.T) {
	q := newQueue(2)
	q.push(env("a"))
	q.push(env("b"))
	if dropped := q.push(env("c")); !dropped {
		t.Error("push above capacity did not report a drop")
	}

	got := q.drain()
	if len(got) != 2 {
		t.Fatalf("drain: got %d, want 2", len(got))
	}
	if string(got[0].Payload) != "b" || string(got[1].Payload) != "c" {
		t.Errorf("expected the two newest envelopes, got %q, %q",
			got[0].Payload, got[1].Payload)
	}
}

func TestQueue_ZeroCapacityDropsEverything(t *testing.T) {
	q := newQueue(0)
	if dropped := q.push(env("a")); !dropped {
		t.Error("zero-capacity queue accepted an envelope")
	}
	if q.len() != 0 {
		t.Errorf("len: got %d, want 0", q.len())
	}
}
