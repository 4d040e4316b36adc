package backplane_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/relaymesh/internal/backplane"
	"github.com/relaymesh/relaymesh/internal/conn"
	"github.com/relaymesh/relaymesh/pkg/types"
)

// fakeLocal is a connection-manager stand-in holding a fixed set of session
// IDs.
type fakeLocal struct {
	mu         sync.Mutex
	sessions   map[string][][]byte
	broadcasts [][]byte
}

func newFakeLocal(sessionIDs ...string) *fakeLocal {
	l := &fakeLocal{sessions: make(map[string][][]byte)}
	for _, id := range sessionIDs {
		l.sessions[id] = nil
	}
	return l
}

func (l *fakeLocal) Send(sessionID string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[sessionID]; !ok {
		return conn.ErrNotBound
	}
	l.sessions[sessionID] = append(l.sessions[sessionID], payload)
	return nil
}

func (l *fakeLocal) Broadcast(payload []byte) {
	l.mu.Lock()
	l.broadcasts = append(l.broadcasts, payload)
	l.mu.Unlock()
}

func (l *fakeLocal) received(sessionID string) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.sessions[sessionID]))
	copy(out, l.sessions[sessionID])
	return out
}

func (l *fakeLocal) broadcastCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.broadcasts)
}

// spyBus counts publishes passing through a MemoryBus.
type spyBus struct {
	*backplane.MemoryBus
	mu        sync.Mutex
	published int
}

func (b *spyBus) Publish(ctx context.Context, env types.Envelope) error {
	b.mu.Lock()
	b.published++
	b.mu.Unlock()
	return b.MemoryBus.Publish(ctx, env)
}

func (b *spyBus) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

// twoNodes wires two relays to one shared bus: node A owns session "s-a",
// node B owns "s-b".
func twoNodes(t *testing.T, bus backplane.Bus) (relayA, relayB *backplane.Relay, localA, localB *fakeLocal) {
	t.Helper()

	localA = newFakeLocal("s-a")
	localB = newFakeLocal("s-b")
	relayA = backplane.NewRelay("node-a", bus, localA)
	relayB = backplane.NewRelay("node-b", bus, localB)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	// MemoryBus.Subscribe is synchronous, but Run registers it from a
	// goroutine; wait until both relays are attached.
	waitSubscribed(t, bus, 2)
	return relayA, relayB, localA, localB
}

func waitSubscribed(t *testing.T, bus backplane.Bus, want int) {
	t.Helper()
	type counter interface{ SubscriberCount() int }
	c, ok := bus.(counter)
	if !ok {
		t.Fatalf("bus %T cannot report subscribers", bus)
	}
	for i := 0; i < 1000; i++ {
		if c.SubscriberCount() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("subscribers: got %d, want %d", c.SubscriberCount(), want)
}

func TestRelay_SendLocalDoesNotTouchBus(t *testing.T) {
	bus := &spyBus{MemoryBus: backplane.NewMemoryBus()}
	relayA, _, localA, _ := twoNodes(t, bus)

	if err := relayA.Send(context.Background(), "s-a", []byte("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := localA.received("s-a"); len(got) != 1 || string(got[0]) != "hi" {
		t.Fatalf("local delivery: got %q", got)
	}
	if bus.publishCount() != 0 {
		t.Errorf("locally-owned send was published %d times", bus.publishCount())
	}
}

func TestRelay_SendRemoteSession(t *testing.T) {
	bus := &spyBus{MemoryBus: backplane.NewMemoryBus()}
	relayA, _, localA, localB := twoNodes(t, bus)

	if err := relayA.Send(context.Background(), "s-b", []byte("cross")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := localB.received("s-b"); len(got) != 1 || string(got[0]) != "cross" {
		t.Fatalf("remote delivery: got %q", got)
	}
	if got := localA.received("s-a"); len(got) != 0 {
		t.Errorf("session-scoped send leaked to the wrong node: %q", got)
	}
}

func TestRelay_BroadcastExactlyOncePerNode(t *testing.T) {
	bus := backplane.NewMemoryBus()
	relayA, _, localA, localB := twoNodes(t, bus)

	if err := relayA.Broadcast(context.Background(), []byte("all")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	// Node A delivers locally at publish time and must skip its own
	// envelope when it arrives back from the bus.
	if got := localA.broadcastCount(); got != 1 {
		t.Errorf("origin node broadcasts: got %d, want exactly 1", got)
	}
	if got := localB.broadcastCount(); got != 1 {
		t.Errorf("peer node broadcasts: got %d, want exactly 1", got)
	}
}

// TestRelay_BackplaneDownKeepsLocalSessionsAlive is the degraded-mode
// scenario: with the bus down, sends to locally-bound sessions must all be
// delivered and nothing crosses nodes.
func TestRelay_BackplaneDownKeepsLocalSessionsAlive(t *testing.T) {
	bus := backplane.NewMemoryBus()
	relayA, _, localA, localB := twoNodes(t, bus)

	bus.SetDown(true)
	if relayA.Status() != "degraded" {
		t.Errorf("Status: got %q, want degraded", relayA.Status())
	}

	for i := 0; i < 10; i++ {
		if err := relayA.Send(context.Background(), "s-a", []byte{byte(i)}); err != nil {
			t.Fatalf("Send %d with backplane down: %v", i, err)
		}
	}
	if got := localA.received("s-a"); len(got) != 10 {
		t.Fatalf("local deliveries with backplane down: got %d, want 10", len(got))
	}

	// Broadcast still reaches the origin's own clients, and only them.
	relayA.Broadcast(context.Background(), []byte("x")) //nolint:errcheck
	if got := localA.broadcastCount(); got != 1 {
		t.Errorf("origin broadcasts with backplane down: got %d, want 1", got)
	}
	if got := localB.broadcastCount(); got != 0 {
		t.Errorf("peer received %d broadcasts across a dead backplane", got)
	}

	bus.SetDown(false)
	if relayA.Status() != "ok" {
		t.Errorf("Status after recovery: got %q, want ok", relayA.Status())
	}
}

func TestRelay_SingleNodeMode(t *testing.T) {
	local := newFakeLocal("s-1")
	relay := backplane.NewRelay("solo", nil, local)

	if relay.Status() != "disabled" {
		t.Errorf("Status: got %q, want disabled", relay.Status())
	}
	if err := relay.Send(context.Background(), "s-1", []byte("p")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := relay.Send(context.Background(), "elsewhere", []byte("p")); err != conn.ErrNotBound {
		t.Errorf("Send to unknown session: got %v, want ErrNotBound", err)
	}
	if err := relay.Broadcast(context.Background(), []byte("b")); err != nil {
		t.Errorf("Broadcast: %v", err)
	}
	if local.broadcastCount() != 1 {
		t.Errorf("broadcasts: got %d, want 1", local.broadcastCount())
	}
}

func TestRelay_IgnoresUnknownRemoteSessions(t *testing.T) {
	bus := backplane.NewMemoryBus()
	relayA, _, _, localB := twoNodes(t, bus)

	// Target a session no node owns: must be silently dropped everywhere.
	if err := relayA.Send(context.Background(), "ghost", []byte("boo")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := localB.received("ghost"); len(got) != 0 {
		t.Errorf("ghost session received %d payloads", len(got))
	}
}
