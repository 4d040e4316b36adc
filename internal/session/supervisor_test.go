package session

import (
	"context"
	"testing"
	"time"
)

func TestSupervisor_DestroysIdleWithinOneSweep(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, 64)
	sup := NewSupervisor(r, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	sess, _, _ := r.CreateOrRebind("")
	b := newFakeBinding("conn-1")
	sess.Bind(b, time.Now())
	sess.Unbind(b, time.Now())

	// Within the grace period the session must stay retrievable by token.
	if _, _, err := r.CreateOrRebind(sess.Token); err != nil {
		t.Fatalf("session not retrievable inside grace period: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := r.Lookup(sess.ID); err == ErrNotFound {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("idle session was never destroyed")
}

func TestSupervisor_SparesBoundSessions(t *testing.T) {
	r := NewRegistry(10*time.Millisecond, 64)
	sup := NewSupervisor(r, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	sess, _, _ := r.CreateOrRebind("")
	sess.Bind(newFakeBinding("conn-1"), time.Now())

	time.Sleep(50 * time.Millisecond)
	if _, err := r.Lookup(sess.ID); err != nil {
		t.Fatalf("bound session was destroyed: %v", err)
	}
}
