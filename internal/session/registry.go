package session

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/internal/metrics"
)

// shardCount spreads sessions over independent locks so one session's
// traffic never serializes another's. Must be a power of two.
const shardCount = 32

// Registry is the node-local table of live sessions, keyed by session ID
// and resolvable by resume token. It is an explicit object passed to its
// consumers, not an ambient singleton.
type Registry struct {
	shards [shardCount]shard

	// tokens maps resume token -> session ID. Lock-free; entries are added
	// on create and removed on destroy.
	tokens sync.Map

	pendingCap int
	idleGrace  atomic.Int64 // nanoseconds, hot-reloadable

	now func() time.Time // injectable for deterministic tests

	hookMu    sync.RWMutex
	onDestroy []func(sessionID string)
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Summary is the read-only view of one session exposed by List.
type Summary struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	Bound      bool      `json:"bound"`
}

// NewRegistry creates a Registry. idleGrace is how long an unbound session
// survives before a sweep destroys it; pendingCap bounds the per-session
// outbound buffer used while unbound.
func NewRegistry(idleGrace time.Duration, pendingCap int) *Registry {
	r := &Registry{
		pendingCap: pendingCap,
		now:        time.Now,
	}
	r.idleGrace.Store(int64(idleGrace))
	for i := range r.shards {
		r.shards[i].sessions = make(map[string]*Session)
	}
	return r
}

// CreateOrRebind resolves token to an existing session, or creates a fresh
// one when token is empty. The returned bool reports whether an existing
// session was resumed. A token whose session has been destroyed (or was
// never issued by this node) yields ErrSessionExpired — it never silently
// creates a new session under the old identity.
//
// The caller completes the rebind by calling (*Session).Bind; the
// destroy-vs-rebind race is resolved there.
func (r *Registry) CreateOrRebind(token string) (*Session, bool, error) {
	if token == "" {
		return r.create(), false, nil
	}

	v, ok := r.tokens.Load(token)
	if !ok {
		return nil, false, ErrSessionExpired
	}
	sess, err := r.Lookup(v.(string))
	if err != nil {
		return nil, false, ErrSessionExpired
	}
	return sess, true, nil
}

// Lookup returns the session with the given ID, or ErrNotFound.
func (r *Registry) Lookup(id string) (*Session, error) {
	sh := r.shard(id)
	sh.mu.RLock()
	sess, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Unbind detaches b from the session with the given ID. Unknown IDs and
// stale bindings are ignored.
func (r *Registry) Unbind(id string, b Binding) {
	sess, err := r.Lookup(id)
	if err != nil {
		return
	}
	sess.Unbind(b, r.now())
}

// Destroy removes the session with the given ID unconditionally, closing its
// transport if one is bound. Idempotent: destroying an unknown or already
// destroyed session is a no-op.
func (r *Registry) Destroy(id string) {
	sess, err := r.Lookup(id)
	if err != nil {
		return
	}
	if sess.destroy() {
		r.remove(sess)
	}
}

// SweepIdle destroys every unbound session whose grace period has elapsed at
// now, returning the number destroyed. Candidates are re-checked under the
// session lock, so a rebind racing the sweep always wins or loses cleanly.
func (r *Registry) SweepIdle(now time.Time) int {
	grace := time.Duration(r.idleGrace.Load())

	var candidates []*Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			if since, ok := sess.idleSince(); ok && now.Sub(since) >= grace {
				candidates = append(candidates, sess)
			}
		}
		sh.mu.RUnlock()
	}

	destroyed := 0
	for _, sess := range candidates {
		if sess.destroyIfIdle(now, grace) {
			r.remove(sess)
			metrics.SessionsExpired.Inc()
			destroyed++
		}
	}
	return destroyed
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// List returns a point-in-time summary of all live sessions.
func (r *Registry) List() []Summary {
	var out []Summary
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, sess := range sh.sessions {
			out = append(out, Summary{
				ID:         sess.ID,
				CreatedAt:  sess.CreatedAt,
				LastActive: sess.LastActive(),
				Bound:      sess.Bound(),
			})
		}
		sh.mu.RUnlock()
	}
	return out
}

// SetIdleGrace updates the grace period applied by subsequent sweeps.
// Used by config hot reload.
func (r *Registry) SetIdleGrace(d time.Duration) {
	r.idleGrace.Store(int64(d))
}

// IdleGrace returns the currently configured grace period.
func (r *Registry) IdleGrace() time.Duration {
	return time.Duration(r.idleGrace.Load())
}

// OnDestroy registers a hook invoked (outside all registry locks) with the
// ID of every destroyed session. The connection manager uses it to emit
// Down state events.
func (r *Registry) OnDestroy(hook func(sessionID string)) {
	r.hookMu.Lock()
	r.onDestroy = append(r.onDestroy, hook)
	r.hookMu.Unlock()
}

// --- internal ---------------------------------------------------------------

func (r *Registry) create() *Session {
	now := r.now()
	sess := &Session{
		ID:         uuid.NewString(),
		Token:      uuid.NewString(),
		CreatedAt:  now,
		lastActive: now,
		unboundAt:  now, // counts as idle until the first Bind
		pendingCap: r.pendingCap,
	}

	sh := r.shard(sess.ID)
	sh.mu.Lock()
	sh.sessions[sess.ID] = sess
	sh.mu.Unlock()
	r.tokens.Store(sess.Token, sess.ID)

	metrics.ActiveSessions.Inc()
	return sess
}

func (r *Registry) remove(sess *Session) {
	sh := r.shard(sess.ID)
	sh.mu.Lock()
	delete(sh.sessions, sess.ID)
	sh.mu.Unlock()
	r.tokens.Delete(sess.Token)

	metrics.ActiveSessions.Dec()
	r.fireDestroy(sess.ID)
}

func (r *Registry) fireDestroy(id string) {
	r.hookMu.RLock()
	hooks := r.onDestroy
	r.hookMu.RUnlock()
	for _, h := range hooks {
		h(id)
	}
}

func (r *Registry) shard(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &r.shards[h.Sum32()&(shardCount-1)]
}
