// Package hub implements the delta pipeline (§4.6): a single pipeline
// worker that serializes ingress deltas through an interception chain,
// applies them to the store, and broadcasts the result to every live
// session, grounded on the teacher's hub dispatcher (join/route/unreg/
// shutdown channel loop).
package hub

import (
	"sync"
	"time"

	"github.com/signalk/signalk-server-go/internal/concurrency"
	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/skerr"
	"github.com/signalk/signalk-server-go/internal/store"
)

// tickWorkers bounds the concurrency of the tick fan-out: a session with a
// slow outbound consumer must not hold up the other sessions' timers.
const tickWorkers = 8

// Action is what an interception handler decided to do with a delta.
type Action int

const (
	ActionPass Action = iota
	ActionDrop
)

// InputHandler is one link of the interception chain: a pure, fast
// function over the delta that can pass it through unchanged, rewrite it,
// or drop it. Handlers must not perform I/O (§4.6).
type InputHandler func(d model.Delta) (model.Delta, Action)

type ingressItem struct {
	delta            *model.Delta
	defaultSourceRef string
}

// Hub owns the ingress queue, the interception chain and the session
// registry, and runs the single pipeline worker.
type Hub struct {
	store *store.Store
	chain []InputHandler

	ingress  chan ingressItem
	join     chan *session.Session
	unreg    chan string
	shutdown chan chan<- bool

	sessions sync.Map // session id -> *session.Session

	pool  *concurrency.Pool
	stats *Stats
	now   func() time.Time
}

// New constructs a hub bound to store st with the given interception
// chain, run in registration order.
func New(st *store.Store, chain []InputHandler) *Hub {
	h := &Hub{
		store:    st,
		chain:    chain,
		ingress:  make(chan ingressItem, 4096),
		join:     make(chan *session.Session, 256),
		unreg:    make(chan string, 256),
		shutdown: make(chan chan<- bool),
		pool:     concurrency.NewPool(tickWorkers),
		stats:    newStats(),
		now:      time.Now,
	}
	go h.run()
	go h.tickLoop()
	return h
}

// Submit implements session.Pipeline: it enqueues d for the pipeline
// worker without blocking the caller. On a full ingress queue the delta is
// dropped and the drop counter (reported via SERVERSTATISTICS) increments
// — the documented Pipeline-Backpressure behavior of §7.
func (h *Hub) Submit(d *model.Delta, defaultSourceRef string) {
	select {
	case h.ingress <- ingressItem{delta: d, defaultSourceRef: defaultSourceRef}:
	default:
		h.stats.RecordDropped()
		logs.Warning.Println("hub: ingress queue full, dropping delta")
	}
}

// Join registers a session to receive broadcasted deltas.
func (h *Hub) Join(sess *session.Session) {
	h.sessions.Store(sess.ID(), sess)
}

// Leave unregisters a session.
func (h *Hub) Leave(id string) {
	h.unreg <- id
}

// SessionCount returns the number of currently registered sessions, the
// wsClients figure reported by SERVERSTATISTICS.
func (h *Hub) SessionCount() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Stats exposes the pipeline's rate/drop counters to the server-event
// source and the Prometheus exporter.
func (h *Hub) Stats() *Stats { return h.stats }

// RangeSessions calls fn for every currently registered session, used by
// the server-event source to broadcast outside the hub package.
func (h *Hub) RangeSessions(fn func(*session.Session)) {
	h.sessions.Range(func(_, v any) bool {
		fn(v.(*session.Session))
		return true
	})
}

func (h *Hub) run() {
	for {
		select {
		case item := <-h.ingress:
			h.process(item)
		case sess := <-h.join:
			h.sessions.Store(sess.ID(), sess)
		case id := <-h.unreg:
			h.sessions.Delete(id)
		case done := <-h.shutdown:
			done <- true
			return
		}
	}
}

// tickLoop drives fixed/ideal subscription timers across every live
// session. 100ms is finer than the shortest documented policy granularity.
// Each session is ticked on the bounded pool so one session's slow outbound
// consumer can't delay the rest.
func (h *Hub) tickLoop() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for now := range ticker.C {
		h.sessions.Range(func(_, v any) bool {
			sess := v.(*session.Session)
			h.pool.Schedule(func() { sess.Tick(now) })
			return true
		})
	}
}

func (h *Hub) process(item ingressItem) {
	d := *item.delta
	for _, handler := range h.chain {
		var action Action
		d, action = handler(d)
		if action == ActionDrop {
			h.stats.RecordDropped()
			return
		}
	}

	nd, err := model.ValidateDelta(&d, item.defaultSourceRef, h.now())
	if err != nil {
		logs.Warning.Println("hub: rejected delta:", err)
		return
	}
	// "vessels.self" is an alias of the server's own context; resolve it so
	// subscriptions compiled against SelfID match the broadcast delta.
	if nd.Context == string(model.ContextSelf) {
		nd.Context = h.store.SelfID()
	}

	if err := h.store.ApplyDelta(nd); err != nil {
		if skerr.Is(err, skerr.KindFatal) {
			logs.Error.Fatalln("hub: store invariant breach, aborting:", err)
		}
		logs.Warning.Println("hub: apply failed:", err)
		return
	}

	now := h.now()
	h.stats.RecordApplied(now)
	h.sessions.Range(func(_, v any) bool {
		v.(*session.Session).Deliver(nd, now)
		return true
	})
}

// Shutdown stops the pipeline worker, waiting up to the given timeout, and
// then stops the tick pool's workers. The tick loop goroutine itself is not
// stopped and keeps scheduling session ticks after Shutdown returns.
func (h *Hub) Shutdown(timeout time.Duration) bool {
	done := make(chan bool, 1)
	select {
	case h.shutdown <- done:
	case <-time.After(timeout):
		return false
	}
	select {
	case <-done:
		h.pool.Stop()
		return true
	case <-time.After(timeout):
		return false
	}
}
