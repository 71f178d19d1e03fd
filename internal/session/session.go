// Package session implements the streaming session state machine:
// Opening -> Hello -> Streaming -> Closing -> Closed, with ServerEvents as
// a parallel substate of Streaming.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/store"
	"github.com/signalk/signalk-server-go/internal/subscription"
)

// State is one state of the session lifecycle.
type State int

const (
	StateOpening State = iota
	StateHello
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateHello:
		return "hello"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Pipeline is the delta-ingress side of the delta pipeline (§4.6), owned by
// the hub. A session pushing a client-origin Delta only needs this much of
// the hub's surface, which keeps this package free of a dependency on it.
type Pipeline interface {
	Submit(d *model.Delta, defaultSourceRef string)
}

// Options configures a session at Opening, derived from the streaming
// transport's query parameters (§6).
type Options struct {
	InitialMode      string // "self" | "all" | "none"
	SendCachedValues bool
	ServerEvents     bool
	SendMeta         bool
	ImplName         string
}

// Session is one live streaming-transport connection.
type Session struct {
	mu    sync.Mutex
	state State

	id               string
	selfID           string
	defaultSourceRef string
	opts             Options

	store    *store.Store
	subs     *subscription.Manager
	pipeline Pipeline
	putter   *PutRouter

	out *outbound

	serverEventsOn bool
}

// New constructs a session in the Opening state. id should be unique per
// connection; defaultSourceRef is the opaque per-connection SourceRef
// assigned to client deltas that carry neither $source nor source.
func New(id string, st *store.Store, pipeline Pipeline, putter *PutRouter, defaultSourceRef string, opts Options) *Session {
	s := &Session{
		id:               id,
		state:            StateOpening,
		selfID:           st.SelfID(),
		defaultSourceRef: defaultSourceRef,
		opts:             opts,
		store:            st,
		subs:             subscription.NewManager(st.SelfID()),
		pipeline:         pipeline,
		putter:           putter,
		out:              newOutbound(256),
	}
	s.subs.SetInitial(opts.InitialMode)
	s.subs.SetSendMeta(opts.SendMeta, s.lookupMeta)
	return s
}

// ID returns the session's connection identifier.
func (s *Session) ID() string { return s.id }

// Outbound exposes the channel the transport layer drains to write frames
// to the wire.
func (s *Session) Outbound() <-chan []byte { return s.out.ch }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Open runs the Opening -> Hello -> Streaming transition: it sends the
// Hello frame, then the cached-value replay if requested, per §4.5.
func (s *Session) Open(selfURN string) {
	s.setState(StateHello)

	hello := model.HelloMessage{
		Name:      s.opts.ImplName,
		Version:   "1.7.0",
		Self:      s.selfID,
		Roles:     []string{"master", "main"},
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	s.sendMessage(hello)

	if s.opts.SendCachedValues {
		mode := initialModeFor(s.opts.InitialMode)
		for _, d := range s.store.SnapshotInitial(mode, nil) {
			s.sendMessage(d)
		}
	}

	s.setState(StateStreaming)
	if s.opts.ServerEvents {
		s.serverEventsOn = true
		s.sendBootstrapEvents()
	}
}

func initialModeFor(mode string) store.InitialMode {
	switch mode {
	case "all":
		return store.InitialAll
	case "none":
		return store.InitialNone
	default:
		return store.InitialSelf
	}
}

func (s *Session) sendMessage(v any) {
	b, err := model.EncodeServerMessage(v)
	if err != nil {
		logs.Error.Println("session", s.id, "encode failed:", err)
		return
	}
	s.out.enqueue(b)
}

// Deliver is called by the hub's broadcast fan-out for every applied delta.
// It is a no-op once the session has left Streaming.
func (s *Session) Deliver(nd *model.NormalizedDelta, now time.Time) {
	if s.State() != StateStreaming {
		return
	}
	if out := s.subs.OnDelta(nd, now); out != nil {
		s.sendMessage(out)
	}
}

// Tick drives fixed/ideal policy timers and the outbound lag-recovery
// check. Callers invoke it on a shared ticker (the hub ticks every live
// session at a granularity finer than the shortest configured period).
func (s *Session) Tick(now time.Time) {
	if s.State() != StateStreaming {
		return
	}
	for _, d := range s.subs.Tick(now) {
		s.sendMessage(d)
	}
	s.out.tryFlushLag()
}

func (s *Session) lookupMeta(context, path string) (json.RawMessage, bool) {
	raw, ok, err := s.store.GetPath(context, path)
	if err != nil || !ok {
		return nil, false
	}
	var withMeta struct {
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(raw, &withMeta); err != nil || len(withMeta.Meta) == 0 {
		return nil, false
	}
	return withMeta.Meta, true
}

// Close begins the Streaming -> Closing -> Closed transition. Per §4.5 the
// caller gets at most 100ms grace to drain pending writes before the
// session is considered gone; subscriptions are released synchronously.
func (s *Session) Close() {
	s.setState(StateClosing)
	s.out.drainWithin(100 * time.Millisecond)
	s.mu.Lock()
	s.subs.Unsubscribe("*", []model.UnsubscribeItem{{Path: "*"}})
	s.state = StateClosed
	s.mu.Unlock()
	s.out.close()
}
