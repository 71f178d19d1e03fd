package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/signalk/signalk-server-go/internal/model"
	"github.com/signalk/signalk-server-go/internal/pathmatch"
)

// PutHandler executes a registered Put. The core never executes puts
// itself — handler execution model is out of scope (§9) — it only
// specifies the absence path.
type PutHandler func(ctx context.Context, vesselContext, path string, value json.RawMessage) (model.PutState, int)

type putRoute struct {
	ctxPat  *pathmatch.Pattern
	pathPat *pathmatch.Pattern
	handler PutHandler
}

// PutRouter is the (context_pattern, path_pattern) -> handler routing table
// registered at startup by collaborators (§9).
type PutRouter struct {
	mu     sync.RWMutex
	routes []putRoute
	selfID string
}

// NewPutRouter constructs an empty routing table. selfID expands
// "vessels.self" context patterns at registration time.
func NewPutRouter(selfID string) *PutRouter {
	return &PutRouter{selfID: selfID}
}

// Register adds a handler for the given context and path pattern.
func (r *PutRouter) Register(contextPattern, pathPattern string, h PutHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, putRoute{
		ctxPat:  pathmatch.CompileContext(contextPattern, r.selfID),
		pathPat: pathmatch.Compile(pathPattern),
		handler: h,
	})
}

// Route finds the first registered handler matching context and path.
func (r *PutRouter) Route(context, path string) (PutHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if rt.ctxPat.Matches(context) && rt.pathPat.Matches(path) {
			return rt.handler, true
		}
	}
	return nil, false
}

// handlePut implements the Put transition of §4.5: route to a handler, or
// answer the no-handler path with statusCode 405 (testable property 9).
func (s *Session) handlePut(ctx context.Context, msg *model.ClientMessage) {
	vesselContext := msg.Context
	if vesselContext == "" || vesselContext == string(model.ContextSelf) {
		vesselContext = s.selfID
	}

	resp := model.PutResponseMessage{RequestID: msg.RequestID}
	handler, ok := s.putter.Route(vesselContext, msg.Put.Path)
	if !ok {
		resp.State = model.PutCompleted
		resp.StatusCode = 405
		if raw, err := model.EncodePutAbsenceResponse(resp); err == nil {
			s.out.enqueue(raw)
		} else {
			s.sendMessage(resp)
		}
		return
	}

	state, code := handler(ctx, vesselContext, msg.Put.Path, msg.Put.Value)
	resp.State = state
	resp.StatusCode = code
	s.sendMessage(resp)
}
