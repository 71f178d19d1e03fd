package session

import (
	"context"

	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/model"
)

// Dispatch decodes and handles one inbound frame. A decode failure is
// non-fatal: it is reported as an Error message and the session stays
// open, per §4.1/§7.
func (s *Session) Dispatch(ctx context.Context, raw []byte) {
	if s.State() != StateStreaming {
		return
	}

	msg, err := model.DecodeClientMessage(raw)
	if err != nil {
		logs.Warning.Println("session", s.id, "malformed frame:", err)
		s.sendMessage(model.ErrorMessage{Error: err.Error()})
		return
	}

	switch msg.Kind {
	case model.MsgSubscribe:
		s.handleSubscribe(msg)
	case model.MsgUnsubscribe:
		s.handleUnsubscribe(msg)
	case model.MsgPut:
		s.handlePut(ctx, msg)
	case model.MsgDelta:
		s.handleClientDelta(msg)
	case model.MsgUnknown:
		// Nothing recognized in the frame; ignored per §4.1.
	}
}

func (s *Session) handleSubscribe(msg *model.ClientMessage) {
	vesselContext := msg.Context
	if vesselContext == "" {
		vesselContext = "vessels.self"
	}
	warnings := s.subs.Subscribe(vesselContext, msg.Subscribe)
	for _, w := range warnings {
		s.sendMessage(model.ErrorMessage{Error: w})
	}
}

func (s *Session) handleUnsubscribe(msg *model.ClientMessage) {
	vesselContext := msg.Context
	if vesselContext == "" {
		vesselContext = "vessels.self"
	}
	s.subs.Unsubscribe(vesselContext, msg.Unsubscribe)
}

// handleClientDelta forwards a client-pushed delta into the delta pipeline,
// tagging it with the session's default SourceRef when the client omitted
// one (§4.5 "the session acts as a provider").
func (s *Session) handleClientDelta(msg *model.ClientMessage) {
	s.pipeline.Submit(msg.Delta, s.defaultSourceRef)
}
