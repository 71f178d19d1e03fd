package session

import "github.com/signalk/signalk-server-go/internal/model"

// sendBootstrapEvents emits the fixed six-event bootstrap sequence
// required before a ServerEvents session starts receiving the periodic
// statistics stream (§4.5, S6).
func (s *Session) sendBootstrapEvents() {
	order := []model.ServerEventTag{
		model.EventVesselInfo,
		model.EventProviderStatus,
		model.EventServerStatistics,
		model.EventDebugSettings,
		model.EventReceiveLoginState,
		model.EventSourcePriorities,
	}
	for _, tag := range order {
		s.sendMessage(model.ServerEventMessage{Type: tag, Data: map[string]any{}})
	}
}

// DeliverServerEvent is called by the server-event source for every live
// ServerEvents-subscribed session.
func (s *Session) DeliverServerEvent(evt model.ServerEventMessage) {
	if s.State() != StateStreaming || !s.serverEventsOn {
		return
	}
	s.sendMessage(evt)
}
