package visualizer

// emitter is the subset of Forwarder a SessionVisualizer depends on. Kept
// as an interface so tests can substitute a recording stub.
type emitter interface {
	Emit(conversationID *string, actionType string, action map[string]interface{}, state map[string]interface{})
}

// SessionVisualizer is a thin adapter binding a conversation id to the
// shared forwarder. It holds no state beyond the id and a handle to the
// forwarder; all buffering, reconnection, and backoff live in Forwarder.
type SessionVisualizer struct {
	conversationID string
	forwarder      emitter
}

// NewSessionVisualizer binds conversationID to forwarder.
func NewSessionVisualizer(conversationID string, forwarder emitter) *SessionVisualizer {
	return &SessionVisualizer{conversationID: conversationID, forwarder: forwarder}
}

// Emit stamps the bound conversation id onto the event and forwards it.
func (s *SessionVisualizer) Emit(actionType string, action map[string]interface{}, state map[string]interface{}) {
	id := s.conversationID
	s.forwarder.Emit(&id, actionType, action, state)
}
