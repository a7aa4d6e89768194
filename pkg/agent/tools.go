package agent

// toolNames lists the enabled tools for recovery messages.
func (s *Session) toolNames() []string {
	return s.engine.registry.Names()
}
