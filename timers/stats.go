package timers

// Stats is a point-in-time census of scheduler state.
type Stats struct {
	Timers      int
	DueNodes    int
	PendingFire int
	Armed       bool
	ArmedDue    int64
}

// DueSummary describes one due instant and how many timers share it.
type DueSummary struct {
	Due    int64
	Timers int
}

// Stats reports counts of live timers, due instants, timers waiting to
// fire, and the armed host subscription if any.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Timers:      len(s.byID),
		DueNodes:    s.dueTree.Len(),
		PendingFire: len(s.pendingFire),
	}
	if s.armed != nil {
		st.Armed = true
		st.ArmedDue = s.armed.due
	}
	return st
}

// Snapshot lists the scheduled due instants in ascending order.
func (s *Scheduler) Snapshot() []DueSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DueSummary, 0, s.dueTree.Len())
	s.dueTree.Ascend(func(node *dueNode) bool {
		out = append(out, DueSummary{Due: node.due, Timers: len(node.timers)})
		return true
	})
	return out
}
