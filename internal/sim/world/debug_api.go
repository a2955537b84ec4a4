package world

// The helpers below mutate loop-owned state and must only be called while
// Run is not executing (tests and tools driving the world with StepOnce).

// AttachOnce resumes a connection the way the loop would.
func (w *World) AttachOnce(req AttachRequest) JoinResponse {
	return w.attachAgent(req)
}

func (w *World) DebugAddInventory(agentID string, item string, n int) bool {
	a := w.agents[agentID]
	if a == nil || item == "" || n <= 0 {
		return false
	}
	return a.Inventory.Add(item, n) == 0
}

func (w *World) DebugClearAgentEvents(agentID string) bool {
	a := w.agents[agentID]
	if a == nil {
		return false
	}
	a.Events = nil
	return true
}

// DebugGroundCount sums ground items owned by agentID.
func (w *World) DebugGroundCount(agentID string, item string) int {
	n := 0
	for _, g := range w.ground {
		if g.Owner == agentID && g.Item == item {
			n += g.Count
		}
	}
	return n
}
