package world

import (
	"encoding/json"
	"strings"

	"tradepost.ai/internal/observerproto"
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade/session"
)

// ObserverJoinRequest registers a read-only observer that receives one
// TICK message per tick on TickOut. Observer state is owned by the world
// loop; TickOut is closed when the observer leaves.
type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	FocusAgentID string
	IncludeSlots bool
}

// ObserverSubscribeRequest changes the filter of an existing observer.
type ObserverSubscribeRequest struct {
	SessionID    string
	FocusAgentID string
	IncludeSlots bool
}

type observerClient struct {
	id      string
	tickOut chan []byte

	focus        string
	includeSlots bool
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

// Params describes the fixed world parameters. Safe from any goroutine.
func (w *World) Params() protocol.WorldParams { return w.worldParams() }

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.TickOut == nil {
		return
	}
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:           req.SessionID,
		tickOut:      req.TickOut,
		focus:        strings.ToLower(strings.TrimSpace(req.FocusAgentID)),
		includeSlots: req.IncludeSlots,
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.focus = strings.ToLower(strings.TrimSpace(req.FocusAgentID))
	c.includeSlots = req.IncludeSlots
}

func (w *World) handleObserverLeave(id string) {
	c := w.observers[id]
	if c == nil {
		return
	}
	delete(w.observers, id)
	close(c.tickOut)
}

func (w *World) closeObservers() {
	for id := range w.observers {
		w.handleObserverLeave(id)
	}
}

func (w *World) stepObservers(nowTick uint64, joins []RecordedJoin, leaves []string) {
	audits := w.obsAuditsThisTick
	w.obsAuditsThisTick = w.obsAuditsThisTick[:0]
	if len(w.observers) == 0 {
		return
	}

	agents := make([]observerproto.AgentState, 0, len(w.agents)+len(w.offline))
	groundBy := map[string]int{}
	for _, id := range w.sortedGroundIDs() {
		groundBy[w.ground[id].Owner]++
	}
	for _, a := range w.allAgents() {
		st := observerproto.AgentState{
			ID:        a.ID,
			Name:      a.Name,
			Connected: w.clients[a.ID] != nil,
			Busy:      w.trades.IsBusy(a.ID),
			Balance:   w.ledger.Balance(a.ID),
			Ground:    groundBy[a.ID],
		}
		if s := w.trades.SessionOf(a.ID); s != nil {
			st.SessionID = s.ID()
		}
		agents = append(agents, st)
	}

	joinsOut := make([]observerproto.JoinInfo, 0, len(joins))
	for _, j := range joins {
		joinsOut = append(joinsOut, observerproto.JoinInfo{AgentID: j.AgentID, Name: j.Name})
	}

	live := w.trades.Sessions()

	// Most observers share a filter; marshal once per distinct one.
	cache := map[observerFilter][]byte{}
	for _, c := range w.observers {
		f := observerFilter{focus: c.focus, includeSlots: c.includeSlots}
		b, ok := cache[f]
		if !ok {
			msg := observerproto.TickMsg{
				Type:            observerproto.TypeTick,
				ProtocolVersion: observerproto.Version,
				Tick:            nowTick,
				Agents:          agents,
				Sessions:        sessionStates(live, f),
				Joins:           joinsOut,
				Leaves:          leaves,
				Audits:          filterAudits(audits, f.focus),
			}
			var err error
			if b, err = json.Marshal(msg); err != nil {
				continue
			}
			cache[f] = b
		}
		sendLatest(c.tickOut, b)
	}
}

type observerFilter struct {
	focus        string
	includeSlots bool
}

func sessionStates(live []*session.Session, f observerFilter) []observerproto.SessionState {
	out := make([]observerproto.SessionState, 0, len(live))
	for _, s := range live {
		if f.focus != "" {
			if _, ok := s.SideOf(f.focus); !ok {
				continue
			}
		}
		st := observerproto.SessionState{
			ID:        s.ID(),
			Players:   s.Players(),
			Offers:    [2]int64{s.Offer(session.One), s.Offer(session.Two)},
			Confirmed: [2]bool{s.Confirmed(session.One), s.Confirmed(session.Two)},
		}
		for _, side := range []session.Side{session.One, session.Two} {
			region := s.Region(side)
			for _, stack := range region {
				if stack.Count > 0 {
					st.Filled[side]++
				}
			}
			if f.includeSlots {
				st.Slots = append(st.Slots, region)
			}
		}
		out = append(out, st)
	}
	return out
}

func filterAudits(audits []AuditEntry, focus string) []observerproto.AuditEntry {
	out := make([]observerproto.AuditEntry, 0, len(audits))
	for _, e := range audits {
		if focus != "" && e.Actor != focus && !auditMentions(e, focus) {
			continue
		}
		out = append(out, observerproto.AuditEntry{
			Tick:      e.Tick,
			Actor:     e.Actor,
			Action:    e.Action,
			SessionID: e.SessionID,
			Reason:    e.Reason,
		})
	}
	return out
}

func auditMentions(e AuditEntry, agent string) bool {
	for _, k := range []string{"player_one", "player_two", "account", "owner"} {
		if v, _ := e.Details[k].(string); v == agent {
			return true
		}
	}
	return false
}
