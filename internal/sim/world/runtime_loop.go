package world

import (
	"context"
	"encoding/json"
	"time"

	"tradepost.ai/internal/sim/world/feature/trade"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []LeaveRequest

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return ctx.Err()
		case <-w.stop:
			w.shutdown()
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-w.attach:
			w.handleAttach(req)
		case req := <-w.leave:
			pendingLeaves = append(pendingLeaves, req)
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingActions)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []LeaveRequest, actions []ActionEnvelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	w.step(joins, leaves, actions)
	return tick, w.stateDigest(tick)
}

func (w *World) step(joins []JoinRequest, leaves []LeaveRequest, actions []ActionEnvelope) {
	w.stepAt(w.clock(), joins, leaves, actions)
}

func (w *World) stepAt(at time.Time, joins []JoinRequest, leaves []LeaveRequest, actions []ActionEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	w.stepTime = at

	// A due sweep runs at the step's time before anything else touches the
	// registry, so the tick log records it in the tick that removed it.
	select {
	case <-w.sweepDue:
		w.pendingExpired = append(w.pendingExpired, w.requests.Sweep(at)...)
	default:
	}

	resumes := w.pendingResumes
	w.pendingResumes = nil
	imported := w.imported
	w.imported = false

	// Cancellations deferred from last tick's surface closes run first.
	w.trades.Tick(nowTick)

	// Apply leaves and joins deterministically at tick boundary.
	recordedLeaves := make([]string, 0, len(leaves))
	for _, req := range leaves {
		if w.handleLeave(req, nowTick) {
			recordedLeaves = append(recordedLeaves, req.AgentID)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		resp := w.joinAgent(req, nowTick)
		if req.Resp != nil {
			req.Resp <- resp
		}
		if resp.Welcome.AgentID != "" {
			recordedJoins = append(recordedJoins, RecordedJoin{AgentID: resp.Welcome.AgentID, Name: req.Name})
		}
	}

	var recordedExpired []RecordedExpiry
	if len(w.pendingExpired) > 0 {
		for _, req := range w.pendingExpired {
			recordedExpired = append(recordedExpired, RecordedExpiry{Requester: req.Requester.ID, Target: req.Target.ID})
		}
		w.trades.NotifyExpired(w.pendingExpired, nowTick)
		w.pendingExpired = w.pendingExpired[:0]
	}

	// Apply actions in server_receive_order (the inbox order).
	recorded := make([]RecordedAction, 0, len(actions))
	for _, env := range actions {
		a := w.agents[env.AgentID]
		if a == nil {
			continue
		}
		env.Act.AgentID = env.AgentID // trust session identity
		recorded = append(recorded, RecordedAction{AgentID: env.AgentID, Act: env.Act})
		w.applyAct(a, env.Act, nowTick)
	}

	w.sendObs(nowTick)
	w.stepObservers(nowTick, recordedJoins, recordedLeaves)

	digest := w.stateDigest(nowTick)
	if w.tickLogger != nil {
		entry := TickLogEntry{
			Tick:     nowTick,
			At:       at,
			Resumes:  resumes,
			Expired:  recordedExpired,
			Joins:    recordedJoins,
			Leaves:   recordedLeaves,
			Actions:  recorded,
			Digest:   digest,
			Imported: imported,
		}
		if err := w.tickLogger.WriteTick(entry); err != nil {
			w.log.Printf("tick log: %v", err)
		}
	}

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		if nowTick%uint64(w.cfg.SnapshotEveryTicks) == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	stepDur := time.Since(stepStart)
	nextTick := w.tick.Add(1)
	w.publishMetrics(nextTick, stepDur)
}

// shutdown cancels every live session so escrowed items go home before the
// final snapshot is taken.
func (w *World) shutdown() {
	nowTick := w.tick.Load()
	if n := w.trades.CancelAll(trade.EndShutdown, nowTick); n > 0 {
		w.log.Printf("shutdown: cancelled %d trade session(s)", n)
	}
	w.sendObs(nowTick)
	w.closeObservers()
}

// Shutdown is the loop-free variant of the Run exit path, for callers that
// drive the world with StepOnce.
func (w *World) Shutdown() { w.shutdown() }

func (w *World) sendObs(nowTick uint64) {
	for id, a := range w.agents {
		cl := w.clients[id]
		if cl == nil {
			continue
		}
		obs := w.buildObs(a, nowTick)
		b, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		sendLatest(cl.Out, b)
	}
}
