package world

func (w *World) audit(e AuditEntry) {
	if len(w.observers) > 0 {
		w.obsAuditsThisTick = append(w.obsAuditsThisTick, e)
	}
	if w.auditLogger == nil {
		return
	}
	if err := w.auditLogger.WriteAudit(e); err != nil {
		w.log.Printf("audit %s: %v", e.Action, err)
	}
}

func (w *World) auditEvent(nowTick uint64, actor, action, reason string, details map[string]any) {
	w.audit(AuditEntry{
		Tick:    nowTick,
		Actor:   actor,
		Action:  action,
		Reason:  reason,
		Details: details,
	})
}
