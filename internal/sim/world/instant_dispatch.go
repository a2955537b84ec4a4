package world

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/feature/trade"
	"tradepost.ai/internal/sim/world/kernel/model"
)

type instantHandler func(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64)

var instantDispatch = map[string]instantHandler{
	protocol.InstantTradeRequest: handleTradeRequest,
	protocol.InstantTradeAccept:  handleTradeAccept,
	protocol.InstantTradeDeny:    handleTradeDeny,
	protocol.InstantTradeCancel:  handleTradeCancel,
	protocol.InstantTradeSlot:    handleTradeSlot,
	protocol.InstantTradeOffer:   handleTradeOffer,
	protocol.InstantTradeConfirm: handleTradeConfirm,
	protocol.InstantTradeClose:   handleTradeClose,
	protocol.InstantCommand:      handleCommand,
	protocol.InstantBalance:      handleBalance,
	protocol.InstantPickup:       handlePickup,
}

func handleTradeRequest(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	if inst.To == "" {
		a.AddEvent(protocol.ActionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "missing to"))
		return
	}
	w.trades.Handle(trade.LifecycleCommand{Kind: trade.CommandPropose, Actor: a, Target: inst.To, Ref: inst.ID}, nowTick)
}

func handleTradeAccept(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	if inst.From == "" {
		a.AddEvent(protocol.ActionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "missing from"))
		return
	}
	w.trades.Handle(trade.LifecycleCommand{Kind: trade.CommandAccept, Actor: a, Target: inst.From, Ref: inst.ID}, nowTick)
}

func handleTradeDeny(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	if inst.From == "" {
		a.AddEvent(protocol.ActionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "missing from"))
		return
	}
	w.trades.Handle(trade.LifecycleCommand{Kind: trade.CommandDeny, Actor: a, Target: inst.From, Ref: inst.ID}, nowTick)
}

func handleTradeCancel(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	w.trades.Handle(trade.LifecycleCommand{Kind: trade.CommandCancel, Actor: a, Ref: inst.ID}, nowTick)
}

func handleTradeSlot(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	stack := protocol.ItemStack{Item: inst.Item, Count: inst.Count}
	w.trades.Handle(trade.SlotChange{Actor: a, Slot: inst.Slot, Stack: stack, Ref: inst.ID}, nowTick)
}

func handleTradeOffer(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	w.trades.Handle(trade.OfferDelta{Actor: a, Delta: inst.Amount, Ref: inst.ID}, nowTick)
}

func handleTradeConfirm(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	w.trades.Handle(trade.ConfirmToggle{Actor: a, Ref: inst.ID}, nowTick)
}

func handleTradeClose(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	w.trades.Handle(trade.SurfaceClosed{Actor: a, Ref: inst.ID}, nowTick)
}

func handleCommand(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	cmd, err := trade.ParseCommand(inst.Text)
	if err != nil {
		a.AddEvent(protocol.ActionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, err.Error()))
		return
	}
	cmd.Actor = a
	cmd.Ref = inst.ID
	w.trades.Handle(cmd, nowTick)
}

func handleBalance(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	w.trades.Handle(trade.LifecycleCommand{Kind: trade.CommandBalance, Actor: a, Ref: inst.ID}, nowTick)
}

func handlePickup(w *World, a *model.Agent, inst protocol.InstantReq, nowTick uint64) {
	w.pickup(a, inst.ID, nowTick)
}
