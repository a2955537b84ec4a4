package trade

import (
	"tradepost.ai/internal/protocol"
	"tradepost.ai/internal/sim/world/kernel/model"
)

// Event is one input to the Manager. The concrete types are the only variants.
type Event interface {
	actor() *model.Agent
	ref() string
}

type CommandKind string

const (
	CommandPropose CommandKind = "PROPOSE"
	CommandAccept  CommandKind = "ACCEPT"
	CommandDeny    CommandKind = "DENY"
	CommandCancel  CommandKind = "CANCEL"
	CommandBalance CommandKind = "BALANCE"
)

// LifecycleCommand is propose/accept/deny/cancel (and the balance query).
// Target is the counterpart's name as typed: the proposal target, or the
// requester being accepted or denied.
type LifecycleCommand struct {
	Kind   CommandKind
	Actor  *model.Agent
	Target string
	Ref    string
}

// SlotChange writes Stack into a slot of the negotiation surface. An empty
// stack clears the slot.
type SlotChange struct {
	Actor *model.Agent
	Slot  int
	Stack protocol.ItemStack
	Ref   string
}

type OfferDelta struct {
	Actor *model.Agent
	Delta int64
	Ref   string
}

type ConfirmToggle struct {
	Actor *model.Agent
	Ref   string
}

// SurfaceClosed reports that Actor left the negotiation surface.
type SurfaceClosed struct {
	Actor *model.Agent
	Ref   string
}

func (e LifecycleCommand) actor() *model.Agent { return e.Actor }
func (e SlotChange) actor() *model.Agent       { return e.Actor }
func (e OfferDelta) actor() *model.Agent       { return e.Actor }
func (e ConfirmToggle) actor() *model.Agent    { return e.Actor }
func (e SurfaceClosed) actor() *model.Agent    { return e.Actor }

func (e LifecycleCommand) ref() string { return e.Ref }
func (e SlotChange) ref() string       { return e.Ref }
func (e OfferDelta) ref() string       { return e.Ref }
func (e ConfirmToggle) ref() string    { return e.Ref }
func (e SurfaceClosed) ref() string    { return e.Ref }
