package trade

import (
	"errors"
	"strings"
)

const Usage = "usage: trade <agent> | trade accept <agent> | trade deny <agent> | trade cancel | balance"

var ErrUsage = errors.New(Usage)

// ParseCommand reads the text command surface into a LifecycleCommand
// without an actor.
func ParseCommand(text string) (LifecycleCommand, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return LifecycleCommand{}, ErrUsage
	}
	fields[0] = strings.TrimPrefix(strings.ToLower(fields[0]), "/")
	switch fields[0] {
	case "balance", "bal":
		if len(fields) != 1 {
			return LifecycleCommand{}, ErrUsage
		}
		return LifecycleCommand{Kind: CommandBalance}, nil
	case "trade":
	default:
		return LifecycleCommand{}, ErrUsage
	}

	args := fields[1:]
	if len(args) == 0 {
		return LifecycleCommand{}, ErrUsage
	}
	switch strings.ToLower(args[0]) {
	case "accept":
		if len(args) != 2 {
			return LifecycleCommand{}, ErrUsage
		}
		return LifecycleCommand{Kind: CommandAccept, Target: args[1]}, nil
	case "deny":
		if len(args) != 2 {
			return LifecycleCommand{}, ErrUsage
		}
		return LifecycleCommand{Kind: CommandDeny, Target: args[1]}, nil
	case "cancel":
		if len(args) != 1 {
			return LifecycleCommand{}, ErrUsage
		}
		return LifecycleCommand{Kind: CommandCancel}, nil
	}
	if len(args) != 1 {
		return LifecycleCommand{}, ErrUsage
	}
	return LifecycleCommand{Kind: CommandPropose, Target: args[0]}, nil
}
