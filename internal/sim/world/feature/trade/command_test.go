package trade

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		text   string
		kind   CommandKind
		target string
		err    bool
	}{
		{text: "trade Bob", kind: CommandPropose, target: "Bob"},
		{text: "/trade bob", kind: CommandPropose, target: "bob"},
		{text: "trade accept alice", kind: CommandAccept, target: "alice"},
		{text: "TRADE Deny alice", kind: CommandDeny, target: "alice"},
		{text: "trade cancel", kind: CommandCancel},
		{text: "balance", kind: CommandBalance},
		{text: "", err: true},
		{text: "trade", err: true},
		{text: "trade accept", err: true},
		{text: "trade deny a b", err: true},
		{text: "trade cancel now", err: true},
		{text: "trade bob alice", err: true},
		{text: "sell bob", err: true},
	}
	for _, tc := range cases {
		got, err := ParseCommand(tc.text)
		if tc.err {
			if !errors.Is(err, ErrUsage) {
				t.Fatalf("%q: err=%v want usage", tc.text, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.text, err)
		}
		if got.Kind != tc.kind || got.Target != tc.target {
			t.Fatalf("%q: got %+v", tc.text, got)
		}
	}
}
