package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tradepost.ai/internal/ledger"
	"tradepost.ai/internal/sim/world"
)

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "audit")
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{
		filepath.Join(dir, "audit-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "audit-2026-03-01-11.jsonl.zst"),
	}
	if len(files) != 2 || files[0] != want[0] || files[1] != want[1] {
		t.Fatalf("files=%v want %v", files, want)
	}
}

func TestAuditLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	entries := []world.AuditEntry{
		{Tick: 3, Actor: "alice", Action: "TRADE_STARTED", SessionID: "S1"},
		{Tick: 9, Actor: "alice", Action: "TRADE_DONE", SessionID: "S1", Details: map[string]any{"offer": 10}},
	}
	for _, e := range entries {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// Reopen within the same hour appends a second frame to the same file.
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.WriteAudit(world.AuditEntry{Tick: 12, Action: "TRADE_CANCELLED", SessionID: "S2"}); err != nil {
		t.Fatalf("write after reopen: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "audit"))
	if err != nil || len(files) == 0 {
		t.Fatalf("list: files=%v err=%v", files, err)
	}
	var got []world.AuditEntry
	for _, f := range files {
		err := ReadLines(f, func(line []byte) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			got = append(got, e)
			return nil
		})
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 3 {
		t.Fatalf("entries=%d want 3", len(got))
	}
	if got[1].Action != "TRADE_DONE" || got[2].SessionID != "S2" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestLedgerLogger_ImplementsSink(t *testing.T) {
	dir := t.TempDir()
	l := NewLedgerLogger(dir)
	mem := ledger.NewMemory(l)
	mem.EnsureAccount("bob", 10)
	mem.Withdraw("bob", 4, ledger.ReasonTradePay)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, _ := ListFiles(filepath.Join(dir, "ledger"))
	n := 0
	for _, f := range files {
		_ = ReadLines(f, func(line []byte) error {
			var e ledger.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			if e.Account != "bob" {
				t.Fatalf("account=%q", e.Account)
			}
			n++
			return nil
		})
	}
	if n != 2 {
		t.Fatalf("ledger lines=%d want 2", n)
	}
}
