package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tradepost.ai/internal/persistence/snapshot"
	"tradepost.ai/internal/sim/world"
)

// Trade outcomes stored in trades.outcome.
const (
	OutcomeOpen      = "OPEN"
	OutcomeCommitted = "COMMITTED"
	OutcomeCancelled = "CANCELLED"
)

// SQLiteIndex is a queryable copy of the tick and audit logs. Writes are
// queued and applied by a single goroutine in batched transactions; the
// JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     world.TickLogEntry
	audit    world.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick   uint64
	Path   string
	Agents int
	Ground int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Sized for bursts of audits when many sessions settle in one tick.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	// WAL lets cmd/admin read while the server is writing.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			at TEXT NOT NULL,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			expired INTEGER NOT NULL,
			imported INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			session_id TEXT NOT NULL,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_session ON audits(session_id, tick, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_actor_tick ON audits(actor, tick);`,
		`CREATE TABLE IF NOT EXISTS trades (
			session_id TEXT PRIMARY KEY,
			started_tick INTEGER NOT NULL,
			ended_tick INTEGER,
			player_one TEXT NOT NULL,
			player_two TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT,
			offer_one INTEGER NOT NULL DEFAULT 0,
			offer_two INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_one ON trades(player_one, started_tick);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_two ON trades(player_two, started_tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			agents INTEGER NOT NULL,
			ground INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many writes were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:   snap.Header.Tick,
		Path:   path,
		Agents: len(snap.Agents),
		Ground: len(snap.Ground),
	}})
}

type statements struct {
	tick, audit, tradeStart, tradeDone, tradeCancel, snapshot *sql.Stmt
}

func (s *SQLiteIndex) prepare() (*statements, error) {
	var st statements
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&st.tick, `INSERT OR REPLACE INTO ticks(tick,at,digest,joins,leaves,actions,expired,imported,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`},
		{&st.audit, `INSERT OR REPLACE INTO audits(tick,seq,actor,action,session_id,reason,raw_json) VALUES(?,?,?,?,?,?,?)`},
		{&st.tradeStart, `INSERT OR REPLACE INTO trades(session_id,started_tick,player_one,player_two,outcome) VALUES(?,?,?,?,'` + OutcomeOpen + `')`},
		{&st.tradeDone, `UPDATE trades SET ended_tick=?, outcome='` + OutcomeCommitted + `', offer_one=?, offer_two=? WHERE session_id=?`},
		{&st.tradeCancel, `UPDATE trades SET ended_tick=?, outcome='` + OutcomeCancelled + `', reason=? WHERE session_id=?`},
		{&st.snapshot, `INSERT OR REPLACE INTO snapshots(tick,path,agents,ground) VALUES(?,?,?,?)`},
	} {
		stmt, err := s.db.Prepare(p.query)
		if err != nil {
			st.close()
			return nil, err
		}
		*p.dst = stmt
	}
	return &st, nil
}

func (st *statements) close() {
	for _, stmt := range []*sql.Stmt{st.tick, st.audit, st.tradeStart, st.tradeDone, st.tradeCancel, st.snapshot} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	st, err := s.prepare()
	if err != nil {
		// Nothing can be written; drain so producers never block.
		for range s.ch {
			s.dropped.Add(1)
		}
		return
	}
	defer st.close()

	var (
		tx            *sql.Tx
		opCount       int
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}
	exec := func(stmt *sql.Stmt, args ...any) bool {
		if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	flush := time.NewTicker(commitMaxWait)
	defer flush.Stop()

	for {
		var r req
		select {
		case <-flush.C:
			commit()
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		begin()
		if tx == nil {
			s.dropped.Add(1)
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			raw, _ := json.Marshal(t)
			exec(st.tick,
				int64(t.Tick),
				t.At.UTC().Format(time.RFC3339Nano),
				t.Digest,
				len(t.Joins),
				len(t.Leaves),
				len(t.Actions),
				len(t.Expired),
				t.Imported,
				string(raw),
			)

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := json.Marshal(a)
			if !exec(st.audit, int64(a.Tick), seq, a.Actor, a.Action, a.SessionID, a.Reason, string(raw)) {
				continue
			}
			switch a.Action {
			case "TRADE_STARTED":
				exec(st.tradeStart, a.SessionID, int64(a.Tick), detailString(a.Details, "player_one"), detailString(a.Details, "player_two"))
			case "TRADE_DONE":
				exec(st.tradeDone, int64(a.Tick), detailInt(a.Details, "offer_one"), detailInt(a.Details, "offer_two"), a.SessionID)
			case "TRADE_CANCELLED":
				exec(st.tradeCancel, int64(a.Tick), a.Reason, a.SessionID)
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(st.snapshot, int64(sn.Tick), sn.Path, sn.Agents, sn.Ground)
		}
		if opCount >= commitEvery {
			commit()
		}
	}
}

func detailString(d map[string]any, key string) string {
	s, _ := d[key].(string)
	return s
}

// detailInt reads a number from audit details, which hold native ints in
// process and float64 after a JSON round trip.
func detailInt(d map[string]any, key string) int64 {
	switch v := d[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	default:
		return 0
	}
}
