package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"tradepost.ai/internal/sim/world"
)

// Reader queries an index written by SQLiteIndex, usually from another
// process while the server keeps writing.
type Reader struct {
	db *sql.DB
}

type TradeRow struct {
	SessionID   string `json:"session_id"`
	StartedTick uint64 `json:"started_tick"`
	EndedTick   uint64 `json:"ended_tick,omitempty"`
	PlayerOne   string `json:"player_one"`
	PlayerTwo   string `json:"player_two"`
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason,omitempty"`
	OfferOne    int64  `json:"offer_one"`
	OfferTwo    int64  `json:"offer_two"`
}

type SnapshotRow struct {
	Tick   uint64 `json:"tick"`
	Path   string `json:"path"`
	Agents int    `json:"agents"`
	Ground int    `json:"ground"`
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// Trades lists the most recent sessions, newest first. An empty agent lists
// every session.
func (r *Reader) Trades(ctx context.Context, agent string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, started_tick, COALESCE(ended_tick,0), player_one, player_two,
		       outcome, COALESCE(reason,''), offer_one, offer_two
		FROM trades
		WHERE ?='' OR player_one=? OR player_two=?
		ORDER BY started_tick DESC, session_id DESC
		LIMIT ?`, agent, agent, agent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRow
	for rows.Next() {
		var t TradeRow
		var started, ended int64
		if err := rows.Scan(&t.SessionID, &started, &ended, &t.PlayerOne, &t.PlayerTwo,
			&t.Outcome, &t.Reason, &t.OfferOne, &t.OfferTwo); err != nil {
			return nil, err
		}
		t.StartedTick, t.EndedTick = uint64(started), uint64(ended)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Audits returns every audit entry recorded for a session in log order.
func (r *Reader) Audits(ctx context.Context, sessionID string) ([]world.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT raw_json FROM audits WHERE session_id=? ORDER BY tick, seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []world.AuditEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e world.AuditEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Reader) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tick, path, agents, ground FROM snapshots ORDER BY tick`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotRow
	for rows.Next() {
		var s SnapshotRow
		var tick int64
		if err := rows.Scan(&tick, &s.Path, &s.Agents, &s.Ground); err != nil {
			return nil, err
		}
		s.Tick = uint64(tick)
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastTick is the highest indexed tick and its digest.
func (r *Reader) LastTick(ctx context.Context) (uint64, string, error) {
	var tick int64
	var digest string
	err := r.db.QueryRowContext(ctx, `SELECT tick, digest FROM ticks ORDER BY tick DESC LIMIT 1`).Scan(&tick, &digest)
	if err == sql.ErrNoRows {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return uint64(tick), digest, nil
}
