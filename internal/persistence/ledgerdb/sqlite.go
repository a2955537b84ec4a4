package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tradepost.ai/internal/ledger"
)

// SQLiteLedger is a durable ledger. All mutations run in their own transaction
// on a single connection, so each call is atomic and calls are serialized.
type SQLiteLedger struct {
	db   *sql.DB
	log  *log.Logger
	once sync.Once
	now  func() time.Time
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteLedger, error) {
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
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[ledgerdb] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &SQLiteLedger{db: db, log: logger, now: time.Now}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		// Balances are the source of truth here, not a secondary index.
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS balances (
			account TEXT PRIMARY KEY,
			balance INTEGER NOT NULL CHECK (balance >= 0),
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ledger_audit (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			account TEXT NOT NULL,
			delta INTEGER NOT NULL,
			balance INTEGER NOT NULL,
			reason TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_audit_account ON ledger_audit(account, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteLedger) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteLedger) Balance(account string) int64 {
	var bal int64
	err := s.db.QueryRow(`SELECT balance FROM balances WHERE account = ?`, account).Scan(&bal)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Printf("balance %s: %v", account, err)
		}
		return 0
	}
	return bal
}

func (s *SQLiteLedger) Has(account string, amount int64) bool {
	if amount <= 0 {
		return true
	}
	return s.Balance(account) >= amount
}

func (s *SQLiteLedger) Deposit(account string, amount int64, reason string) bool {
	if account == "" || amount <= 0 {
		return false
	}
	err := s.mutate(account, amount, reason, func(tx *sql.Tx, at string) (int64, error) {
		var bal int64
		err := tx.QueryRow(
			`INSERT INTO balances(account,balance,updated_at) VALUES(?,?,?)
			 ON CONFLICT(account) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at
			 RETURNING balance`,
			account, amount, at,
		).Scan(&bal)
		return bal, err
	})
	if err != nil {
		s.log.Printf("deposit %s %d (%s): %v", account, amount, reason, err)
		return false
	}
	return true
}

func (s *SQLiteLedger) Withdraw(account string, amount int64, reason string) bool {
	if account == "" || amount <= 0 {
		return false
	}
	err := s.mutate(account, -amount, reason, func(tx *sql.Tx, at string) (int64, error) {
		var bal int64
		err := tx.QueryRow(
			`UPDATE balances SET balance = balance - ?, updated_at = ?
			 WHERE account = ? AND balance >= ?
			 RETURNING balance`,
			amount, at, account, amount,
		).Scan(&bal)
		return bal, err
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Printf("withdraw %s %d (%s): %v", account, amount, reason, err)
		}
		return false
	}
	return true
}

func (s *SQLiteLedger) EnsureAccount(account string, initial int64) bool {
	if account == "" {
		return false
	}
	if initial < 0 {
		initial = 0
	}
	created := false
	err := s.withTx(func(tx *sql.Tx) error {
		at := s.now().UTC().Format(time.RFC3339Nano)
		res, err := tx.Exec(`INSERT INTO balances(account,balance,updated_at) VALUES(?,?,?) ON CONFLICT(account) DO NOTHING`, account, initial, at)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		if created && initial > 0 {
			_, err = tx.Exec(`INSERT INTO ledger_audit(at,account,delta,balance,reason) VALUES(?,?,?,?,?)`,
				at, account, initial, initial, ledger.ReasonStartingBalance)
		}
		return err
	})
	if err != nil {
		s.log.Printf("ensure account %s: %v", account, err)
		return false
	}
	return created
}

// Accounts lists every account with its balance, ordered by name.
func (s *SQLiteLedger) Accounts(ctx context.Context) (map[string]int64, []string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account, balance FROM balances ORDER BY account`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	out := map[string]int64{}
	var order []string
	for rows.Next() {
		var (
			acct string
			bal  int64
		)
		if err := rows.Scan(&acct, &bal); err != nil {
			return nil, nil, err
		}
		out[acct] = bal
		order = append(order, acct)
	}
	return out, order, rows.Err()
}

// History returns the newest audit entries for account (all accounts if empty), newest first.
func (s *SQLiteLedger) History(ctx context.Context, account string, limit int) ([]ledger.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	q := `SELECT at, account, delta, balance, reason FROM ledger_audit`
	args := []any{}
	if account != "" {
		q += ` WHERE account = ?`
		args = append(args, account)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.AuditEntry
	for rows.Next() {
		var (
			e  ledger.AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.Account, &e.Delta, &e.Balance, &e.Reason); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteLedger) mutate(account string, delta int64, reason string, apply func(tx *sql.Tx, at string) (int64, error)) error {
	return s.withTx(func(tx *sql.Tx) error {
		at := s.now().UTC().Format(time.RFC3339Nano)
		bal, err := apply(tx, at)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO ledger_audit(at,account,delta,balance,reason) VALUES(?,?,?,?,?)`,
			at, account, delta, bal, reason)
		return err
	})
}

func (s *SQLiteLedger) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

var (
	_ ledger.Ledger   = (*SQLiteLedger)(nil)
	_ ledger.Accounts = (*SQLiteLedger)(nil)
)
