package ledger

import (
	"sort"
	"sync"
	"time"
)

// Memory is a mutex-guarded in-memory ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	sink     AuditSink
	now      func() time.Time
}

func NewMemory(sink AuditSink) *Memory {
	return &Memory{
		balances: map[string]int64{},
		sink:     sink,
		now:      time.Now,
	}
}

func (m *Memory) Balance(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

func (m *Memory) Has(account string, amount int64) bool {
	if amount <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account] >= amount
}

func (m *Memory) Deposit(account string, amount int64, reason string) bool {
	if account == "" || amount <= 0 {
		return false
	}
	m.mu.Lock()
	m.balances[account] += amount
	bal := m.balances[account]
	m.mu.Unlock()

	m.audit(account, amount, bal, reason)
	return true
}

func (m *Memory) Withdraw(account string, amount int64, reason string) bool {
	if account == "" || amount <= 0 {
		return false
	}
	m.mu.Lock()
	bal := m.balances[account]
	if bal < amount {
		m.mu.Unlock()
		return false
	}
	bal -= amount
	m.balances[account] = bal
	m.mu.Unlock()

	m.audit(account, -amount, bal, reason)
	return true
}

func (m *Memory) EnsureAccount(account string, initial int64) bool {
	if account == "" {
		return false
	}
	m.mu.Lock()
	if _, ok := m.balances[account]; ok {
		m.mu.Unlock()
		return false
	}
	if initial < 0 {
		initial = 0
	}
	m.balances[account] = initial
	m.mu.Unlock()

	if initial > 0 {
		m.audit(account, initial, initial, ReasonStartingBalance)
	}
	return true
}

// Accounts returns the known account names in sorted order.
func (m *Memory) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.balances))
	for k := range m.balances {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) audit(account string, delta, balance int64, reason string) {
	if m.sink == nil {
		return
	}
	_ = m.sink.WriteLedger(AuditEntry{
		At:      m.now().UTC(),
		Account: account,
		Delta:   delta,
		Balance: balance,
		Reason:  reason,
	})
}
