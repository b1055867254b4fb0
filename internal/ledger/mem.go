package ledger

import (
	"context"
	"sync"
)

// MemLedger is an in-memory Ledger used by the protocol tests. It mirrors
// the SQL semantics: updates against unknown cases are silent no-ops, and
// archived rows are append-only snapshots.
type MemLedger struct {
	mu      sync.Mutex
	rows    map[string]*Row
	history []Row
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{rows: make(map[string]*Row)}
}

func (m *MemLedger) RegisterCase(_ context.Context, caseID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[caseID]; ok {
		r.Total = total
		return nil
	}
	m.rows[caseID] = &Row{CaseID: caseID, Total: total}
	return nil
}

func (m *MemLedger) EnsureCase(_ context.Context, caseID string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[caseID]; !ok {
		m.rows[caseID] = &Row{CaseID: caseID, Total: total}
	}
	return nil
}

func (m *MemLedger) IncrementProcessed(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[caseID]; ok {
		r.Processed++
	}
	return nil
}

func (m *MemLedger) IncrementUnmerged(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[caseID]; ok {
		r.Unmerged++
	}
	return nil
}

func (m *MemLedger) SetUnprocessedCount(_ context.Context, caseID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[caseID]; ok {
		r.Unprocessed = n
	}
	return nil
}

func (m *MemLedger) Cases(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cases := make([]string, 0, len(m.rows))
	for id := range m.rows {
		cases = append(cases, id)
	}
	return cases, nil
}

func (m *MemLedger) ResolvedCases(_ context.Context) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []Row
	for _, r := range m.rows {
		if r.Resolved() {
			rows = append(rows, *r)
		}
	}
	return rows, nil
}

func (m *MemLedger) Archive(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[caseID]; ok {
		m.history = append(m.history, *r)
	}
	return nil
}

func (m *MemLedger) Delete(_ context.Context, caseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, caseID)
	return nil
}

func (m *MemLedger) Empty(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows) == 0, nil
}

// Snapshot is a test convenience returning the current row for a case.
func (m *MemLedger) Snapshot(caseID string) (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[caseID]
	if !ok {
		return Row{}, false
	}
	return *r, true
}

// Archived is a test convenience returning the history snapshots.
func (m *MemLedger) Archived() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Row(nil), m.history...)
}
