// Package store provides in-memory implementations of the payroll store interfaces.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements RecordStore, RateTxStore, EmployeeDirectory and AuditLog.
type Memory struct {
	mu        sync.RWMutex
	records   map[payroll.RecordID]payroll.PayrollRecord
	brackets  map[payroll.BracketID]payroll.TaxBracket
	rates     map[payroll.RateID]payroll.SocialSecurityRate
	employees map[payroll.EmployeeID]payroll.Employee
	audit     map[payroll.RecordID][]payroll.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[payroll.RecordID]payroll.PayrollRecord),
		brackets:  make(map[payroll.BracketID]payroll.TaxBracket),
		rates:     make(map[payroll.RateID]payroll.SocialSecurityRate),
		employees: make(map[payroll.EmployeeID]payroll.Employee),
		audit:     make(map[payroll.RecordID][]payroll.AuditEntry),
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) InsertRecord(_ context.Context, r payroll.PayrollRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[r.ID]; ok {
		return payroll.ErrDuplicate
	}
	for _, existing := range m.records {
		if existing.EmployeeID == r.EmployeeID && existing.Period == r.Period {
			return payroll.ErrDuplicate
		}
	}
	m.records[r.ID] = r
	return nil
}

func (m *Memory) UpdateRecord(_ context.Context, r payroll.PayrollRecord, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[r.ID]
	if !ok {
		return payroll.ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return &payroll.ConcurrencyError{Entity: "payroll record", ID: string(r.ID), Expected: expectedVersion, Actual: current.Version}
	}
	r.Version = expectedVersion + 1
	m.records[r.ID] = r
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, id payroll.RecordID, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.records[id]
	if !ok {
		return payroll.ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return &payroll.ConcurrencyError{Entity: "payroll record", ID: string(id), Expected: expectedVersion, Actual: current.Version}
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id payroll.RecordID) (payroll.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return payroll.PayrollRecord{}, payroll.ErrRecordNotFound
	}
	return r, nil
}

func (m *Memory) SelectRecords(_ context.Context, filter payroll.RecordFilter) ([]payroll.PayrollRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []payroll.PayrollRecord{}
	for _, r := range m.records {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Period != result[j].Period {
			return result[i].Period.Before(result[j].Period)
		}
		if result[i].EmployeeID != result[j].EmployeeID {
			return result[i].EmployeeID < result[j].EmployeeID
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// =============================================================================
// RATES
// =============================================================================

func (m *Memory) SaveBracket(_ context.Context, b payroll.TaxBracket, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBracketLocked(b, expectedVersion)
}

func (m *Memory) saveBracketLocked(b payroll.TaxBracket, expectedVersion int64) error {
	current, ok := m.brackets[b.ID]
	actual := int64(0)
	if ok {
		actual = current.Version
	}
	if actual != expectedVersion {
		return &payroll.ConcurrencyError{Entity: "tax bracket", ID: string(b.ID), Expected: expectedVersion, Actual: actual}
	}
	b.Version = expectedVersion + 1
	m.brackets[b.ID] = b
	return nil
}

func (m *Memory) DeleteBracket(_ context.Context, id payroll.BracketID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBracketLocked(id)
}

func (m *Memory) deleteBracketLocked(id payroll.BracketID) error {
	if _, ok := m.brackets[id]; !ok {
		return payroll.ErrBracketNotFound
	}
	delete(m.brackets, id)
	return nil
}

func (m *Memory) GetBracket(_ context.Context, id payroll.BracketID) (payroll.TaxBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBracketLocked(id)
}

func (m *Memory) getBracketLocked(id payroll.BracketID) (payroll.TaxBracket, error) {
	b, ok := m.brackets[id]
	if !ok {
		return payroll.TaxBracket{}, payroll.ErrBracketNotFound
	}
	return b, nil
}

func (m *Memory) SelectBrackets(_ context.Context, filter payroll.RateFilter) ([]payroll.TaxBracket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectBracketsLocked(filter), nil
}

func (m *Memory) selectBracketsLocked(filter payroll.RateFilter) []payroll.TaxBracket {
	result := []payroll.TaxBracket{}
	for _, b := range m.brackets {
		if filter.MatchesBracket(b) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Country != b.Country {
			return a.Country < b.Country
		}
		if !a.EffectiveDate.Equal(b.EffectiveDate) {
			return a.EffectiveDate.Before(b.EffectiveDate)
		}
		return a.MinAmount.LessThan(b.MinAmount)
	})
	return result
}

func (m *Memory) SaveSocialSecurityRate(_ context.Context, r payroll.SocialSecurityRate, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveRateLocked(r, expectedVersion)
}

func (m *Memory) saveRateLocked(r payroll.SocialSecurityRate, expectedVersion int64) error {
	current, ok := m.rates[r.ID]
	actual := int64(0)
	if ok {
		actual = current.Version
	}
	if actual != expectedVersion {
		return &payroll.ConcurrencyError{Entity: "social security rate", ID: string(r.ID), Expected: expectedVersion, Actual: actual}
	}
	r.Version = expectedVersion + 1
	m.rates[r.ID] = r
	return nil
}

func (m *Memory) DeleteSocialSecurityRate(_ context.Context, id payroll.RateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRateLocked(id)
}

func (m *Memory) deleteRateLocked(id payroll.RateID) error {
	if _, ok := m.rates[id]; !ok {
		return payroll.ErrRateNotFound
	}
	delete(m.rates, id)
	return nil
}

func (m *Memory) GetSocialSecurityRate(_ context.Context, id payroll.RateID) (payroll.SocialSecurityRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRateLocked(id)
}

func (m *Memory) getRateLocked(id payroll.RateID) (payroll.SocialSecurityRate, error) {
	r, ok := m.rates[id]
	if !ok {
		return payroll.SocialSecurityRate{}, payroll.ErrRateNotFound
	}
	return r, nil
}

func (m *Memory) SelectSocialSecurityRates(_ context.Context, filter payroll.RateFilter) ([]payroll.SocialSecurityRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectRatesLocked(filter), nil
}

func (m *Memory) selectRatesLocked(filter payroll.RateFilter) []payroll.SocialSecurityRate {
	result := []payroll.SocialSecurityRate{}
	for _, r := range m.rates {
		if filter.MatchesRate(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Country != result[j].Country {
			return result[i].Country < result[j].Country
		}
		return result[i].EffectiveDate.Before(result[j].EffectiveDate)
	})
	return result
}

// =============================================================================
// TRANSACTIONS - snapshot + rollback on error
// =============================================================================

// WithTx runs fn with exclusive access. If fn fails, rate tables are
// restored to their state before the call.
func (m *Memory) WithTx(_ context.Context, fn func(payroll.RateStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	brackets map[payroll.BracketID]payroll.TaxBracket
	rates    map[payroll.RateID]payroll.SocialSecurityRate
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		brackets: make(map[payroll.BracketID]payroll.TaxBracket, len(m.brackets)),
		rates:    make(map[payroll.RateID]payroll.SocialSecurityRate, len(m.rates)),
	}
	for k, v := range m.brackets {
		s.brackets[k] = v
	}
	for k, v := range m.rates {
		s.rates[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.brackets = s.brackets
	m.rates = s.rates
}

// txView operates on the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) SaveBracket(_ context.Context, b payroll.TaxBracket, expectedVersion int64) error {
	return tv.parent.saveBracketLocked(b, expectedVersion)
}

func (tv *txView) DeleteBracket(_ context.Context, id payroll.BracketID) error {
	return tv.parent.deleteBracketLocked(id)
}

func (tv *txView) GetBracket(_ context.Context, id payroll.BracketID) (payroll.TaxBracket, error) {
	return tv.parent.getBracketLocked(id)
}

func (tv *txView) SelectBrackets(_ context.Context, filter payroll.RateFilter) ([]payroll.TaxBracket, error) {
	return tv.parent.selectBracketsLocked(filter), nil
}

func (tv *txView) SaveSocialSecurityRate(_ context.Context, r payroll.SocialSecurityRate, expectedVersion int64) error {
	return tv.parent.saveRateLocked(r, expectedVersion)
}

func (tv *txView) DeleteSocialSecurityRate(_ context.Context, id payroll.RateID) error {
	return tv.parent.deleteRateLocked(id)
}

func (tv *txView) GetSocialSecurityRate(_ context.Context, id payroll.RateID) (payroll.SocialSecurityRate, error) {
	return tv.parent.getRateLocked(id)
}

func (tv *txView) SelectSocialSecurityRates(_ context.Context, filter payroll.RateFilter) ([]payroll.SocialSecurityRate, error) {
	return tv.parent.selectRatesLocked(filter), nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, emp payroll.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
	return nil
}

// Resolve implements payroll.EmployeeDirectory.
func (m *Memory) Resolve(_ context.Context, id payroll.EmployeeID) (payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	emp, ok := m.employees[id]
	if !ok {
		return payroll.Employee{}, payroll.ErrEmployeeNotFound
	}
	return emp, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]payroll.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payroll.Employee, 0, len(m.employees))
	for _, emp := range m.employees {
		result = append(result, emp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, entry payroll.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[entry.RecordID] = append(m.audit[entry.RecordID], entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, recordID payroll.RecordID) ([]payroll.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payroll.AuditEntry, len(m.audit[recordID]))
	copy(result, m.audit[recordID])
	return result, nil
}
