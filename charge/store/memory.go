// Package store provides in-memory implementations of the charge engine's
// collaborator contracts, used for tests and local development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/charge-engine/charge"
)

// =============================================================================
// MEMORY - In-memory collaborator fixture
// =============================================================================

// Memory implements JournalReader, LoanReader, ProductCatalog and RateStore
// over plain maps. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	postings  []charge.LedgerPosting
	loans     map[charge.LoanID]charge.LoanRecord
	products  map[charge.ProductID]bool
	rates     map[rateKey]decimal.Decimal
	schedules map[charge.LoanID][]charge.Installment
}

type rateKey struct {
	Kind   charge.PeriodKind
	Year   int
	Header string
}

func NewMemory() *Memory {
	return &Memory{
		loans:     make(map[charge.LoanID]charge.LoanRecord),
		products:  make(map[charge.ProductID]bool),
		rates:     make(map[rateKey]decimal.Decimal),
		schedules: make(map[charge.LoanID][]charge.Installment),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

func (m *Memory) AddPosting(p charge.LedgerPosting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postings = append(m.postings, p)
}

func (m *Memory) AddLoan(l charge.LoanRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[l.ID] = l
}

// SetServiceChargeProduct flags a product as carrying the service charge fee,
// which classifies its loans as demand loans.
func (m *Memory) SetServiceChargeProduct(id charge.ProductID, applicable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = applicable
}

// =============================================================================
// JOURNAL READER
// =============================================================================

func (m *Memory) LedgerPostings(_ context.Context, from, to charge.TimePoint) ([]charge.LedgerPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []charge.LedgerPosting
	for _, p := range m.postings {
		if p.Date.AfterOrEqual(from) && p.Date.BeforeOrEqual(to) {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// LOAN READER
// =============================================================================

func (m *Memory) LoansActiveIn(_ context.Context, _, to charge.TimePoint) ([]charge.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []charge.LoanRecord
	for _, l := range m.loans {
		if l.DisbursementDate.BeforeOrEqual(to) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Loan(_ context.Context, id charge.LoanID) (charge.LoanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.loans[id]
	if !ok {
		return charge.LoanRecord{}, charge.ErrLoanNotFound
	}
	return l, nil
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

func (m *Memory) IsServiceChargeProduct(_ context.Context, id charge.ProductID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.products[id], nil
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

func (m *Memory) Installments(_ context.Context, id charge.LoanID) ([]charge.Installment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]charge.Installment, len(m.schedules[id]))
	copy(out, m.schedules[id])
	return out, nil
}

func (m *Memory) SaveInstallments(_ context.Context, id charge.LoanID, installments []charge.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := make([]charge.Installment, len(installments))
	copy(saved, installments)
	m.schedules[id] = saved
	return nil
}

// =============================================================================
// RATE STORE
// =============================================================================

func (m *Memory) Get(_ context.Context, kind charge.PeriodKind, year int, header string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	amount, ok := m.rates[rateKey{Kind: kind, Year: year, Header: header}]
	if !ok {
		return decimal.Zero, charge.ErrRateNotFound
	}
	return amount, nil
}

func (m *Memory) Put(_ context.Context, kind charge.PeriodKind, year int, header string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rateKey{Kind: kind, Year: year, Header: header}] = amount
	return nil
}
