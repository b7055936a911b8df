// Package memory provides an in-process books.Store used by tests and local tooling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

type yearKey struct {
	propertyID int64
	year       int
}

type scopeKey struct {
	propertyID int64
	kind       books.StatementKind
}

type state struct {
	nextID         int64
	properties     map[int64]books.Property
	transactions   map[int64]books.Transaction
	mappings       []books.CategoryMapping
	types          map[int64]books.AmortizationType
	results        []books.AmortizationResult
	scopes         map[scopeKey]books.StatementScope
	incomeMappings []books.IncomeStatementMapping
	overrides      map[yearKey]books.IncomeStatementOverride
	sheetMappings  []books.BalanceSheetMapping
	loans          []books.LoanConfig
	payments       []books.LoanPayment
	prorata        map[int64]books.ProRataSetting
	planned        []books.PlannedAmount
	incomeLines    map[yearKey][]books.IncomeStatementLine
	sheetLines     map[yearKey][]books.BalanceSheetLine
}

// Store keeps every table in maps. WithTx snapshots the state and restores it
// when the callback fails, mirroring a rolled back transaction.
type Store struct {
	mu     sync.Mutex
	state  *state
	failOn map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		state: &state{
			properties:   make(map[int64]books.Property),
			transactions: make(map[int64]books.Transaction),
			types:        make(map[int64]books.AmortizationType),
			scopes:       make(map[scopeKey]books.StatementScope),
			overrides:    make(map[yearKey]books.IncomeStatementOverride),
			prorata:      make(map[int64]books.ProRataSetting),
			incomeLines:  make(map[yearKey][]books.IncomeStatementLine),
			sheetLines:   make(map[yearKey][]books.BalanceSheetLine),
		},
		failOn: make(map[string]error),
	}
}

// FailOn makes the named Tx method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, method)
		return
	}
	s.failOn[method] = err
}

// WithTx runs fn against a snapshot that is committed only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, books.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.state.clone()
	tx := &memTx{st: work, failOn: s.failOn}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (st *state) clone() *state {
	out := &state{
		nextID:         st.nextID,
		properties:     make(map[int64]books.Property, len(st.properties)),
		transactions:   make(map[int64]books.Transaction, len(st.transactions)),
		mappings:       append([]books.CategoryMapping(nil), st.mappings...),
		types:          make(map[int64]books.AmortizationType, len(st.types)),
		results:        append([]books.AmortizationResult(nil), st.results...),
		scopes:         make(map[scopeKey]books.StatementScope, len(st.scopes)),
		incomeMappings: append([]books.IncomeStatementMapping(nil), st.incomeMappings...),
		overrides:      make(map[yearKey]books.IncomeStatementOverride, len(st.overrides)),
		sheetMappings:  append([]books.BalanceSheetMapping(nil), st.sheetMappings...),
		loans:          append([]books.LoanConfig(nil), st.loans...),
		payments:       append([]books.LoanPayment(nil), st.payments...),
		prorata:        make(map[int64]books.ProRataSetting, len(st.prorata)),
		planned:        append([]books.PlannedAmount(nil), st.planned...),
		incomeLines:    make(map[yearKey][]books.IncomeStatementLine, len(st.incomeLines)),
		sheetLines:     make(map[yearKey][]books.BalanceSheetLine, len(st.sheetLines)),
	}
	for k, v := range st.properties {
		out.properties[k] = v
	}
	for k, v := range st.transactions {
		out.transactions[k] = v
	}
	for k, v := range st.types {
		out.types[k] = v
	}
	for k, v := range st.scopes {
		out.scopes[k] = v
	}
	for k, v := range st.overrides {
		out.overrides[k] = v
	}
	for k, v := range st.prorata {
		out.prorata[k] = v
	}
	for k, v := range st.incomeLines {
		out.incomeLines[k] = append([]books.IncomeStatementLine(nil), v...)
	}
	for k, v := range st.sheetLines {
		out.sheetLines[k] = append([]books.BalanceSheetLine(nil), v...)
	}
	return out
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// AddProperty seeds a property and returns its id.
func (s *Store) AddProperty(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.state.id()
	s.state.properties[id] = books.Property{ID: id, Name: name, CreatedAt: time.Now()}
	return id
}

// AddTransaction seeds a raw transaction without touching running balances.
func (s *Store) AddTransaction(t books.Transaction) books.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.state.id()
	}
	s.state.transactions[t.ID] = t
	return t
}

// Transaction returns the committed copy of a transaction.
func (s *Store) Transaction(id int64) (books.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.transactions[id]
	return t, ok
}

// AddCategoryMapping seeds a classification mapping.
func (s *Store) AddCategoryMapping(m books.CategoryMapping) books.CategoryMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.state.id()
	s.state.mappings = append(s.state.mappings, m)
	return m
}

// AddAmortizationType seeds an amortization type.
func (s *Store) AddAmortizationType(t books.AmortizationType) books.AmortizationType {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.state.id()
	s.state.types[t.ID] = t
	return t
}

// UpdateAmortizationType replaces a seeded amortization type.
func (s *Store) UpdateAmortizationType(t books.AmortizationType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.types[t.ID] = t
}

// AmortizationResults returns committed amortization rows ordered by transaction and year.
func (s *Store) AmortizationResults(propertyID int64) []books.AmortizationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]books.AmortizationResult, 0)
	for _, r := range s.state.results {
		if r.PropertyID == propertyID {
			out = append(out, r)
		}
	}
	sortResults(out)
	return out
}

// SetScope seeds the level3 scope of a statement.
func (s *Store) SetScope(propertyID int64, kind books.StatementKind, level3 ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.scopes[scopeKey{propertyID, kind}] = books.StatementScope{PropertyID: propertyID, Statement: kind, Level3: level3}
}

// AddIncomeStatementMapping seeds an income statement category.
func (s *Store) AddIncomeStatementMapping(m books.IncomeStatementMapping) books.IncomeStatementMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.state.id()
	s.state.incomeMappings = append(s.state.incomeMappings, m)
	return m
}

// AddBalanceSheetMapping seeds a balance sheet category.
func (s *Store) AddBalanceSheetMapping(m books.BalanceSheetMapping) books.BalanceSheetMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.state.id()
	s.state.sheetMappings = append(s.state.sheetMappings, m)
	return m
}

// AddLoan seeds a loan configuration.
func (s *Store) AddLoan(l books.LoanConfig) books.LoanConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.state.id()
	s.state.loans = append(s.state.loans, l)
	return l
}

// AddLoanPayment seeds a realized loan payment.
func (s *Store) AddLoanPayment(p books.LoanPayment) books.LoanPayment {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.state.id()
	s.state.payments = append(s.state.payments, p)
	return p
}

// SetProRata seeds the overlay toggle.
func (s *Store) SetProRata(propertyID int64, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.prorata[propertyID] = books.ProRataSetting{PropertyID: propertyID, Enabled: enabled}
}

// AddPlannedAmount seeds a forecast value.
func (s *Store) AddPlannedAmount(p books.PlannedAmount) books.PlannedAmount {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.state.id()
	s.state.planned = append(s.state.planned, p)
	return p
}

// IncomeStatementLines returns committed cached lines.
func (s *Store) IncomeStatementLines(propertyID int64, year int) []books.IncomeStatementLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]books.IncomeStatementLine(nil), s.state.incomeLines[yearKey{propertyID, year}]...)
}

// BalanceSheetLines returns committed cached lines.
func (s *Store) BalanceSheetLines(propertyID int64, year int) []books.BalanceSheetLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]books.BalanceSheetLine(nil), s.state.sheetLines[yearKey{propertyID, year}]...)
}

func sortTransactions(txs []books.Transaction) {
	sort.Slice(txs, func(i, j int) bool { return txs[i].Before(txs[j]) })
}

func sortResults(rows []books.AmortizationResult) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TransactionID != rows[j].TransactionID {
			return rows[i].TransactionID < rows[j].TransactionID
		}
		return rows[i].Year < rows[j].Year
	})
}

func notFound(sentinel error, id int64) error {
	return fmt.Errorf("%w: id %d", sentinel, id)
}
