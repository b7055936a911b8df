package memory

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

type memTx struct {
	st     *state
	failOn map[string]error
}

var _ books.Tx = (*memTx)(nil)

func (t *memTx) fail(method string) error {
	return t.failOn[method]
}

func (t *memTx) GetProperty(ctx context.Context, id int64) (books.Property, error) {
	if err := t.fail("GetProperty"); err != nil {
		return books.Property{}, err
	}
	p, ok := t.st.properties[id]
	if !ok {
		return books.Property{}, notFound(books.ErrPropertyNotFound, id)
	}
	return p, nil
}

func (t *memTx) ListProperties(ctx context.Context) ([]books.Property, error) {
	if err := t.fail("ListProperties"); err != nil {
		return nil, err
	}
	out := make([]books.Property, 0, len(t.st.properties))
	for _, p := range t.st.properties {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) GetTransaction(ctx context.Context, id int64) (books.Transaction, error) {
	if err := t.fail("GetTransaction"); err != nil {
		return books.Transaction{}, err
	}
	tx, ok := t.st.transactions[id]
	if !ok {
		return books.Transaction{}, notFound(books.ErrTransactionNotFound, id)
	}
	return tx, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, tx books.Transaction) (books.Transaction, error) {
	if err := t.fail("InsertTransaction"); err != nil {
		return books.Transaction{}, err
	}
	tx.ID = t.st.id()
	now := time.Now()
	tx.CreatedAt, tx.UpdatedAt = now, now
	t.st.transactions[tx.ID] = tx
	return tx, nil
}

func (t *memTx) UpdateTransaction(ctx context.Context, tx books.Transaction) error {
	if err := t.fail("UpdateTransaction"); err != nil {
		return err
	}
	if _, ok := t.st.transactions[tx.ID]; !ok {
		return notFound(books.ErrTransactionNotFound, tx.ID)
	}
	tx.UpdatedAt = time.Now()
	t.st.transactions[tx.ID] = tx
	return nil
}

func (t *memTx) DeleteTransaction(ctx context.Context, id int64) error {
	if err := t.fail("DeleteTransaction"); err != nil {
		return err
	}
	if _, ok := t.st.transactions[id]; !ok {
		return notFound(books.ErrTransactionNotFound, id)
	}
	delete(t.st.transactions, id)
	return nil
}

func (t *memTx) ListTransactions(ctx context.Context, filter books.TransactionFilter) ([]books.Transaction, error) {
	if err := t.fail("ListTransactions"); err != nil {
		return nil, err
	}
	out := make([]books.Transaction, 0)
	for _, tx := range t.st.transactions {
		if tx.PropertyID != filter.PropertyID {
			continue
		}
		if filter.From != nil && tx.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.Date.After(*filter.To) {
			continue
		}
		if filter.ClassifiedOnly && tx.Classification == nil {
			continue
		}
		out = append(out, tx)
	}
	sortTransactions(out)
	return out, nil
}

func (t *memTx) LastTransactionBefore(ctx context.Context, propertyID int64, date time.Time) (*books.Transaction, error) {
	if err := t.fail("LastTransactionBefore"); err != nil {
		return nil, err
	}
	var last *books.Transaction
	for _, tx := range t.st.transactions {
		if tx.PropertyID != propertyID || !tx.Date.Before(date) {
			continue
		}
		if last == nil || last.Before(tx) {
			cp := tx
			last = &cp
		}
	}
	return last, nil
}

func (t *memTx) FirstTransactionDate(ctx context.Context, propertyID int64) (*time.Time, error) {
	if err := t.fail("FirstTransactionDate"); err != nil {
		return nil, err
	}
	var first *time.Time
	for _, tx := range t.st.transactions {
		if tx.PropertyID != propertyID {
			continue
		}
		if first == nil || tx.Date.Before(*first) {
			d := tx.Date
			first = &d
		}
	}
	return first, nil
}

func (t *memTx) UpdateRunningBalances(ctx context.Context, updates []books.BalanceUpdate) error {
	if err := t.fail("UpdateRunningBalances"); err != nil {
		return err
	}
	for _, u := range updates {
		tx, ok := t.st.transactions[u.TransactionID]
		if !ok {
			return notFound(books.ErrTransactionNotFound, u.TransactionID)
		}
		tx.RunningBalance = u.RunningBalance
		t.st.transactions[u.TransactionID] = tx
	}
	return nil
}

func (t *memTx) UpdateClassification(ctx context.Context, transactionID int64, c *books.Classification) error {
	if err := t.fail("UpdateClassification"); err != nil {
		return err
	}
	tx, ok := t.st.transactions[transactionID]
	if !ok {
		return notFound(books.ErrTransactionNotFound, transactionID)
	}
	tx.Classification = c
	t.st.transactions[transactionID] = tx
	return nil
}

func (t *memTx) ListCategoryMappings(ctx context.Context, propertyID int64) ([]books.CategoryMapping, error) {
	if err := t.fail("ListCategoryMappings"); err != nil {
		return nil, err
	}
	out := make([]books.CategoryMapping, 0)
	for _, m := range t.st.mappings {
		if m.PropertyID == propertyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *memTx) GetAmortizationType(ctx context.Context, id int64) (books.AmortizationType, error) {
	if err := t.fail("GetAmortizationType"); err != nil {
		return books.AmortizationType{}, err
	}
	typ, ok := t.st.types[id]
	if !ok {
		return books.AmortizationType{}, notFound(books.ErrAmortizationTypeNotFound, id)
	}
	return typ, nil
}

func (t *memTx) ListAmortizationTypes(ctx context.Context, propertyID int64) ([]books.AmortizationType, error) {
	if err := t.fail("ListAmortizationTypes"); err != nil {
		return nil, err
	}
	out := make([]books.AmortizationType, 0)
	for _, typ := range t.st.types {
		if typ.PropertyID == propertyID {
			out = append(out, typ)
		}
	}
	sortTypes(out)
	return out, nil
}

func (t *memTx) ListAmortizationResults(ctx context.Context, filter books.AmortizationFilter) ([]books.AmortizationResult, error) {
	if err := t.fail("ListAmortizationResults"); err != nil {
		return nil, err
	}
	out := make([]books.AmortizationResult, 0)
	for _, r := range t.st.results {
		if filter.PropertyID != 0 && r.PropertyID != filter.PropertyID {
			continue
		}
		if filter.TransactionID != 0 && r.TransactionID != filter.TransactionID {
			continue
		}
		if filter.TypeID != 0 && r.TypeID != filter.TypeID {
			continue
		}
		if filter.Year != 0 && r.Year != filter.Year {
			continue
		}
		if filter.MaxYear != 0 && r.Year > filter.MaxYear {
			continue
		}
		out = append(out, r)
	}
	sortResults(out)
	return out, nil
}

func (t *memTx) InsertAmortizationResults(ctx context.Context, rows []books.AmortizationResult) error {
	if err := t.fail("InsertAmortizationResults"); err != nil {
		return err
	}
	for _, r := range rows {
		r.ID = t.st.id()
		t.st.results = append(t.st.results, r)
	}
	return nil
}

func (t *memTx) DeleteAmortizationResults(ctx context.Context, transactionID int64) (int64, error) {
	if err := t.fail("DeleteAmortizationResults"); err != nil {
		return 0, err
	}
	return t.deleteResults(func(r books.AmortizationResult) bool { return r.TransactionID == transactionID }), nil
}

func (t *memTx) DeletePropertyAmortizationResults(ctx context.Context, propertyID int64) (int64, error) {
	if err := t.fail("DeletePropertyAmortizationResults"); err != nil {
		return 0, err
	}
	return t.deleteResults(func(r books.AmortizationResult) bool { return r.PropertyID == propertyID }), nil
}

func (t *memTx) deleteResults(match func(books.AmortizationResult) bool) int64 {
	kept := t.st.results[:0]
	var removed int64
	for _, r := range t.st.results {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	t.st.results = kept
	return removed
}

func (t *memTx) GetStatementScope(ctx context.Context, propertyID int64, kind books.StatementKind) (books.StatementScope, error) {
	if err := t.fail("GetStatementScope"); err != nil {
		return books.StatementScope{}, err
	}
	scope, ok := t.st.scopes[scopeKey{propertyID, kind}]
	if !ok {
		return books.StatementScope{PropertyID: propertyID, Statement: kind}, nil
	}
	scope.Level3 = append([]string(nil), scope.Level3...)
	return scope, nil
}

func (t *memTx) ListIncomeStatementMappings(ctx context.Context, propertyID int64) ([]books.IncomeStatementMapping, error) {
	if err := t.fail("ListIncomeStatementMappings"); err != nil {
		return nil, err
	}
	out := make([]books.IncomeStatementMapping, 0)
	for _, m := range t.st.incomeMappings {
		if m.PropertyID == propertyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *memTx) GetIncomeStatementOverride(ctx context.Context, propertyID int64, year int) (*books.IncomeStatementOverride, error) {
	if err := t.fail("GetIncomeStatementOverride"); err != nil {
		return nil, err
	}
	o, ok := t.st.overrides[yearKey{propertyID, year}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (t *memTx) UpsertIncomeStatementOverride(ctx context.Context, o books.IncomeStatementOverride) error {
	if err := t.fail("UpsertIncomeStatementOverride"); err != nil {
		return err
	}
	o.UpdatedAt = time.Now()
	t.st.overrides[yearKey{o.PropertyID, o.Year}] = o
	return nil
}

func (t *memTx) ListBalanceSheetMappings(ctx context.Context, propertyID int64) ([]books.BalanceSheetMapping, error) {
	if err := t.fail("ListBalanceSheetMappings"); err != nil {
		return nil, err
	}
	out := make([]books.BalanceSheetMapping, 0)
	for _, m := range t.st.sheetMappings {
		if m.PropertyID == propertyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (t *memTx) ListLoanConfigs(ctx context.Context, propertyID int64) ([]books.LoanConfig, error) {
	if err := t.fail("ListLoanConfigs"); err != nil {
		return nil, err
	}
	out := make([]books.LoanConfig, 0)
	for _, l := range t.st.loans {
		if l.PropertyID == propertyID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *memTx) ListLoanPayments(ctx context.Context, filter books.LoanPaymentFilter) ([]books.LoanPayment, error) {
	if err := t.fail("ListLoanPayments"); err != nil {
		return nil, err
	}
	out := make([]books.LoanPayment, 0)
	for _, p := range t.st.payments {
		if filter.PropertyID != 0 && p.PropertyID != filter.PropertyID {
			continue
		}
		if filter.LoanID != 0 && p.LoanID != filter.LoanID {
			continue
		}
		if filter.From != nil && p.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && p.Date.After(*filter.To) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *memTx) GetProRataSetting(ctx context.Context, propertyID int64) (books.ProRataSetting, error) {
	if err := t.fail("GetProRataSetting"); err != nil {
		return books.ProRataSetting{}, err
	}
	setting, ok := t.st.prorata[propertyID]
	if !ok {
		return books.ProRataSetting{PropertyID: propertyID}, nil
	}
	return setting, nil
}

func (t *memTx) ListPlannedAmounts(ctx context.Context, propertyID int64, kind books.StatementKind) ([]books.PlannedAmount, error) {
	if err := t.fail("ListPlannedAmounts"); err != nil {
		return nil, err
	}
	out := make([]books.PlannedAmount, 0)
	for _, p := range t.st.planned {
		if p.PropertyID == propertyID && p.Kind == kind {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *memTx) ListIncomeStatementLines(ctx context.Context, propertyID int64, year int) ([]books.IncomeStatementLine, error) {
	if err := t.fail("ListIncomeStatementLines"); err != nil {
		return nil, err
	}
	return append([]books.IncomeStatementLine(nil), t.st.incomeLines[yearKey{propertyID, year}]...), nil
}

func (t *memTx) ReplaceIncomeStatementLines(ctx context.Context, propertyID int64, year int, lines []books.IncomeStatementLine) error {
	if err := t.fail("ReplaceIncomeStatementLines"); err != nil {
		return err
	}
	key := yearKey{propertyID, year}
	if len(lines) == 0 {
		delete(t.st.incomeLines, key)
		return nil
	}
	t.st.incomeLines[key] = append([]books.IncomeStatementLine(nil), lines...)
	return nil
}

func (t *memTx) ListBalanceSheetLines(ctx context.Context, propertyID int64, year int) ([]books.BalanceSheetLine, error) {
	if err := t.fail("ListBalanceSheetLines"); err != nil {
		return nil, err
	}
	return append([]books.BalanceSheetLine(nil), t.st.sheetLines[yearKey{propertyID, year}]...), nil
}

func (t *memTx) ReplaceBalanceSheetLines(ctx context.Context, propertyID int64, year int, lines []books.BalanceSheetLine) error {
	if err := t.fail("ReplaceBalanceSheetLines"); err != nil {
		return err
	}
	key := yearKey{propertyID, year}
	if len(lines) == 0 {
		delete(t.st.sheetLines, key)
		return nil
	}
	t.st.sheetLines[key] = append([]books.BalanceSheetLine(nil), lines...)
	return nil
}

func (t *memTx) DeleteStatementLines(ctx context.Context, propertyID int64, from, to int) (int64, error) {
	if err := t.fail("DeleteStatementLines"); err != nil {
		return 0, err
	}
	inRange := func(k yearKey) bool {
		if k.propertyID != propertyID || k.year < from {
			return false
		}
		return to == 0 || k.year <= to
	}
	var removed int64
	for k, lines := range t.st.incomeLines {
		if inRange(k) {
			removed += int64(len(lines))
			delete(t.st.incomeLines, k)
		}
	}
	for k, lines := range t.st.sheetLines {
		if inRange(k) {
			removed += int64(len(lines))
			delete(t.st.sheetLines, k)
		}
	}
	return removed, nil
}

func sortTypes(types []books.AmortizationType) {
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
}
