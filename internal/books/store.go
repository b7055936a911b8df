package books

import (
	"context"
	"time"
)

// Store opens a unit of work exclusively owned by the caller.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// TransactionFilter narrows ledger reads. Results are ordered by (date, id).
type TransactionFilter struct {
	PropertyID     int64
	From           *time.Time
	To             *time.Time
	ClassifiedOnly bool
}

// AmortizationFilter narrows amortization result reads.
type AmortizationFilter struct {
	PropertyID    int64
	TransactionID int64
	TypeID        int64
	Year          int
	MaxYear       int
}

// LoanPaymentFilter narrows loan payment reads.
type LoanPaymentFilter struct {
	PropertyID int64
	LoanID     int64
	From       *time.Time
	To         *time.Time
}

// Tx exposes every read and write the engine performs inside a unit of work.
type Tx interface {
	GetProperty(ctx context.Context, id int64) (Property, error)
	ListProperties(ctx context.Context) ([]Property, error)

	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	UpdateTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	LastTransactionBefore(ctx context.Context, propertyID int64, date time.Time) (*Transaction, error)
	FirstTransactionDate(ctx context.Context, propertyID int64) (*time.Time, error)
	UpdateRunningBalances(ctx context.Context, updates []BalanceUpdate) error
	UpdateClassification(ctx context.Context, transactionID int64, c *Classification) error

	ListCategoryMappings(ctx context.Context, propertyID int64) ([]CategoryMapping, error)

	GetAmortizationType(ctx context.Context, id int64) (AmortizationType, error)
	ListAmortizationTypes(ctx context.Context, propertyID int64) ([]AmortizationType, error)
	ListAmortizationResults(ctx context.Context, filter AmortizationFilter) ([]AmortizationResult, error)
	InsertAmortizationResults(ctx context.Context, rows []AmortizationResult) error
	DeleteAmortizationResults(ctx context.Context, transactionID int64) (int64, error)
	DeletePropertyAmortizationResults(ctx context.Context, propertyID int64) (int64, error)

	GetStatementScope(ctx context.Context, propertyID int64, kind StatementKind) (StatementScope, error)
	ListIncomeStatementMappings(ctx context.Context, propertyID int64) ([]IncomeStatementMapping, error)
	GetIncomeStatementOverride(ctx context.Context, propertyID int64, year int) (*IncomeStatementOverride, error)
	UpsertIncomeStatementOverride(ctx context.Context, o IncomeStatementOverride) error
	ListBalanceSheetMappings(ctx context.Context, propertyID int64) ([]BalanceSheetMapping, error)

	ListLoanConfigs(ctx context.Context, propertyID int64) ([]LoanConfig, error)
	ListLoanPayments(ctx context.Context, filter LoanPaymentFilter) ([]LoanPayment, error)

	GetProRataSetting(ctx context.Context, propertyID int64) (ProRataSetting, error)
	ListPlannedAmounts(ctx context.Context, propertyID int64, kind StatementKind) ([]PlannedAmount, error)

	ListIncomeStatementLines(ctx context.Context, propertyID int64, year int) ([]IncomeStatementLine, error)
	ReplaceIncomeStatementLines(ctx context.Context, propertyID int64, year int, lines []IncomeStatementLine) error
	ListBalanceSheetLines(ctx context.Context, propertyID int64, year int) ([]BalanceSheetLine, error)
	ReplaceBalanceSheetLines(ctx context.Context, propertyID int64, year int, lines []BalanceSheetLine) error
	// DeleteStatementLines removes cached lines for years in [from, to]; to == 0 is open-ended.
	DeleteStatementLines(ctx context.Context, propertyID int64, from, to int) (int64, error)
}
