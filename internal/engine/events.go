package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/rentalbooks/internal/ledger"
)

// ChangeKind describes the mutation behind a TransactionChanged event.
type ChangeKind string

const (
	ChangeCreated      ChangeKind = "created"
	ChangeUpdated      ChangeKind = "updated"
	ChangeDeleted      ChangeKind = "deleted"
	ChangeImported     ChangeKind = "imported"
	ChangeReclassified ChangeKind = "reclassified"
)

// TransactionChanged is emitted once a ledger mutation has committed.
type TransactionChanged struct {
	ID             uuid.UUID
	PropertyID     int64
	TransactionIDs []int64
	Date           time.Time
	PreviousDate   *time.Time
	Kind           ChangeKind
}

// NewTransactionChanged stamps a new event.
func NewTransactionChanged(kind ChangeKind, propertyID int64, date time.Time, ids ...int64) TransactionChanged {
	return TransactionChanged{
		ID:             uuid.New(),
		PropertyID:     propertyID,
		TransactionIDs: ids,
		Date:           date,
		Kind:           kind,
	}
}

// Window is the earliest date whose derived data may have changed.
func (e TransactionChanged) Window() time.Time {
	if e.PreviousDate == nil {
		return e.Date
	}
	return ledger.EditWindow(*e.PreviousDate, e.Date)
}
