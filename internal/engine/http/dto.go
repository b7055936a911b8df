package enginehttp

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/engine"
)

type transactionView struct {
	ID             int64                 `json:"id"`
	PropertyID     int64                 `json:"property_id"`
	Date           string                `json:"date"`
	Amount         decimal.Decimal       `json:"amount"`
	Description    string                `json:"description"`
	RunningBalance decimal.Decimal       `json:"running_balance"`
	Classification *books.Classification `json:"classification,omitempty"`
}

type failureView struct {
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

type outcomeView struct {
	Transactions []transactionView `json:"transactions"`
	EventID      uuid.UUID         `json:"event_id"`
	Ran          []string          `json:"ran"`
	Failures     []failureView     `json:"failures,omitempty"`
}

func newOutcome(out engine.Outcome) outcomeView {
	view := outcomeView{
		Transactions: make([]transactionView, 0, len(out.Transactions)),
		EventID:      out.Effects.EventID,
		Ran:          out.Effects.Ran,
	}
	for _, tx := range out.Transactions {
		view.Transactions = append(view.Transactions, transactionView{
			ID:             tx.ID,
			PropertyID:     tx.PropertyID,
			Date:           tx.Date.Format(dateLayout),
			Amount:         tx.Amount,
			Description:    tx.Description,
			RunningBalance: tx.RunningBalance,
			Classification: tx.Classification,
		})
	}
	for _, f := range out.Effects.Failures {
		view.Failures = append(view.Failures, failureView{Handler: f.Handler, Error: f.Err.Error()})
	}
	return view
}
