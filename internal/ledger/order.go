package ledger

import (
	"sort"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

func sortLedger(txs []books.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].Before(txs[j]) })
}
