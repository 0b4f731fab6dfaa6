package models

import "time"

// TransactionType is the canonical classification every source must map its
// native vocabulary into before a record leaves the connector.
type TransactionType string

const (
	TypeBuy        TransactionType = "Buy"
	TypeSell       TransactionType = "Sell"
	TypeDividend   TransactionType = "Dividend"
	TypeInterest   TransactionType = "Interest"
	TypeDeposit    TransactionType = "Deposit"
	TypeWithdrawal TransactionType = "Withdrawal"
	TypeTransfer   TransactionType = "Transfer"
	TypeFee        TransactionType = "Fee"
	TypeSplit      TransactionType = "Split"
	TypeMerger     TransactionType = "Merger"
)

// StandardTransactionTypes lists every canonical type, in display order.
var StandardTransactionTypes = []TransactionType{
	TypeBuy, TypeSell, TypeDividend, TypeInterest, TypeDeposit,
	TypeWithdrawal, TypeTransfer, TypeFee, TypeSplit, TypeMerger,
}

// IsStandardTransactionType reports whether t is one of the canonical types.
func IsStandardTransactionType(t TransactionType) bool {
	for _, s := range StandardTransactionTypes {
		if t == s {
			return true
		}
	}
	return false
}

// Transaction is the unified representation of one economic event, as produced
// by a connector or plugin. SourceID together with Source forms the
// idempotency key used for deduplication on import.
type Transaction struct {
	ID          int64           `json:"id,omitempty"`
	Date        time.Time       `json:"date"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Type        TransactionType `json:"transaction_type"`
	Quantity    float64         `json:"quantity"`
	Price       float64         `json:"price"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	Fees        float64         `json:"fees"`
	SourceID    string          `json:"source_id"`
	Source      string          `json:"source"`
	AccountID   string          `json:"account_id,omitempty"`
	ImportedAt  time.Time       `json:"imported_at,omitempty"`
	ImportJobID string          `json:"import_job_id,omitempty"`
}

// TransactionQuery bounds a GetTransactions call. A zero Since means the
// connector applies its default lookback window; a zero Until means "now".
// The range is half-open: [Since, Until).
type TransactionQuery struct {
	AccountID string
	Since     time.Time
	Until     time.Time
}
