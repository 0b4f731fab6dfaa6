package models

import "time"

// Holding is a point-in-time position reported by a source. Within one
// snapshot a holding is uniquely keyed by (Source, AccountID, Symbol).
type Holding struct {
	ID           int64     `json:"id,omitempty"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Quantity     float64   `json:"quantity"`
	CurrentPrice float64   `json:"current_price"`
	MarketValue  float64   `json:"market_value"`
	CostBasis    float64   `json:"cost_basis,omitempty"`
	Currency     string    `json:"currency"`
	AccountID    string    `json:"account_id,omitempty"`
	Source       string    `json:"source"`
	SnapshotAt   time.Time `json:"snapshot_at,omitempty"`
}

// AccountInfo describes one account at a source.
type AccountInfo struct {
	AccountID    string `json:"account_id"`
	AccountType  string `json:"account_type"`
	BaseCurrency string `json:"base_currency"`
	Status       string `json:"status"`
	Nickname     string `json:"nickname,omitempty"`
}
