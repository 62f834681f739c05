package models

import "time"

// OrderStatus is set by the matcher the first time it touches an order.
// A freshly created order carries no status at all.
type OrderStatus string

const (
	// StatusOpen marks an order that has been partially filled and can
	// still match.
	StatusOpen OrderStatus = "OPEN"
	// StatusClose marks a fully filled order. Terminal.
	StatusClose OrderStatus = "CLOSE"
)

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// MatchEdge records one fill from the perspective of the order that owns it:
// BuyQuantity units of the order's buy contract were received, SellQuantity
// units of its sell contract were given up. Sequence numbers fills between the
// same order pair so settlement emission can be retried without duplicates.
type MatchEdge struct {
	CounterOrderID string    `json:"counter_order_id"`
	BuyQuantity    int64     `json:"buy_quantity"`
	SellQuantity   int64     `json:"sell_quantity"`
	Sequence       int       `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
}

// Order is a standing barter offer: SellAmount of SellContract in exchange
// for BuyAmount of BuyContract. A specifier pins the offer to one explicit
// token/serial within the contract; empty means any token of the contract.
type Order struct {
	ID         string `json:"id"`
	Blockchain string `json:"blockchain"`
	Source     string `json:"source"` // normalized poster address

	SellContract  string `json:"sell_contract"`
	SellSpecifier string `json:"sell_specifier,omitempty"`
	SellAmount    int64  `json:"sell_amount"`
	BuyContract   string `json:"buy_contract"`
	BuySpecifier  string `json:"buy_specifier,omitempty"`
	BuyAmount     int64  `json:"buy_amount"`

	// RemainingBuy and RemainingSell are decremented as fills occur.
	// Total is maintained as RemainingBuy*RemainingSell and reaches zero
	// exactly when the order is fully matched.
	RemainingBuy  int64 `json:"remaining_buy"`
	RemainingSell int64 `json:"remaining_sell"`
	Total         int64 `json:"total"`

	// BuyDestination names the counterparty address the order's payment
	// (its sell side) was already delivered to on-chain. Such orders are
	// awaiting the named counterparty; their payment leg produces no
	// synthetic settlement event.
	BuyDestination string `json:"buy_destination,omitempty"`

	TxHash      string `json:"tx_hash,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	BlockHeight int64  `json:"block_height,omitempty"`

	Status      OrderStatus `json:"status"`
	MatchedWith []MatchEdge `json:"matched_with,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// GetTotal returns the remaining unmatched value of the order.
func (o *Order) GetTotal() int64 {
	return o.Total
}

// Closed reports whether the order is fully filled.
func (o *Order) Closed() bool {
	return o.Status == StatusClose
}

// BalanceEntry tracks the quantity an address holds of one contract,
// optionally narrowed to one explicit token/serial. Quantity is never
// negative.
type BalanceEntry struct {
	Address   string `json:"address"`
	Contract  string `json:"contract"`
	Specifier string `json:"specifier,omitempty"`
	Quantity  int64  `json:"quantity"`
}

// SettlementEvent is the immutable record of one realized transfer: Quantity
// units of Contract/Specifier moved from Source to Destination. FillKey is
// unique per (order pair, fill sequence) so emission is idempotent.
type SettlementEvent struct {
	ID          string `json:"id"`
	TxID        string `json:"txId"`
	Blockchain  string `json:"blockchain"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Contract    string `json:"contract"`
	Specifier   string `json:"specifier,omitempty"`
	Quantity    int64  `json:"quantity"`
	Timestamp   int64  `json:"timestamp"`
	BlockHeight int64  `json:"blockHeight"`
	Valid       bool   `json:"validity"`
	Error       string `json:"error,omitempty"`
	FillKey     string `json:"-"`

	CreatedAt time.Time `json:"-"`
}

// OrderFilter is a conjunction of optional predicates. A nil field means the
// predicate is not applied; there are no implicit defaults.
type OrderFilter struct {
	StatusPresent     *bool
	StatusEquals      *OrderStatus
	HasBuyDestination *bool
	HasMatch          *bool
}

// MatchRow is one match partner inside a rendered order row.
type MatchRow struct {
	Source    string `json:"source"`
	TokenSell string `json:"token_sell"`
}

// OrderRow is the flat, display-ready projection of an order.
type OrderRow struct {
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	ContractBuy string     `json:"contract_buy"`
	OrderType   string     `json:"order_type"`
	MatchWith   []MatchRow `json:"match_with"`
}
