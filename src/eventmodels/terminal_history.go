package eventmodels

import "time"

// HistoryOrder is a completed order. Once settled it is immutable; a
// redelivered record with the same (ID, Type) and DoneTime reconciles
// provisional fields in place.
type HistoryOrder struct {
	ID           string     `json:"id"`
	Type         OrderType  `json:"type"`
	State        OrderState `json:"state"`
	Symbol       string     `json:"symbol"`
	Volume       float64    `json:"volume"`
	OpenPrice    *float64   `json:"openPrice,omitempty"`
	CurrentPrice *float64   `json:"currentPrice,omitempty"`
	PositionID   string     `json:"positionId,omitempty"`
	DoneTime     time.Time  `json:"doneTime"`
}

type DealType string

const (
	DealTypeBuy     DealType = "DEAL_TYPE_BUY"
	DealTypeSell    DealType = "DEAL_TYPE_SELL"
	DealTypeBalance DealType = "DEAL_TYPE_BALANCE"
)

type DealEntryType string

const (
	DealEntryIn    DealEntryType = "DEAL_ENTRY_IN"
	DealEntryOut   DealEntryType = "DEAL_ENTRY_OUT"
	DealEntryInOut DealEntryType = "DEAL_ENTRY_INOUT"
)

// Deal is an executed transaction. Identity is (ID, EntryType): a single order
// id can produce both an entry and an exit deal.
type Deal struct {
	ID         string        `json:"id"`
	Type       DealType      `json:"type"`
	EntryType  DealEntryType `json:"entryType"`
	Symbol     string        `json:"symbol"`
	Volume     float64       `json:"volume"`
	Price      float64       `json:"price"`
	Profit     float64       `json:"profit"`
	Commission *float64      `json:"commission,omitempty"`
	Swap       *float64      `json:"swap,omitempty"`
	OrderID    string        `json:"orderId,omitempty"`
	PositionID string        `json:"positionId,omitempty"`
	Time       time.Time     `json:"time"`
}
