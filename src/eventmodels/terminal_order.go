package eventmodels

import "time"

type OrderType string

const (
	OrderTypeBuy       OrderType = "ORDER_TYPE_BUY"
	OrderTypeSell      OrderType = "ORDER_TYPE_SELL"
	OrderTypeBuyLimit  OrderType = "ORDER_TYPE_BUY_LIMIT"
	OrderTypeSellLimit OrderType = "ORDER_TYPE_SELL_LIMIT"
	OrderTypeBuyStop   OrderType = "ORDER_TYPE_BUY_STOP"
	OrderTypeSellStop  OrderType = "ORDER_TYPE_SELL_STOP"
)

type OrderState string

const (
	OrderStatePlaced   OrderState = "ORDER_STATE_PLACED"
	OrderStateStarted  OrderState = "ORDER_STATE_STARTED"
	OrderStateFilled   OrderState = "ORDER_STATE_FILLED"
	OrderStateCanceled OrderState = "ORDER_STATE_CANCELED"
	OrderStateRejected OrderState = "ORDER_STATE_REJECTED"
	OrderStateExpired  OrderState = "ORDER_STATE_EXPIRED"
	OrderStatePartial  OrderState = "ORDER_STATE_PARTIAL"
)

// Order is a working (pending) order keyed by ID. Market orders carry no open
// price, so OpenPrice and CurrentPrice are pointers.
type Order struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	Type          OrderType  `json:"type"`
	State         OrderState `json:"state"`
	OpenPrice     *float64   `json:"openPrice,omitempty"`
	CurrentPrice  *float64   `json:"currentPrice,omitempty"`
	StopLoss      *float64   `json:"stopLoss,omitempty"`
	TakeProfit    *float64   `json:"takeProfit,omitempty"`
	Volume        float64    `json:"volume"`
	CurrentVolume float64    `json:"currentVolume"`
	Time          time.Time  `json:"time"`
}

// IsSellSide reports whether the order is valued against the bid price.
func (o *Order) IsSellSide() bool {
	switch o.Type {
	case OrderTypeSell, OrderTypeSellLimit, OrderTypeSellStop:
		return true
	}
	return false
}
