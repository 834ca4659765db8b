package eventmodels

import "time"

type PositionType string

const (
	PositionTypeBuy  PositionType = "POSITION_TYPE_BUY"
	PositionTypeSell PositionType = "POSITION_TYPE_SELL"
)

// Position is a live open position keyed by ID. StopLoss, TakeProfit,
// Commission and Swap are pointers: a zero stop loss is not the same thing as
// no stop loss.
type Position struct {
	ID               string       `json:"id"`
	Symbol           string       `json:"symbol"`
	Type             PositionType `json:"type"`
	Volume           float64      `json:"volume"`
	OpenPrice        float64      `json:"openPrice"`
	CurrentPrice     float64      `json:"currentPrice"`
	Profit           float64      `json:"profit"`
	UnrealizedProfit float64      `json:"unrealizedProfit"`
	RealizedProfit   float64      `json:"realizedProfit"`
	StopLoss         *float64     `json:"stopLoss,omitempty"`
	TakeProfit       *float64     `json:"takeProfit,omitempty"`
	Commission       *float64     `json:"commission,omitempty"`
	Swap             *float64     `json:"swap,omitempty"`
	Time             time.Time    `json:"time"`
	UpdateTime       time.Time    `json:"updateTime"`
}
