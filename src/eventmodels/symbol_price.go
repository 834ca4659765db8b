package eventmodels

import "time"

// SymbolPrice is the latest quote for a symbol. Tick values convert one tick
// of price movement on one unit of volume into account currency.
type SymbolPrice struct {
	Symbol          string    `json:"symbol"`
	Bid             float64   `json:"bid"`
	Ask             float64   `json:"ask"`
	ProfitTickValue float64   `json:"profitTickValue"`
	LossTickValue   float64   `json:"lossTickValue"`
	Time            time.Time `json:"time"`
}
