package eventmodels

// AccountInformation mirrors the terminal's account state. The whole record is
// replaced on an account information event; the scalar fields may also be
// patched directly from a price event when the server sends authoritative
// margin values alongside quotes.
type AccountInformation struct {
	Broker      string  `json:"broker"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Login       string  `json:"login"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"freeMargin"`
	Leverage    float64 `json:"leverage"`
	MarginLevel float64 `json:"marginLevel"`
}
