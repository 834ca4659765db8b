package eventmodels

import (
	"fmt"
	"strings"
	"time"
)

// TradingSession is a [From, To) time-of-day interval in the terminal's local
// time, formatted "HH:MM" or "HH:MM:SS".
type TradingSession struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func parseTimeOfDay(value string) (int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("parseTimeOfDay: invalid time of day %q", value)
	}

	seconds := 0
	for _, p := range parts {
		var v int
		if _, err := fmt.Sscanf(p, "%d", &v); err != nil {
			return 0, fmt.Errorf("parseTimeOfDay: invalid component %q in %q", p, value)
		}
		seconds = seconds*60 + v
	}

	if len(parts) == 2 {
		seconds *= 60
	}

	return seconds, nil
}

// Contains reports whether the wall-clock time of t falls inside the session.
func (s TradingSession) Contains(t time.Time) bool {
	from, err := parseTimeOfDay(s.From)
	if err != nil {
		return false
	}

	to, err := parseTimeOfDay(s.To)
	if err != nil {
		return false
	}

	tod := t.Hour()*3600 + t.Minute()*60 + t.Second()

	// Sessions that wrap midnight, e.g. 22:00 - 02:00
	if to < from {
		return tod >= from || tod < to
	}

	return tod >= from && tod < to
}

// SymbolSpecification describes an instrument's trading rules. Quote sessions
// are keyed by upper-case weekday name.
type SymbolSpecification struct {
	Symbol        string                      `json:"symbol"`
	Description   string                      `json:"description,omitempty"`
	TickSize      float64                     `json:"tickSize"`
	Digits        int                         `json:"digits"`
	MinVolume     float64                     `json:"minVolume"`
	MaxVolume     float64                     `json:"maxVolume"`
	VolumeStep    float64                     `json:"volumeStep"`
	QuoteSessions map[string][]TradingSession `json:"quoteSessions,omitempty"`
}

// InQuoteSession reports whether t falls inside one of the symbol's quote
// sessions for t's weekday. A symbol without a session table is treated as
// always quoted.
func (s *SymbolSpecification) InQuoteSession(t time.Time) bool {
	if len(s.QuoteSessions) == 0 {
		return true
	}

	sessions, found := s.QuoteSessions[strings.ToUpper(t.Weekday().String())]
	if !found {
		return false
	}

	for _, session := range sessions {
		if session.Contains(t) {
			return true
		}
	}

	return false
}
