package monitor

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
	"github.com/jiaming2012/terminal-sync/src/metrics"
	"github.com/jiaming2012/terminal-sync/src/utils"
)

const (
	DefaultHealthInterval      = 30 * time.Second
	DefaultQuoteStaleThreshold = 60 * time.Second
)

// Replica is the read surface the health monitor samples. It never mutates
// replica state.
type Replica interface {
	GetAccountID() string
	IsConnected() bool
	IsConnectedToBroker() bool
	IsSynchronized() bool
	GetPrices() []eventmodels.SymbolPrice
	GetSpecification(symbol string) (*eventmodels.SymbolSpecification, error)
}

type HealthStatus struct {
	Healthy               bool   `json:"healthy"`
	Connected             bool   `json:"connected"`
	ConnectedToBroker     bool   `json:"connectedToBroker"`
	Synchronized          bool   `json:"synchronized"`
	QuoteStreamingHealthy bool   `json:"quoteStreamingHealthy"`
	Message               string `json:"message"`
}

// HealthMonitor periodically records a boolean health sample per account and
// keeps rolling 1h/1d/1w uptime percentages. Sampling intervals are jittered
// so a fleet of accounts does not sample in lockstep.
type HealthMonitor struct {
	replica             Replica
	minInterval         time.Duration
	quoteStaleThreshold time.Duration
	now                 func() time.Time

	windows map[string]*utils.RollingWindow

	done     chan struct{}
	stopOnce sync.Once
}

func NewHealthMonitor(replica Replica, minInterval, quoteStaleThreshold time.Duration) *HealthMonitor {
	if minInterval <= 0 {
		minInterval = DefaultHealthInterval
	}
	if quoteStaleThreshold <= 0 {
		quoteStaleThreshold = DefaultQuoteStaleThreshold
	}

	return &HealthMonitor{
		replica:             replica,
		minInterval:         minInterval,
		quoteStaleThreshold: quoteStaleThreshold,
		now:                 time.Now,
		windows:             utils.NewStandardWindows(),
		done:                make(chan struct{}),
	}
}

// Start launches the sampling loop. Stop cancels it; both are idempotent
// enough for one start/stop cycle per monitor.
func (m *HealthMonitor) Start() {
	go m.run()
}

func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

func (m *HealthMonitor) run() {
	for {
		interval := m.minInterval + time.Duration(rand.Int63n(int64(m.minInterval)))

		select {
		case <-m.done:
			return
		case <-time.After(interval):
		}

		m.RecordSample(m.now())
	}
}

// RecordSample takes one health measurement at the given time.
func (m *HealthMonitor) RecordSample(now time.Time) {
	healthy := m.replica.IsConnected() && m.replica.IsConnectedToBroker() && m.replica.IsSynchronized()

	value := 0.0
	if healthy {
		value = 1.0
	}

	for _, w := range m.windows {
		w.Add(now, value)
	}

	metrics.AccountHealthy.WithLabelValues(m.replica.GetAccountID()).Set(value)
}

// GetUptime returns, per window, the percentage of retained samples that were
// healthy. A window with no samples reports zero.
func (m *HealthMonitor) GetUptime() map[string]float64 {
	now := m.now()
	uptime := make(map[string]float64, len(m.windows))

	for name, w := range m.windows {
		values := w.Values(now)

		mean, err := stats.Mean(values)
		if err != nil {
			uptime[name] = 0
			continue
		}

		uptime[name] = mean * 100
	}

	return uptime
}

// IsQuoteStreamingHealthy reports whether every symbol the account holds a
// quote for is either fresh or outside its trading session. No quotes at all
// is trivially healthy.
func (m *HealthMonitor) IsQuoteStreamingHealthy(now time.Time) bool {
	for _, price := range m.replica.GetPrices() {
		if now.Sub(price.Time) <= m.quoteStaleThreshold {
			continue
		}

		spec, err := m.replica.GetSpecification(price.Symbol)
		if err != nil {
			// Without a session table there is no way to tell a stalled
			// feed from a closed market.
			continue
		}

		if spec.InQuoteSession(now) {
			return false
		}
	}

	return true
}

// GetHealthStatus composes the individual health conditions into an overall
// flag and a message enumerating every unhealthy condition.
func (m *HealthMonitor) GetHealthStatus() HealthStatus {
	now := m.now()

	status := HealthStatus{
		Connected:             m.replica.IsConnected(),
		ConnectedToBroker:     m.replica.IsConnectedToBroker(),
		Synchronized:          m.replica.IsSynchronized(),
		QuoteStreamingHealthy: m.IsQuoteStreamingHealthy(now),
	}

	status.Healthy = status.Connected && status.ConnectedToBroker && status.Synchronized && status.QuoteStreamingHealthy

	if status.Healthy {
		status.Message = "account is connected and synchronized, quote streaming is stable"
		return status
	}

	var problems []string
	if !status.Connected {
		problems = append(problems, "connection to the server is down")
	}
	if !status.ConnectedToBroker {
		problems = append(problems, "connection to the broker is down")
	}
	if !status.Synchronized {
		problems = append(problems, "terminal state is not synchronized")
	}
	if !status.QuoteStreamingHealthy {
		problems = append(problems, "quote streaming is stalled inside a trading session")
	}

	status.Message = strings.Join(problems, " and ")

	return status
}
