package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"

	"github.com/jiaming2012/terminal-sync/src/eventmodels"
	"github.com/jiaming2012/terminal-sync/src/utils"
)

const (
	CategoryTrade  = "trade"
	CategoryUpdate = "update"
	CategoryPrices = "prices"
)

// Phase suffixes appended to a category, one per adjacent checkpoint pair.
const (
	PhaseClient = "client"
	PhaseServer = "server"
	PhaseBroker = "broker"
)

// LatencyStats summarizes the retained samples of one rolling window. All
// values are in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	P90   float64 `json:"p90"`
	P95   float64 `json:"p95"`
	P98   float64 `json:"p98"`
}

// LatencyMonitor turns phase-timestamp checkpoints into named duration samples
// held in rolling 1h/1d/1w windows keyed by metric category.
type LatencyMonitor struct {
	now func() time.Time

	mu         sync.Mutex
	categories map[string]map[string]*utils.RollingWindow
}

func NewLatencyMonitor() *LatencyMonitor {
	return &LatencyMonitor{
		now:        time.Now,
		categories: make(map[string]map[string]*utils.RollingWindow),
	}
}

// RecordDuration appends one elapsed-milliseconds sample to a category.
func (m *LatencyMonitor) RecordDuration(category string, elapsedMs float64) {
	if elapsedMs < 0 {
		log.Warnf("LatencyMonitor: dropping negative %s sample of %.1fms, clocks out of sync", category, elapsedMs)
		return
	}

	m.mu.Lock()
	windows, found := m.categories[category]
	if !found {
		windows = utils.NewStandardWindows()
		m.categories[category] = windows
	}
	m.mu.Unlock()

	now := m.now()
	for _, w := range windows {
		w.Add(now, elapsedMs)
	}
}

// Record derives a duration for every adjacent checkpoint pair present on the
// timestamps and files each under "<category>.<phase>".
func (m *LatencyMonitor) Record(category string, ts eventmodels.LatencyTimestamps) {
	if ts.ClientProcessingStarted != nil && ts.ServerProcessingStarted != nil {
		m.RecordDuration(category+"."+PhaseClient, utils.ElapsedMilliseconds(*ts.ClientProcessingStarted, *ts.ServerProcessingStarted))
	}

	if ts.ServerProcessingStarted != nil && ts.ServerProcessingFinished != nil {
		m.RecordDuration(category+"."+PhaseServer, utils.ElapsedMilliseconds(*ts.ServerProcessingStarted, *ts.ServerProcessingFinished))
	}

	if ts.ServerProcessingFinished != nil && ts.ClientProcessingFinished != nil {
		m.RecordDuration(category+"."+PhaseBroker, utils.ElapsedMilliseconds(*ts.ServerProcessingFinished, *ts.ClientProcessingFinished))
	}
}

func (m *LatencyMonitor) RecordTrade(ts eventmodels.LatencyTimestamps) {
	m.Record(CategoryTrade, ts)
}

func (m *LatencyMonitor) RecordUpdate(ts eventmodels.LatencyTimestamps) {
	m.Record(CategoryUpdate, ts)
}

func (m *LatencyMonitor) RecordPrices(ts eventmodels.LatencyTimestamps) {
	m.Record(CategoryPrices, ts)
}

// RecordRequest files a request round trip under its own per-type category.
// Satisfies the session's LatencyRecorder contract.
func (m *LatencyMonitor) RecordRequest(requestType string, ts eventmodels.LatencyTimestamps) {
	m.Record("request:"+requestType, ts)
}

// OnTerminalEvent picks latency timestamps off timestamped push events. The
// monitor only reads; it never touches replica state.
func (m *LatencyMonitor) OnTerminalEvent(event eventmodels.TerminalEvent) error {
	switch ev := event.(type) {
	case *eventmodels.PricesUpdatedEvent:
		if ev.Timestamps != nil {
			m.RecordPrices(*ev.Timestamps)
		}
	case *eventmodels.CombinedUpdateEvent:
		if ev.Timestamps != nil {
			m.RecordUpdate(*ev.Timestamps)
		}
	}

	return nil
}

// GetCategories lists every category that has received at least one sample.
func (m *LatencyMonitor) GetCategories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	categories := make([]string, 0, len(m.categories))
	for name := range m.categories {
		categories = append(categories, name)
	}

	sort.Strings(categories)

	return categories
}

// GetLatencies returns the per-window statistics for one category, computed
// over the samples retained at read time.
func (m *LatencyMonitor) GetLatencies(category string) map[string]LatencyStats {
	m.mu.Lock()
	windows := m.categories[category]
	m.mu.Unlock()

	result := make(map[string]LatencyStats, len(windows))
	if windows == nil {
		return result
	}

	now := m.now()
	for name, w := range windows {
		result[name] = computeStats(w.Values(now))
	}

	return result
}

func computeStats(values []float64) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}

	min, _ := stats.Min(values)
	max, _ := stats.Max(values)
	avg, _ := stats.Mean(values)
	p50, _ := stats.Percentile(values, 50)
	p75, _ := stats.Percentile(values, 75)
	p90, _ := stats.Percentile(values, 90)
	p95, _ := stats.Percentile(values, 95)
	p98, _ := stats.Percentile(values, 98)

	return LatencyStats{
		Count: len(values),
		Min:   min,
		Max:   max,
		Avg:   avg,
		P50:   p50,
		P75:   p75,
		P90:   p90,
		P95:   p95,
		P98:   p98,
	}
}
