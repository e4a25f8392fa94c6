package aster

import (
	"log/slog"
	"time"
)

// ModelPricing holds per-million-token USD pricing for a model.
type ModelPricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// DefaultPricing covers the Claude models this core is normally run against.
// Unknown models fall back to the sonnet rates.
var DefaultPricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514": {Input: 3.0, Output: 15.0, CacheWrite: 3.75, CacheRead: 0.30},
	"claude-haiku-4-20250514":  {Input: 0.80, Output: 4.0, CacheWrite: 1.0, CacheRead: 0.08},
	"claude-opus-4-20250514":   {Input: 15.0, Output: 75.0, CacheWrite: 18.75, CacheRead: 1.50},
}

var fallbackPricing = ModelPricing{Input: 3.0, Output: 15.0, CacheWrite: 3.75, CacheRead: 0.30}

// PricingFor returns the pricing for a model.
func PricingFor(model string) ModelPricing {
	if p, ok := DefaultPricing[model]; ok {
		return p
	}
	return fallbackPricing
}

// UsageRecord is the accounting for one API call.
type UsageRecord struct {
	Timestamp           time.Time `json:"timestamp"`
	InputTokens         int       `json:"input_tokens"`
	OutputTokens        int       `json:"output_tokens"`
	CacheCreationTokens int       `json:"cache_creation_input_tokens"`
	CacheReadTokens     int       `json:"cache_read_input_tokens"`
}

// TotalInput is the full input-side token count including cache traffic.
func (r UsageRecord) TotalInput() int {
	return r.InputTokens + r.CacheCreationTokens + r.CacheReadTokens
}

// CacheHitRate is the fraction of input tokens served from cache, in [0, 1].
func (r UsageRecord) CacheHitRate() float64 {
	total := r.TotalInput()
	if total == 0 {
		return 0
	}
	return float64(r.CacheReadTokens) / float64(total)
}

// UsageMonitor accumulates per-call usage records for one session and
// estimates cost from the model's pricing. It is mutated only by the turn
// that owns the session.
type UsageMonitor struct {
	model   string
	records []UsageRecord
	now     func() time.Time
	logger  *slog.Logger
}

// UsageOption configures a UsageMonitor.
type UsageOption func(*UsageMonitor)

// WithUsageLogger sets a structured logger for the monitor.
func WithUsageLogger(l *slog.Logger) UsageOption {
	return func(m *UsageMonitor) { m.logger = l }
}

// WithUsageClock injects the timestamp source, for tests.
func WithUsageClock(now func() time.Time) UsageOption {
	return func(m *UsageMonitor) { m.now = now }
}

// NewUsageMonitor creates a monitor priced for the given model.
func NewUsageMonitor(model string, opts ...UsageOption) *UsageMonitor {
	m := &UsageMonitor{model: model, now: time.Now, logger: nopLogger}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Record appends a usage record from an API response.
func (m *UsageMonitor) Record(u UsageInfo) UsageRecord {
	rec := UsageRecord{
		Timestamp:           m.now(),
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens,
	}
	m.records = append(m.records, rec)
	m.logger.Info("usage recorded",
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"cache_creation", rec.CacheCreationTokens,
		"cache_read", rec.CacheReadTokens)
	return rec
}

// Records returns a copy of all records.
func (m *UsageMonitor) Records() []UsageRecord {
	out := make([]UsageRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Load replaces the records with persisted ones.
func (m *UsageMonitor) Load(records []UsageRecord) {
	m.records = make([]UsageRecord, len(records))
	copy(m.records, records)
}

// Reset discards all records.
func (m *UsageMonitor) Reset() {
	m.records = nil
}

// Last returns the most recent record.
func (m *UsageMonitor) Last() (UsageRecord, bool) {
	if len(m.records) == 0 {
		return UsageRecord{}, false
	}
	return m.records[len(m.records)-1], true
}

// TokenTotals aggregates token counts across all records.
type TokenTotals struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	CacheCreation int `json:"cache_creation"`
	CacheRead     int `json:"cache_read"`
	TotalInput    int `json:"total_input"`
}

// CostEstimate breaks down estimated spend in USD.
type CostEstimate struct {
	Input        float64 `json:"input"`
	Output       float64 `json:"output"`
	CacheWrite   float64 `json:"cache_write"`
	CacheRead    float64 `json:"cache_read"`
	Total        float64 `json:"total"`
	SavedByCache float64 `json:"saved_by_cache"`
}

// UsageSummary is the aggregated view served by the usage endpoint.
type UsageSummary struct {
	TotalRequests    int          `json:"total_requests"`
	Tokens           TokenTotals  `json:"tokens"`
	CacheHitRate     float64      `json:"cache_hit_rate"`
	RequestsWithHit  int          `json:"requests_with_cache_hit"`
	RequestsWithWrite int         `json:"requests_with_cache_write"`
	Cost             CostEstimate `json:"cost_estimate_usd"`
}

// Summary aggregates all records and prices them.
func (m *UsageMonitor) Summary() UsageSummary {
	var s UsageSummary
	s.TotalRequests = len(m.records)
	for _, r := range m.records {
		s.Tokens.Input += r.InputTokens
		s.Tokens.Output += r.OutputTokens
		s.Tokens.CacheCreation += r.CacheCreationTokens
		s.Tokens.CacheRead += r.CacheReadTokens
		s.Tokens.TotalInput += r.TotalInput()
		if r.CacheReadTokens > 0 {
			s.RequestsWithHit++
		}
		if r.CacheCreationTokens > 0 {
			s.RequestsWithWrite++
		}
	}
	if s.Tokens.TotalInput > 0 {
		s.CacheHitRate = float64(s.Tokens.CacheRead) / float64(s.Tokens.TotalInput)
	}

	p := PricingFor(m.model)
	const million = 1_000_000
	s.Cost.Input = float64(s.Tokens.Input) * p.Input / million
	s.Cost.Output = float64(s.Tokens.Output) * p.Output / million
	s.Cost.CacheWrite = float64(s.Tokens.CacheCreation) * p.CacheWrite / million
	s.Cost.CacheRead = float64(s.Tokens.CacheRead) * p.CacheRead / million
	s.Cost.Total = s.Cost.Input + s.Cost.Output + s.Cost.CacheWrite + s.Cost.CacheRead
	withoutCache := (float64(s.Tokens.TotalInput)*p.Input + float64(s.Tokens.Output)*p.Output) / million
	s.Cost.SavedByCache = withoutCache - s.Cost.Total
	return s
}
