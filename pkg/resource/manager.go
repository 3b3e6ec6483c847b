// Package resource tracks run-wide consumption — tokens, API calls,
// elapsed time, estimated cost — enforces optional hard budgets, and
// exposes the counters as Prometheus metrics.
package resource

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dirgogoo/mdap/pkg/config"
)

// Breacher receives the single budget-breach signal. The pipeline's
// interrupt handler implements it; the current vote then terminates with
// BUDGET_EXHAUSTED at its next checkpoint.
type Breacher interface {
	BudgetBreach(reason string)
}

// Manager maintains monotonic consumption counters behind one mutex. It
// is the only cross-phase shared state besides the decision tracker.
type Manager struct {
	mu           sync.Mutex
	inputTokens  int
	outputTokens int
	apiCalls     int
	costUSD      float64
	started      time.Time
	budgets      config.BudgetConfig
	priceIn      float64 // USD per million input tokens
	priceOut     float64 // USD per million output tokens
	breacher     Breacher
	breached     bool

	registry     *prometheus.Registry
	tokensMetric *prometheus.CounterVec
	callsMetric  prometheus.Counter
	costMetric   prometheus.Counter
}

// NewManager creates a Manager for the given model id and budgets.
// breacher may be nil (budgets still tracked, never enforced).
func NewManager(modelID string, budgets config.BudgetConfig, breacher Breacher) *Manager {
	priceIn, priceOut := lookupPrice(modelID)

	registry := prometheus.NewRegistry()
	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mdap",
		Name:      "llm_tokens_total",
		Help:      "LLM tokens consumed, by direction.",
	}, []string{"direction"})
	calls := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mdap",
		Name:      "llm_calls_total",
		Help:      "LLM API calls issued.",
	})
	cost := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mdap",
		Name:      "llm_cost_usd_total",
		Help:      "Estimated LLM spend in USD.",
	})
	registry.MustRegister(tokens, calls, cost)

	return &Manager{
		started:      time.Now(),
		budgets:      budgets,
		priceIn:      priceIn,
		priceOut:     priceOut,
		breacher:     breacher,
		registry:     registry,
		tokensMetric: tokens,
		callsMetric:  calls,
		costMetric:   cost,
	}
}

// Registry exposes the Prometheus registry for the /metrics endpoint.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// RecordCall accounts one completed LLM call and enforces budgets. The
// breach signal fires exactly once.
func (m *Manager) RecordCall(inputTokens, outputTokens int) {
	m.mu.Lock()
	m.apiCalls++
	m.inputTokens += inputTokens
	m.outputTokens += outputTokens
	callCost := float64(inputTokens)/1e6*m.priceIn + float64(outputTokens)/1e6*m.priceOut
	m.costUSD += callCost

	reason := m.breachReasonLocked()
	shouldSignal := reason != "" && !m.breached && m.breacher != nil
	if shouldSignal {
		m.breached = true
	}
	m.mu.Unlock()

	m.tokensMetric.WithLabelValues("input").Add(float64(inputTokens))
	m.tokensMetric.WithLabelValues("output").Add(float64(outputTokens))
	m.callsMetric.Inc()
	m.costMetric.Add(callCost)

	if shouldSignal {
		m.breacher.BudgetBreach(reason)
	}
}

// breachReasonLocked evaluates budgets against the counters. Caller holds mu.
func (m *Manager) breachReasonLocked() string {
	if m.budgets.MaxTokens > 0 && m.inputTokens+m.outputTokens > m.budgets.MaxTokens {
		return fmt.Sprintf("token budget exceeded: %d > %d", m.inputTokens+m.outputTokens, m.budgets.MaxTokens)
	}
	if m.budgets.MaxCostUSD > 0 && m.costUSD > m.budgets.MaxCostUSD {
		return fmt.Sprintf("cost budget exceeded: $%.4f > $%.4f", m.costUSD, m.budgets.MaxCostUSD)
	}
	if m.budgets.MaxDuration > 0 && time.Since(m.started) > m.budgets.MaxDuration {
		return fmt.Sprintf("time budget exceeded: %s > %s", time.Since(m.started).Round(time.Second), m.budgets.MaxDuration)
	}
	return ""
}

// EstimateCost prices a token count against the run's model rates.
func (m *Manager) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*m.priceIn + float64(outputTokens)/1e6*m.priceOut
}

// SetBudget replaces one budget kind on a live run. kind is one of
// "tokens", "cost", "time".
func (m *Manager) SetBudget(kind string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case "tokens":
		m.budgets.MaxTokens = int(value)
	case "cost":
		m.budgets.MaxCostUSD = value
	case "time":
		m.budgets.MaxDuration = time.Duration(value * float64(time.Second))
	default:
		return fmt.Errorf("unknown budget kind %q (want tokens, cost, or time)", kind)
	}
	return nil
}

// Usage is a point-in-time copy of the counters.
type Usage struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	APICalls       int     `json:"api_calls"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CostUSD        float64 `json:"estimated_cost_usd"`
	Budgets        Budgets `json:"budgets"`
}

// Budgets mirrors the active limits (zero = unlimited).
type Budgets struct {
	MaxTokens   int     `json:"max_tokens"`
	MaxCostUSD  float64 `json:"max_cost_usd"`
	MaxSeconds  float64 `json:"max_seconds"`
	Breached    bool    `json:"breached"`
	BreachedWhy string  `json:"breached_reason,omitempty"`
}

// Snapshot returns the current counters.
func (m *Manager) Snapshot() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{
		InputTokens:    m.inputTokens,
		OutputTokens:   m.outputTokens,
		APICalls:       m.apiCalls,
		ElapsedSeconds: time.Since(m.started).Seconds(),
		CostUSD:        m.costUSD,
		Budgets: Budgets{
			MaxTokens:   m.budgets.MaxTokens,
			MaxCostUSD:  m.budgets.MaxCostUSD,
			MaxSeconds:  m.budgets.MaxDuration.Seconds(),
			Breached:    m.breached,
			BreachedWhy: m.breachReasonLocked(),
		},
	}
}
