package llm

import (
	"math"
	"sync"
	"time"
)

// costEntry is one recorded LLM call.
type costEntry struct {
	at      time.Time
	model   string
	costUSD float64
}

// CostTracker enforces the daily LLM budget and keeps an all-time total.
type CostTracker struct {
	mu         sync.Mutex
	dailyLimit float64
	entries    []costEntry
}

// NewCostTracker creates a tracker with the given daily USD limit. A limit
// of zero disables spending entirely.
func NewCostTracker(dailyLimit float64) *CostTracker {
	return &CostTracker{dailyLimit: dailyLimit}
}

// Record adds one call's cost to the ledger, attributed to the model that
// answered.
func (t *CostTracker) Record(model string, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, costEntry{at: time.Now(), model: model, costUSD: costUSD})
}

// TotalToday returns USD spent since local midnight.
func (t *CostTracker) TotalToday() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalTodayLocked()
}

func (t *CostTracker) totalTodayLocked() float64 {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var total float64
	for _, e := range t.entries {
		if !e.at.Before(midnight) {
			total += e.costUSD
		}
	}
	return total
}

// RemainingToday returns the unspent portion of today's budget, never
// negative.
func (t *CostTracker) RemainingToday() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	remaining := t.dailyLimit - t.totalTodayLocked()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TotalAllTime returns USD spent since the process started.
func (t *CostTracker) TotalAllTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, e := range t.entries {
		total += e.costUSD
	}
	return total
}

// CanSpend reports whether an estimated call cost fits within today's
// remaining budget. amount <= 0 uses a nominal estimate of one cent.
func (t *CostTracker) CanSpend(amount float64) bool {
	if amount <= 0 {
		amount = 0.01
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalTodayLocked()+amount <= t.dailyLimit
}

// DailySummary returns today's spend broken down for the cost API.
func (t *CostTracker) DailySummary() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var today, allTime float64
	calls := 0
	byModel := make(map[string]float64)
	for _, e := range t.entries {
		allTime += e.costUSD
		if !e.at.Before(midnight) {
			today += e.costUSD
			calls++
			byModel[e.model] += e.costUSD
		}
	}
	remaining := t.dailyLimit - today
	if remaining < 0 {
		remaining = 0
	}
	models := make(map[string]float64, len(byModel))
	for m, c := range byModel {
		models[m] = round6(c)
	}
	return map[string]any{
		"date":          now.Format("2006-01-02"),
		"total_usd":     round6(today),
		"calls":         calls,
		"by_model":      models,
		"budget_usd":    t.dailyLimit,
		"remaining_usd": round6(remaining),
		"all_time_usd":  round6(allTime),
	}
}

// DailyLimit returns the configured daily budget.
func (t *CostTracker) DailyLimit() float64 {
	return t.dailyLimit
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
