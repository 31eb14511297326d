package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/options-trader/internal/config"
)

func TestWebhookDedupesInsideWindow(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	w := NewWebhook(config.Alerts{DedupeSeconds: 60, RateLimitPerMin: 20}, clock)

	a := Alert{Severity: High, Title: "portfolio heat", Message: "heat above limit"}
	w.Send(a)
	w.Send(a) // duplicate inside window
	assert.Len(t, w.History(), 2, "history records every alert, deduped or not")

	w.mu.Lock()
	sentOnce := len(w.lastSent) == 1
	w.mu.Unlock()
	assert.True(t, sentOnce)

	// outside the window the same alert sends again
	now = now.Add(61 * time.Second)
	w.Send(a)
	w.mu.Lock()
	last := w.lastSent[dedupeKey(a)]
	w.mu.Unlock()
	assert.Equal(t, now, last)
}

func TestWebhookDistinctAlertsNotDeduped(t *testing.T) {
	w := NewWebhook(config.Alerts{DedupeSeconds: 60, RateLimitPerMin: 20}, nil)
	w.Send(Alert{Severity: High, Title: "a", Message: "m"})
	w.Send(Alert{Severity: High, Title: "b", Message: "m"})
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.lastSent, 2)
}

func TestWebhookHistoryBounded(t *testing.T) {
	w := NewWebhook(config.Alerts{DedupeSeconds: 1, RateLimitPerMin: 20}, nil)
	for i := 0; i < historySize+50; i++ {
		w.Send(Alert{Severity: Info, Title: "t", Message: string(rune('a' + i%26))})
	}
	assert.Len(t, w.History(), historySize)
}

func TestSeverityHelpers(t *testing.T) {
	w := NewWebhook(config.Alerts{DedupeSeconds: 60, RateLimitPerMin: 20}, nil)
	w.SendRiskAlert("sector exposure", "tech above cap", map[string]string{"sector": "tech"})
	w.SendPerformanceAlert("slow fills", "executions lagging", nil)

	h := w.History()
	require.Len(t, h, 2)
	assert.Equal(t, High, h[0].Severity)
	assert.Equal(t, Warning, h[1].Severity)
	assert.False(t, h[0].Timestamp.IsZero())
}

func TestDisabledWebhookStillRecordsHistory(t *testing.T) {
	w := NewWebhook(config.Alerts{Enabled: false, DedupeSeconds: 60, RateLimitPerMin: 20}, nil)
	w.Send(Alert{Severity: Critical, Title: "circuit breaker", Message: "broker_api tripped"})
	assert.Len(t, w.History(), 1)
}
