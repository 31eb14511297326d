// Package alerts delivers operational notifications over a webhook with
// dedupe, rate limiting and bounded retry.
package alerts

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/options-trader/internal/config"
	"github.com/Rajchodisetti/options-trader/internal/observ"
)

// Severity orders alerts from informational to page-worthy.
type Severity string

const (
	Info     Severity = "INFO"
	Warning  Severity = "WARNING"
	High     Severity = "HIGH"
	Critical Severity = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Severity  Severity          `json:"severity"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier is the alerting surface the pipeline components depend on.
type Notifier interface {
	Send(a Alert)
	SendRiskAlert(title, message string, fields map[string]string)
	SendPerformanceAlert(title, message string, fields map[string]string)
}

// historySize bounds the in-memory alert ring kept for status surfaces.
const historySize = 200

// Webhook posts alerts to a JSON webhook. Duplicate alerts inside the
// dedupe window are dropped, the limiter caps outbound rate, and a failed
// post is retried twice with a doubling delay before being dropped.
type Webhook struct {
	cfg     config.Alerts
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
	history  []Alert
}

// NewWebhook creates a webhook notifier. A nil now func defaults to
// time.Now.
func NewWebhook(cfg config.Alerts, now func() time.Time) *Webhook {
	if now == nil {
		now = time.Now
	}
	perSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60)
	return &Webhook{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(perSec, cfg.RateLimitPerMin),
		now:      now,
		lastSent: make(map[string]time.Time),
	}
}

func (w *Webhook) Send(a Alert) {
	if a.Timestamp.IsZero() {
		a.Timestamp = w.now()
	}

	w.mu.Lock()
	w.history = append(w.history, a)
	if len(w.history) > historySize {
		w.history = w.history[len(w.history)-historySize:]
	}

	key := dedupeKey(a)
	window := time.Duration(w.cfg.DedupeSeconds) * time.Second
	if last, ok := w.lastSent[key]; ok && w.now().Sub(last) < window {
		w.mu.Unlock()
		observ.IncCounter("alerts_deduped_total", map[string]string{"severity": string(a.Severity)})
		return
	}
	w.lastSent[key] = w.now()
	enabled := w.cfg.Enabled && w.cfg.WebhookURL != ""
	w.mu.Unlock()

	observ.Log("alert", map[string]any{
		"severity": string(a.Severity), "title": a.Title, "message": a.Message,
	})
	if !enabled {
		return
	}
	if !w.limiter.Allow() {
		observ.IncCounter("alerts_rate_limited_total", nil)
		return
	}
	go w.post(a)
}

// SendRiskAlert raises a HIGH severity alert for risk limit events.
func (w *Webhook) SendRiskAlert(title, message string, fields map[string]string) {
	w.Send(Alert{Severity: High, Title: title, Message: message, Fields: fields})
}

// SendPerformanceAlert raises a WARNING for degraded pipeline behavior.
func (w *Webhook) SendPerformanceAlert(title, message string, fields map[string]string) {
	w.Send(Alert{Severity: Warning, Title: title, Message: message, Fields: fields})
}

// History returns a copy of the recent alert ring, newest last.
func (w *Webhook) History() []Alert {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Alert, len(w.history))
	copy(out, w.history)
	return out
}

func (w *Webhook) post(a Alert) {
	body, err := json.Marshal(a)
	if err != nil {
		return
	}
	delay := time.Second
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		resp, err := w.client.Post(w.cfg.WebhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			observ.IncCounter("alerts_webhook_errors_total", nil)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 300 {
			observ.IncCounter("alerts_sent_total", map[string]string{"severity": string(a.Severity)})
			return
		}
		observ.IncCounter("alerts_webhook_errors_total", nil)
	}
	observ.Warn("alert_dropped", map[string]any{"title": a.Title})
}

func dedupeKey(a Alert) string {
	h := sha256.Sum256([]byte(string(a.Severity) + "|" + a.Title + "|" + a.Message))
	return fmt.Sprintf("%x", h[:8])
}

// Noop discards every alert; useful as a default collaborator in tests.
type Noop struct{}

func (Noop) Send(Alert)                                             {}
func (Noop) SendRiskAlert(string, string, map[string]string)        {}
func (Noop) SendPerformanceAlert(string, string, map[string]string) {}
