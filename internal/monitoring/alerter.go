package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stageload/internal/config"
	"github.com/sells-group/stageload/internal/fetcher"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStaleRun  AlertType = "stale_run"
	AlertRunFailed AlertType = "run_failed"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Task      string         `json:"task"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Poster delivers a JSON payload; fetcher.HTTPFetcher satisfies it.
type Poster interface {
	PostJSON(ctx context.Context, rawURL string, body any, headers map[string]string) (*fetcher.Response, error)
}

// Alerter turns a MetricsSnapshot into alerts and sends them via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	poster Poster
}

// NewAlerter creates an Alerter. poster may be nil when no webhook is set.
func NewAlerter(cfg config.MonitoringConfig, poster Poster) *Alerter {
	return &Alerter{cfg: cfg, poster: poster}
}

// Evaluate returns one alert per stale task and per recently failed task.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	for _, r := range snap.Stale {
		running := now.Sub(*r.StartedAt).Round(time.Minute)
		alerts = append(alerts, Alert{
			Type:     AlertStaleRun,
			Severity: "medium",
			Task:     r.Task,
			Message: fmt.Sprintf("Task %s has been running for %s (threshold %s)",
				r.Task, running, snap.StaleAfter),
			Details: map[string]any{
				"run_id":     r.RunID,
				"started_at": r.StartedAt,
			},
			Timestamp: now,
		})
	}

	for _, r := range snap.RecentFailures {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Task:     r.Task,
			Message:  fmt.Sprintf("Task %s failed: %s", r.Task, r.Error),
			Details: map[string]any{
				"run_id":    r.RunID,
				"failed_at": r.FailedAt,
			},
			Timestamp: now,
		})
	}
	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || a.poster == nil || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("task", alert.Task),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("task", alert.Task),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	resp, err := a.poster.PostJSON(ctx, a.cfg.WebhookURL, alert, nil)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
