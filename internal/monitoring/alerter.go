package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/order-intake/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertDocumentFailureRate AlertType = "document_failure_rate"
	AlertCodeMissRate        AlertType = "cross_reference_miss_rate"
	AlertXRefSourceErrors    AlertType = "cross_reference_source_errors"
)

// Minimum sample sizes before a rate alert fires.
const (
	minFinishedDocuments = 5
	minCodeLookups       = 20
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.DocumentsDone + snap.DocumentsFailed
	if finished >= minFinishedDocuments && snap.DocumentFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDocumentFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Document failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.DocumentFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.DocumentsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.DocumentFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.DocumentsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MissRateThreshold > 0 && snap.CodeLookups >= minCodeLookups && snap.CodeMissRate > a.cfg.MissRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCodeMissRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of vendor codes had no cross-reference (%d of %d lookups, %d distinct codes pending)",
				snap.CodeMissRate*100, snap.CodeMisses, snap.CodeLookups, snap.UnresolvedCodes,
			),
			Details: map[string]any{
				"miss_rate":        snap.CodeMissRate,
				"threshold":        a.cfg.MissRateThreshold,
				"unresolved_codes": snap.UnresolvedCodes,
			},
			Timestamp: now,
		})
	}

	if snap.XRefErrors > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertXRefSourceErrors,
			Severity: "high",
			Message:  fmt.Sprintf("%d cross-reference lookup(s) failed at the source", snap.XRefErrors),
			Details: map[string]any{
				"errors":  snap.XRefErrors,
				"lookups": snap.CodeLookups,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
