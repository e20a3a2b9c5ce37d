package agents

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marketwatch-trading/backend/internal/events"
	"github.com/marketwatch-trading/backend/internal/monitoring"
	"github.com/marketwatch-trading/backend/internal/universe"
)

const uiCheckBodyLimit = 2 << 20

// uiCheckMarkers are the element ids the dashboard must render for a
// check to pass.
var uiCheckMarkers = map[string]string{
	"has_metric_return": "metric-return",
	"has_pie_chart":     "position-pie-chart",
	"has_trades_table":  "analytics-trades",
}

// UICheckAgent runs a periodic UI smoke test: fetch the dashboard and
// verify the key elements are present, appending each result to
// ui_checks.jsonl through the system log writer.
type UICheckAgent struct {
	baseAgent
	client *http.Client
	writer *monitoring.SystemLogWriter
}

func NewUICheckAgent(ctx *universe.Context, bus *events.Bus, writer *monitoring.SystemLogWriter, cfgFn ConfigFn, logger *zap.Logger) *UICheckAgent {
	return &UICheckAgent{
		baseAgent: newBaseAgent("ui_check_agent", ctx, bus, cfgFn, logger),
		client:    &http.Client{Timeout: 10 * time.Second},
		writer:    writer,
	}
}

// Tick performs one smoke test run.
func (a *UICheckAgent) Tick(ctx context.Context) error {
	cfg := a.cfgFn()
	if !cfg.UICheckEnabled || cfg.UICheckURL == "" {
		return nil
	}

	started := time.Now().UTC()
	status, detail := a.checkOnce(ctx, cfg.UICheckURL)

	entry := map[string]any{
		"timestamp":  started.Format(time.RFC3339),
		"session_id": a.ctx.SessionID(),
		"url":        cfg.UICheckURL,
		"status":     status,
		"detail":     detail,
	}
	if err := a.writer.Write(entry); err != nil {
		a.logger.Warn("ui check append failed", zap.Error(err))
	}

	level := "info"
	if status != "ok" {
		level = "warning"
	}
	result := events.LogEvent{
		BaseEvent: a.base(),
		Level:     level,
		Message:   "UI check " + status,
		Data:      map[string]any{"url": cfg.UICheckURL, "status": status},
	}
	return a.bus.Publish(result)
}

func (a *UICheckAgent) checkOnce(ctx context.Context, url string) (string, map[string]any) {
	detail := map[string]any{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		detail["error"] = err.Error()
		return "error", detail
	}
	resp, err := a.client.Do(req)
	if err != nil {
		detail["error"] = err.Error()
		return "error", detail
	}
	defer resp.Body.Close()

	detail["status_code"] = resp.StatusCode
	body, err := io.ReadAll(io.LimitReader(resp.Body, uiCheckBodyLimit))
	if err != nil {
		detail["error"] = err.Error()
		return "error", detail
	}

	html := string(body)
	allPresent := true
	for key, marker := range uiCheckMarkers {
		present := strings.Contains(html, marker)
		detail[key] = present
		allPresent = allPresent && present
	}
	if resp.StatusCode != http.StatusOK || !allPresent {
		return "warn", detail
	}
	return "ok", detail
}
