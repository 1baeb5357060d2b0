// Package discord sends incident notifications to Discord via webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/incident"
)

const httpTimeout = 10 * time.Second

// Notifier posts incident events to a Discord webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Discord notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts an incident event to the configured webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, ev incident.Event) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(ev))
	if err != nil {
		return fmt.Errorf("discord: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(ev incident.Event) map[string]any {
	inc := ev.Incident

	title := "New incident"
	if ev.Kind == incident.EventUpdated {
		title = "Incident updated"
	}
	if inc.Protocol != "" {
		title += ": " + inc.Protocol
	}

	embed := map[string]any{
		"title":     title,
		"color":     severityColor(inc.Severity),
		"fields":    buildFields(inc),
		"timestamp": inc.LastUpdatedAt.UTC().Format(time.RFC3339),
		"footer": map[string]any{
			"text": "chainwatch • incident " + inc.ID,
		},
	}

	return map[string]any{"embeds": []map[string]any{embed}}
}

func buildFields(inc *incident.Incident) []map[string]any {
	var fields []map[string]any
	add := func(name, value string) {
		if value == "" {
			return
		}
		fields = append(fields, map[string]any{
			"name": name, "value": value, "inline": true,
		})
	}

	add("Severity", inc.Severity)
	add("Chain", inc.Chain)
	add("Type", inc.ExploitType)
	add("Loss", formatLoss(inc.LossUSD))
	add("Tx", truncateHash(inc.TxHash))
	add("Sources", strings.Join(inc.Sources, ", "))
	if len(inc.Conflicts) > 0 {
		add("Conflicts", strconv.Itoa(len(inc.Conflicts)))
	}
	return fields
}

func severityColor(severity string) int {
	switch strings.ToLower(severity) {
	case "critical":
		return 0xe74c3c // red
	case "high":
		return 0xe67e22 // orange
	case "medium":
		return 0xf1c40f // yellow
	case "low":
		return 0x2ecc71 // green
	default:
		return 0x95a5a6 // grey
	}
}

func formatLoss(loss *float64) string {
	if loss == nil {
		return ""
	}
	v := *loss
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func truncateHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}
