// Package telegram sends incident notifications via the Telegram bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/chainwatch/internal/incident"
)

const httpTimeout = 10 * time.Second

// Notifier sends incident events to a Telegram chat.
type Notifier struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// New creates a new Telegram notifier. If token or chatID is empty, Send is
// a no-op.
func New(token, chatID string) *Notifier {
	return &Notifier{
		apiBase: "https://api.telegram.org",
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// Send posts an incident event to the configured chat.
func (n *Notifier) Send(ctx context.Context, ev incident.Event) error {
	if n.token == "" || n.chatID == "" {
		return nil
	}

	payload := map[string]any{
		"chat_id":    n.chatID,
		"text":       buildText(ev),
		"parse_mode": "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: api returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildText(ev incident.Event) string {
	inc := ev.Incident

	var b strings.Builder
	if ev.Kind == incident.EventCreated {
		b.WriteString(severityEmoji(inc.Severity) + " <b>New incident</b>")
	} else {
		b.WriteString(severityEmoji(inc.Severity) + " <b>Incident updated</b>")
	}
	if inc.Protocol != "" {
		b.WriteString(": " + html(inc.Protocol))
	}
	b.WriteString("\n")

	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "\n<b>%s:</b> %s", label, html(value))
	}

	line("Severity", inc.Severity)
	line("Chain", inc.Chain)
	line("Type", inc.ExploitType)
	if inc.LossUSD != nil {
		line("Loss", fmt.Sprintf("$%.0f", *inc.LossUSD))
	}
	line("Tx", inc.TxHash)
	line("Sources", strings.Join(inc.Sources, ", "))

	fmt.Fprintf(&b, "\n\nincident %s", html(inc.ID))
	return b.String()
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical", "high":
		return "\U0001f534" // red circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func html(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
