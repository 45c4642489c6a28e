// Package slack posts job failure alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orderguard/orderguard/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, turns the job id into a link to <prefix>/<job id>.
	JobURLPrefix string
}

// Client delivers job failure notifications to a Slack webhook.
type Client struct {
	hook         notify.Webhook
	channel      string
	username     string
	jobURLPrefix string
	now          func() time.Time
}

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		hook: notify.Webhook{
			Name:       "slack webhook",
			URL:        webhookURL,
			RetryLimit: max(cfg.RetryLimit, 0),
			Client:     hc,
		},
		channel:      strings.TrimSpace(cfg.Channel),
		username:     notify.Fallback(strings.TrimSpace(cfg.Username), "orderguard"),
		jobURLPrefix: strings.TrimSpace(cfg.JobURLPrefix),
		now:          time.Now,
	}, nil
}

// SendJobFailure posts a formatted message to Slack.
func (c *Client) SendJobFailure(ctx context.Context, payload notify.JobFailurePayload) error {
	body, err := json.Marshal(c.formatMessage(payload))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return c.hook.Post(ctx, body)
}

func (c *Client) formatMessage(payload notify.JobFailurePayload) map[string]any {
	timestamp := payload.OccurredAt
	if timestamp.IsZero() {
		timestamp = c.now()
	}

	var text strings.Builder
	c.writeHeader(&text, payload)
	writeDetails(&text, payload)
	writeMetadata(&text, payload.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(timestamp.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func (c *Client) writeHeader(text *strings.Builder, payload notify.JobFailurePayload) {
	text.WriteString("*Batch job failed*")
	if id := escapeText(strings.TrimSpace(payload.JobID)); id != "" {
		text.WriteByte(' ')
		if link := c.jobLink(payload.JobID); link != "" {
			fmt.Fprintf(text, "<%s|%s>", link, id)
		} else {
			text.WriteString("`" + id + "`")
		}
	}
	if payload.JobType != "" {
		text.WriteString(" (" + escapeText(payload.JobType) + ")")
	}
	text.WriteByte('\n')
}

func writeDetails(text *strings.Builder, payload notify.JobFailurePayload) {
	progress := ""
	if payload.TotalItems > 0 {
		progress = strconv.Itoa(payload.ProcessedItems) + "/" + strconv.Itoa(payload.TotalItems) + " items"
	}
	attempts := ""
	if payload.Attempts > 0 {
		attempts = strconv.Itoa(payload.Attempts)
	}

	fields := []struct {
		label string
		value string
	}{
		{"Severity", notify.Fallback(payload.Severity, notify.SeverityCritical)},
		{"Tenant", escapeText(payload.TenantID)},
		{"Attempts", attempts},
		{"Progress", progress},
		{"Error class", payload.ErrorClass},
		{"Error", escapeText(payload.Error)},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		text.WriteString("• " + f.label + ": " + f.value + "\n")
	}
}

func writeMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	text.WriteString("• Metadata:\n")
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		text.WriteString("    • " + escapeText(k) + ": " + escapeText(metadata[k]) + "\n")
	}
}

func escapeText(value string) string {
	if value == "" {
		return ""
	}
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(value)
}

func (c *Client) jobLink(jobID string) string {
	if c.jobURLPrefix == "" {
		return ""
	}
	u, err := url.Parse(c.jobURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	link, err := url.JoinPath(u.String(), jobID)
	if err != nil {
		return ""
	}
	return link
}
