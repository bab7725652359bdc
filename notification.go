package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const notifySendTimeout = 15 * time.Second

// severityColors back the HTML email template, one accent per level.
var severityColors = map[Severity]string{
	SeverityLow:      "#4CAF50",
	SeverityMedium:   "#FF9800",
	SeverityHigh:     "#f44336",
	SeverityCritical: "#9C27B0",
}

// NotificationSender delivers one alert over one channel.
type NotificationSender interface {
	Send(ctx context.Context, payload *AlertPayload) error
	Name() string
}

// NotificationRegistry fans alerts out to the configured senders. Delivery is
// asynchronous so a slow channel never stalls the scan cycle.
type NotificationRegistry struct {
	logger  zerolog.Logger
	senders []NotificationSender
}

// NewNotificationRegistry creates an empty registry.
func NewNotificationRegistry(logger zerolog.Logger) *NotificationRegistry {
	return &NotificationRegistry{logger: logger}
}

// Register adds a sender. Not safe to call after Dispatch is in use; wire
// senders at startup.
func (r *NotificationRegistry) Register(sender NotificationSender) {
	r.senders = append(r.senders, sender)
}

// Senders returns the registered channel names.
func (r *NotificationRegistry) Senders() []string {
	names := make([]string, 0, len(r.senders))
	for _, s := range r.senders {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch sends the alert to every registered channel in the background. A
// channel failure is logged and never propagates.
func (r *NotificationRegistry) Dispatch(payload *AlertPayload) {
	if payload == nil {
		return
	}
	for _, sender := range r.senders {
		go func(sender NotificationSender) {
			ctx, cancel := context.WithTimeout(context.Background(), notifySendTimeout)
			defer cancel()

			if err := sender.Send(ctx, payload); err != nil {
				r.logger.Error().
					Str("channel", sender.Name()).
					Str("event_type", string(payload.EventType)).
					Err(err).
					Msg("alert delivery failed")
			}
		}(sender)
	}
}

// alertLocation renders the payload's geo data for human-facing channels.
func alertLocation(payload *AlertPayload) string {
	if payload.Geo == nil {
		return "Unknown"
	}
	parts := make([]string, 0, 3)
	if payload.Geo.City != "" {
		parts = append(parts, payload.Geo.City)
	}
	if payload.Geo.Country != "" {
		parts = append(parts, payload.Geo.Country)
	}
	if payload.Geo.Org != "" {
		parts = append(parts, payload.Geo.Org)
	}
	if len(parts) == 0 {
		return "Unknown"
	}
	return strings.Join(parts, ", ")
}

// LogSender writes alerts to the structured log. Always registered so an
// alert is visible even with no external channel configured.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, payload *AlertPayload) error {
	s.logger.Warn().
		Str("event_type", string(payload.EventType)).
		Str("severity", string(payload.Severity)).
		Str("ip", payload.IP).
		Str("location", alertLocation(payload)).
		Str("detail", payload.Detail).
		Time("timestamp", payload.Timestamp).
		Msg("security alert")
	return nil
}

// WebhookSender POSTs the alert payload as JSON to a generic endpoint.
type WebhookSender struct {
	client *http.Client
	url    string
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
	}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, payload *AlertPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Sentinel-Notification/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}

// SlackSender posts a rich-formatted alert to a Slack incoming webhook.
type SlackSender struct {
	client *http.Client
	url    string
}

func NewSlackSender(url string) *SlackSender {
	return &SlackSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
	}
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, payload *AlertPayload) error {
	slackPayload := map[string]interface{}{
		"text": fmt.Sprintf("Security Alert: %s", payload.EventType),
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": fmt.Sprintf("🚨 Security Alert: %s", payload.EventType),
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": payload.Detail,
				},
			},
			{
				"type": "section",
				"fields": []map[string]string{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:*\n%s", payload.Severity)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Source IP:*\n%s", payload.IP)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Location:*\n%s", alertLocation(payload))},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Time:*\n%s", payload.Timestamp.Format(time.RFC3339))},
				},
			},
		},
	}

	jsonData, err := json.Marshal(slackPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack notification: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}

// SMTPConfig carries the email channel settings.
type SMTPConfig struct {
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	From      string   `json:"from"`
	Recipient []string `json:"recipient"`
}

// EmailSender delivers alerts as HTML email over plain-auth SMTP.
type EmailSender struct {
	cfg SMTPConfig
}

func NewEmailSender(cfg SMTPConfig) *EmailSender {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &EmailSender{cfg: cfg}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(_ context.Context, payload *AlertPayload) error {
	if s.cfg.Host == "" || len(s.cfg.Recipient) == 0 {
		return fmt.Errorf("email channel not fully configured")
	}

	subject := fmt.Sprintf("Security Alert [%s]: %s", strings.ToUpper(string(payload.Severity)), payload.EventType)
	body := emailBody(payload)

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.cfg.Recipient, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, s.cfg.Recipient, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send alert email: %v", err)
	}
	return nil
}

func emailBody(payload *AlertPayload) string {
	color, ok := severityColors[payload.Severity]
	if !ok {
		color = severityColors[SeverityLow]
	}
	ip := payload.IP
	if ip == "" {
		ip = "n/a"
	}
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif;">
  <div style="border-left: 6px solid %s; padding: 12px 16px; background: #f5f5f5;">
    <h2 style="margin-top: 0; color: %s;">Security Alert: %s</h2>
    <p>%s</p>
    <table cellpadding="4">
      <tr><td><b>Severity</b></td><td>%s</td></tr>
      <tr><td><b>Source IP</b></td><td>%s</td></tr>
      <tr><td><b>Location</b></td><td>%s</td></tr>
      <tr><td><b>Time</b></td><td>%s</td></tr>
    </table>
  </div>
</body>
</html>`,
		color, color,
		payload.EventType,
		payload.Detail,
		payload.Severity,
		ip,
		alertLocation(payload),
		payload.Timestamp.Format(time.RFC3339),
	)
}
