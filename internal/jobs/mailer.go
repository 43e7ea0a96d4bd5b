package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ResendEndpoint is the Resend send-email API.
const ResendEndpoint = "https://api.resend.com/emails"

var (
	// ErrMailDisabled is returned when no API key is configured.
	ErrMailDisabled = errors.New("email delivery not configured")
	ErrMailerOpen   = errors.New("email provider unavailable, circuit open")
)

// Email is one outgoing message.
type Email struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers email. Enabled is false when sending would be a no-op.
type Mailer interface {
	Send(ctx context.Context, e Email) (id string, err error)
	Enabled() bool
}

// ResendMailer posts to the Resend HTTP API.
type ResendMailer struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
	breaker  *breaker
}

func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		apiKey:   apiKey,
		from:     from,
		endpoint: ResendEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		breaker:  newBreaker(5, 30*time.Second),
	}
}

func (m *ResendMailer) Enabled() bool { return m.apiKey != "" }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (m *ResendMailer) Send(ctx context.Context, e Email) (string, error) {
	if !m.Enabled() {
		return "", ErrMailDisabled
	}
	if !m.breaker.Allow() {
		return "", ErrMailerOpen
	}
	from := e.From
	if from == "" {
		from = m.from
	}
	body, err := json.Marshal(resendRequest{From: from, To: e.To, Subject: e.Subject, HTML: e.HTML, Text: e.Text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		m.breaker.Failure()
		return "", fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()

	var out resendResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		m.breaker.Failure()
		return "", fmt.Errorf("resend: status %d: %s", resp.StatusCode, out.Message)
	}
	// 4xx other than 429 is our fault, not an outage
	m.breaker.Success()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("resend: status %d: %s", resp.StatusCode, out.Message)
	}
	return out.ID, nil
}

// LogMailer only logs. It stands in when RESEND_API_KEY is unset.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Enabled() bool { return false }

func (m *LogMailer) Send(_ context.Context, e Email) (string, error) {
	m.log.Info("email not sent, delivery not configured",
		slog.Any("to", e.To), slog.String("subject", e.Subject))
	return "", nil
}

// NewMailer picks Resend when apiKey is set.
func NewMailer(apiKey, from string, log *slog.Logger) Mailer {
	if apiKey == "" {
		return NewLogMailer(log)
	}
	return NewResendMailer(apiKey, from)
}
