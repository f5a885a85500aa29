package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// EmailService delivers receipt emails.
type EmailService interface {
	Configured() bool
	Send(ctx context.Context, msg *EmailMessage) error
}

// EmailMessage is one outbound email with optional attachments.
type EmailMessage struct {
	To          string
	ToName      string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []EmailAttachment
}

type EmailAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type sendgridService struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string
	http      *http.Client
}

type SendgridOption func(*sendgridService)

func WithSendgridHTTPClient(c *http.Client) SendgridOption {
	return func(s *sendgridService) {
		s.http = c
	}
}

func WithSendgridBaseURL(url string) SendgridOption {
	return func(s *sendgridService) {
		s.baseURL = url
	}
}

func NewSendgridService(apiKey, fromEmail, fromName string, opts ...SendgridOption) EmailService {
	s := &sendgridService{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   "https://api.sendgrid.com",
		http:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured returns true if the API key is set.
func (s *sendgridService) Configured() bool {
	return s.apiKey != ""
}

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridAttachment struct {
	Content     string `json:"content"`
	Type        string `json:"type"`
	Filename    string `json:"filename"`
	Disposition string `json:"disposition"`
}

type sendgridPayload struct {
	Personalizations []struct {
		To []sendgridAddress `json:"to"`
	} `json:"personalizations"`
	From        sendgridAddress      `json:"from"`
	Subject     string               `json:"subject"`
	Content     []sendgridContent    `json:"content"`
	Attachments []sendgridAttachment `json:"attachments,omitempty"`
}

func (s *sendgridService) Send(ctx context.Context, msg *EmailMessage) error {
	if !s.Configured() {
		return fmt.Errorf("email client not configured: missing API key")
	}

	payload := sendgridPayload{
		From:    sendgridAddress{Email: s.fromEmail, Name: s.fromName},
		Subject: msg.Subject,
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []sendgridAddress `json:"to"`
	}{To: []sendgridAddress{{Email: msg.To, Name: msg.ToName}}})

	// SendGrid requires text/plain before text/html.
	if msg.TextBody != "" {
		payload.Content = append(payload.Content, sendgridContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		payload.Content = append(payload.Content, sendgridContent{Type: "text/html", Value: msg.HTMLBody})
	}
	for _, att := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, sendgridAttachment{
			Content:     base64.StdEncoding.EncodeToString(att.Content),
			Type:        att.ContentType,
			Filename:    att.Filename,
			Disposition: "attachment",
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/mail/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
