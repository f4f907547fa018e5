// Package services provides external service integrations and technical concerns like outbound email transport
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"

	"github.com/clubroster/mailengine/config"
)

// OutboundEmail is the payload handed to the provider. Bodies arrive
// pre-rendered; headers beyond from/to are the provider's concern.
type OutboundEmail struct {
	RecipientEmail string
	RecipientName  *string
	Subject        string
	BodyHTML       string
	BodyText       *string
}

// EmailProvider is the outbound transport consumed by the delivery
// worker. Send returns the provider's opaque message id on success, used
// for later reconciliation.
type EmailProvider interface {
	Send(ctx context.Context, email OutboundEmail) (providerMessageID string, err error)
}

// EmailProviderImpl implements EmailProvider against an HTTP JSON
// provider API
type EmailProviderImpl struct {
	config *config.MailerConfig
	client *http.Client
}

// providerSendRequest represents the request payload for the provider API
type providerSendRequest struct {
	From     string  `json:"from"`
	FromName string  `json:"from_name,omitempty"`
	To       string  `json:"to"`
	ToName   *string `json:"to_name,omitempty"`
	Subject  string  `json:"subject"`
	HTML     string  `json:"html"`
	Text     *string `json:"text,omitempty"`
}

// providerSendResponse represents the provider API result
type providerSendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NewEmailProvider creates a new provider client instance
func NewEmailProvider(cfg *config.MailerConfig) EmailProvider {
	return &EmailProviderImpl{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Send dispatches one email through the provider API. Any transport or
// provider error is transient from the engine's perspective; the worker
// decides on retries.
func (s *EmailProviderImpl) Send(ctx context.Context, email OutboundEmail) (string, error) {
	payload := providerSendRequest{
		From:     s.config.FromEmail,
		FromName: s.config.FromName,
		To:       email.RecipientEmail,
		ToName:   email.RecipientName,
		Subject:  email.Subject,
		HTML:     email.BodyHTML,
		Text:     email.BodyText,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.ProviderURL, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider http status %d: %s", resp.StatusCode, string(body))
	}

	var out providerSendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode provider response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("provider rejected message: %s", out.Error)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("provider returned empty message id")
	}
	return out.MessageID, nil
}

// MockEmailProvider logs sends and fabricates message ids. Used in
// development and tests.
type MockEmailProvider struct {
	counter atomic.Int64
}

func NewMockEmailProvider() *MockEmailProvider {
	return &MockEmailProvider{}
}

func (p *MockEmailProvider) Send(ctx context.Context, email OutboundEmail) (string, error) {
	n := p.counter.Add(1)
	log.Printf("Email sent to %s [%s]", email.RecipientEmail, email.Subject)
	return fmt.Sprintf("mock-%d", n), nil
}
