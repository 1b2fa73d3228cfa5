package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmailChannel delivers the digest body via the SparkPost transmissions
// API, trimmed to a single-recipient operator digest send: no suppression
// list, throttling, or click tracking, since this pipeline sends one
// digest, not a bulk campaign.
type EmailChannel struct {
	apiKey     string
	baseURL    string
	fromEmail  string
	fromName   string
	toEmail    string
	httpClient *http.Client
}

// NewEmailChannel builds an EmailChannel. baseURL defaults to SparkPost's
// production API root when empty.
func NewEmailChannel(apiKey, baseURL, fromEmail, fromName, toEmail string) *EmailChannel {
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	return &EmailChannel{
		apiKey:     apiKey,
		baseURL:    baseURL,
		fromEmail:  fromEmail,
		fromName:   fromName,
		toEmail:    toEmail,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Deliver(ctx context.Context, runType, digestDate, htmlBody string) error {
	subject := fmt.Sprintf("%s promo digest — %s", runType, digestDate)
	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": e.toEmail}},
		},
		"content": map[string]interface{}{
			"from": map[string]string{"email": e.fromEmail, "name": e.fromName},
			"subject": subject,
			"html":    htmlBody,
		},
	}
	body, err := json.Marshal(transmission)
	if err != nil {
		return fmt.Errorf("notify: marshal transmission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Authorization", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sparkpost request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var spErr struct {
			Errors []struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		json.NewDecoder(resp.Body).Decode(&spErr)
		if len(spErr.Errors) > 0 {
			return fmt.Errorf("notify: sparkpost error: %s", spErr.Errors[0].Message)
		}
		return fmt.Errorf("notify: sparkpost status %d", resp.StatusCode)
	}
	return nil
}
