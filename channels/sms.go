package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSAdapter sends text messages through a REST SMS gateway. Settings carry
// the endpoint and credentials, the payload carries to and message.
type SMSAdapter struct {
	httpClient *http.Client
}

// NewSMSAdapter builds an adapter with the standard 30s provider timeout.
func NewSMSAdapter() *SMSAdapter {
	return &SMSAdapter{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Send posts {to, message, sender?} to the gateway from settings.
//
// Recognized settings: apiUrl (required), apiKey (header auth), senderId.
// Recognized payload fields: to (required), message (required).
func (a *SMSAdapter) Send(ctx context.Context, payload map[string]interface{}, settings map[string]interface{}) (*SendResult, error) {
	apiURL, _ := settings["apiUrl"].(string)
	if apiURL == "" {
		return nil, fmt.Errorf("sms settings require apiUrl")
	}
	to, _ := payload["to"].(string)
	message, _ := payload["message"].(string)
	if to == "" || message == "" {
		return nil, fmt.Errorf("sms payload requires to and message")
	}

	body := map[string]interface{}{"to": to, "message": message}
	if sender, ok := settings["senderId"].(string); ok && sender != "" {
		body["sender"] = sender
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key, ok := settings["apiKey"].(string); ok && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms gateway unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, string(respBody))
	}

	return &SendResult{MessageID: extractMessageID(respBody)}, nil
}
