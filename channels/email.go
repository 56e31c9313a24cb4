package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"switchyard.dev/common"
)

// EmailAdapter sends mail through a REST mail provider. The settings block
// supplies the provider endpoint and credentials; the payload supplies the
// message itself (to, subject, body/html). Providers that return a message id
// in their JSON response have it propagated, others get a generated one so
// the log row always carries a message id.
type EmailAdapter struct {
	httpClient *http.Client
}

// NewEmailAdapter builds an adapter with the standard 30s provider timeout.
func NewEmailAdapter() *EmailAdapter {
	return &EmailAdapter{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// Send posts the message to the provider endpoint from settings.
//
// Recognized settings: apiUrl (required), apiUser/apiPass (basic auth) or
// apiKey (bearer), fromEmail, fromName.
// Recognized payload fields: to (string or list), subject, body, html.
func (a *EmailAdapter) Send(ctx context.Context, payload map[string]interface{}, settings map[string]interface{}) (*SendResult, error) {
	apiURL, _ := settings["apiUrl"].(string)
	if apiURL == "" {
		return nil, fmt.Errorf("email settings require apiUrl")
	}
	if _, ok := payload["to"]; !ok {
		return nil, fmt.Errorf("email payload requires a recipient (to)")
	}

	message := map[string]interface{}{
		"to":      payload["to"],
		"subject": payload["subject"],
	}
	if html, ok := payload["html"]; ok {
		message["html"] = html
	} else {
		message["body"] = payload["body"]
	}
	if from, ok := settings["fromEmail"].(string); ok && from != "" {
		message["from_email"] = from
	}
	if name, ok := settings["fromName"].(string); ok && name != "" {
		message["from_name"] = name
	}

	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("email payload is not serializable: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if user, ok := settings["apiUser"].(string); ok && user != "" {
		pass, _ := settings["apiPass"].(string)
		req.SetBasicAuth(user, pass)
	} else if key, ok := settings["apiKey"].(string); ok && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("email provider unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("email provider returned %d: %s", resp.StatusCode, string(body))
	}

	return &SendResult{MessageID: extractMessageID(body)}, nil
}

// extractMessageID pulls a message id out of common provider response
// shapes, falling back to a generated id.
func extractMessageID(body []byte) string {
	var decoded map[string]interface{}
	if json.Unmarshal(body, &decoded) == nil {
		for _, path := range []string{"messageId", "message_id", "id", "data.id"} {
			if value, ok := common.GetPathString(decoded, path); ok && value != "" {
				return value
			}
			if value, ok := common.GetPath(decoded, path); ok {
				if f, isNum := value.(float64); isNum {
					return fmt.Sprintf("%.0f", f)
				}
			}
		}
	}
	return uuid.NewString()
}
