package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// customToken fetches a token from a configurable endpoint: method and JSON
// body from the auth block, token extracted from the response by dot path
// (default "access_token"), optional expiry path alongside.
func (b *Builder) customToken(ctx context.Context, integration *model.IntegrationConfig, authCfg *model.AuthConfig) (string, error) {
	if token, ok := b.cachedToken(integration); ok {
		return token, nil
	}

	if authCfg.AuthURL == "" {
		return "", failf("CUSTOM auth requires authUrl")
	}

	method := authCfg.AuthMethod
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if len(authCfg.AuthBody) > 0 {
		encoded, err := json.Marshal(authCfg.AuthBody)
		if err != nil {
			return "", failf("CUSTOM auth body is not serializable: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, method, authCfg.AuthURL, body)
	if err != nil {
		return "", failf("CUSTOM auth request is invalid: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", &Error{Code: model.ErrCodeAuthFailed, Message: "CUSTOM token fetch failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Code: model.ErrCodeAuthFailed, Message: "CUSTOM token response unreadable", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", failf("CUSTOM token endpoint returned %d", resp.StatusCode)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return "", failf("CUSTOM token response is not JSON: %v", err)
	}

	tokenPath := authCfg.TokenResponsePath
	if tokenPath == "" {
		tokenPath = "access_token"
	}
	raw, found := common.GetPath(decoded, tokenPath)
	if !found || raw == nil {
		return "", failf("CUSTOM token response has no value at %q", tokenPath)
	}
	token := fmt.Sprintf("%v", raw)
	if token == "" {
		return "", failf("CUSTOM token at %q is empty", tokenPath)
	}

	expiresAt := b.now().Add(time.Hour)
	if authCfg.TokenExpiresPath != "" {
		if rawExpiry, ok := common.GetPath(decoded, authCfg.TokenExpiresPath); ok {
			if seconds, ok := rawExpiry.(float64); ok && seconds > 0 {
				expiresAt = b.now().Add(time.Duration(seconds) * time.Second)
			}
		}
	}

	b.storeToken(ctx, integration, token, "", expiresAt)
	return token, nil
}
