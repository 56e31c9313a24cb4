package auth

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"switchyard.dev/model"
)

// oauth2Token returns a usable access token for an OAUTH2 client-credentials
// block, from the cache when fresh, otherwise from the token endpoint.
func (b *Builder) oauth2Token(ctx context.Context, integration *model.IntegrationConfig, authCfg *model.AuthConfig) (string, error) {
	if token, ok := b.cachedToken(integration); ok {
		return token, nil
	}

	if authCfg.TokenURL == "" || authCfg.ClientID == "" || authCfg.ClientSecret == "" {
		return "", failf("OAUTH2 auth requires tokenUrl, clientId and clientSecret")
	}

	cfg := &clientcredentials.Config{
		TokenURL:     authCfg.TokenURL,
		ClientID:     authCfg.ClientID,
		ClientSecret: authCfg.ClientSecret,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if authCfg.Scope != "" {
		cfg.Scopes = []string{authCfg.Scope}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, tokenRequestTimeout)
	defer cancel()
	fetchCtx = context.WithValue(fetchCtx, oauth2.HTTPClient, b.httpClient)

	token, err := cfg.Token(fetchCtx)
	if err != nil {
		return "", &Error{Code: model.ErrCodeAuthFailed, Message: "OAUTH2 token fetch failed", Err: err}
	}
	if token.AccessToken == "" {
		return "", failf("OAUTH2 token endpoint returned an empty access_token")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		// The endpoint sent no expires_in; assume the standard hour.
		expiresAt = b.now().Add(time.Hour)
	}
	b.storeToken(ctx, integration, token.AccessToken, token.RefreshToken, expiresAt)

	return token.AccessToken, nil
}

// SetHTTPClient overrides the token-fetch client, mainly for tests.
func (b *Builder) SetHTTPClient(client *http.Client) {
	if client != nil {
		b.httpClient = client
	}
}
