// Package auth produces request auth headers for outbound deliveries from an
// integration's auth block. Token-bearing kinds (OAUTH2, CUSTOM) cache their
// tokens on the integration document; cache writes are fire-and-forget so a
// store hiccup never fails the delivery that just fetched a perfectly good
// token.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// ExpiryMargin is subtracted from a token's lifetime before it counts as
// usable, so deliveries never ride a token into its final seconds.
const ExpiryMargin = 300 * time.Second

// tokenRequestTimeout bounds token-endpoint calls.
const tokenRequestTimeout = 10 * time.Second

// Error is an auth failure with its delivery classification attached.
type Error struct {
	Code    model.ErrorCode // AUTH_FAILED or AUTH_EXPIRED
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func failf(format string, args ...interface{}) *Error {
	return &Error{Code: model.ErrCodeAuthFailed, Message: fmt.Sprintf(format, args...)}
}

// TokenCacheStore is the slice of the store the builder writes token caches
// through. Satisfied by *store.Store.
type TokenCacheStore interface {
	UpdateTokenCache(ctx context.Context, integrationID string, cache *model.TokenCache) error
	ClearTokenCache(ctx context.Context, integrationID string) error
}

// Request describes the delivery the headers are being built for; OAUTH1
// signs over the method and URL.
type Request struct {
	Method    string
	TargetURL string
}

// Builder resolves auth blocks into header maps.
type Builder struct {
	store      TokenCacheStore
	httpClient *http.Client
	logger     *common.ContextLogger
	now        func() time.Time
}

// NewBuilder wires the builder to a token-cache store. A nil store disables
// caching; every token-bearing delivery then fetches fresh.
func NewBuilder(store TokenCacheStore) *Builder {
	return &Builder{
		store:      store,
		httpClient: &http.Client{Timeout: tokenRequestTimeout},
		logger:     common.ServiceLogger("auth"),
		now:        time.Now,
	}
}

// Build produces the auth headers for one delivery. The integration is
// consulted for cached tokens; auth may come from the integration itself or
// from an action-level override.
func (b *Builder) Build(ctx context.Context, integration *model.IntegrationConfig, authCfg *model.AuthConfig, req Request) (map[string]string, error) {
	if authCfg == nil || authCfg.Kind == model.AuthNone || authCfg.Kind == "" {
		return map[string]string{}, nil
	}

	switch authCfg.Kind {
	case model.AuthAPIKey:
		if authCfg.HeaderName == "" || authCfg.APIKey == "" {
			return nil, failf("API_KEY auth requires headerName and apiKey")
		}
		return map[string]string{authCfg.HeaderName: authCfg.APIKey}, nil

	case model.AuthBasic:
		if authCfg.Username == "" {
			return nil, failf("BASIC auth requires a username")
		}
		credentials := base64.StdEncoding.EncodeToString([]byte(authCfg.Username + ":" + authCfg.Password))
		return map[string]string{"Authorization": "Basic " + credentials}, nil

	case model.AuthBearer:
		if authCfg.Token == "" {
			return nil, failf("BEARER auth requires a token")
		}
		return map[string]string{"Authorization": "Bearer " + authCfg.Token}, nil

	case model.AuthOAuth1:
		header, err := buildOAuth1Header(authCfg, req.Method, req.TargetURL)
		if err != nil {
			return nil, err
		}
		return map[string]string{"Authorization": header}, nil

	case model.AuthOAuth2:
		token, err := b.oauth2Token(ctx, integration, authCfg)
		if err != nil {
			return nil, err
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil

	case model.AuthCustom:
		token, err := b.customToken(ctx, integration, authCfg)
		if err != nil {
			return nil, err
		}
		headerName := authCfg.AuthHeaderName
		if headerName == "" {
			headerName = "Authorization"
		}
		prefix := authCfg.AuthHeaderPrefix
		if prefix == "" {
			prefix = "Bearer"
		}
		value := token
		if prefix != "" {
			value = prefix + " " + token
		}
		return map[string]string{headerName: value}, nil

	case model.AuthCustomHeaders:
		if len(authCfg.Headers) == 0 {
			return nil, failf("CUSTOM_HEADERS auth requires at least one header")
		}
		headers := make(map[string]string, len(authCfg.Headers))
		for name, value := range authCfg.Headers {
			if name == "" {
				return nil, failf("CUSTOM_HEADERS auth rejects empty header names")
			}
			headers[name] = value
		}
		return headers, nil

	default:
		return nil, failf("unknown auth kind %q", authCfg.Kind)
	}
}

// InvalidateToken clears the cached token after a 401/403 or a body-embedded
// expiry marker. Best-effort; the retry fetches fresh either way because the
// caller also drops its in-memory copy of the integration.
func (b *Builder) InvalidateToken(ctx context.Context, integration *model.IntegrationConfig) {
	integration.TokenCache = nil
	if b.store == nil {
		return
	}
	if err := b.store.ClearTokenCache(ctx, integration.ID); err != nil {
		b.logger.WithError(err).WithField("integration", integration.ID).Warn("token cache clear failed")
	}
}

// cachedToken returns the integration's cached token when it is still inside
// its safety margin.
func (b *Builder) cachedToken(integration *model.IntegrationConfig) (string, bool) {
	cache := integration.TokenCache
	if cache == nil || cache.Token == "" {
		return "", false
	}
	if !cache.ExpiresAt.IsZero() && !b.now().Before(cache.ExpiresAt.Add(-ExpiryMargin)) {
		return "", false
	}
	return cache.Token, true
}

// storeToken caches a fetched token on the integration, in memory and in the
// store. The store write is fire-and-forget.
func (b *Builder) storeToken(ctx context.Context, integration *model.IntegrationConfig, token, refreshToken string, expiresAt time.Time) {
	cache := &model.TokenCache{
		Token:        token,
		ExpiresAt:    expiresAt,
		RefreshToken: refreshToken,
		FetchedAt:    b.now(),
	}
	integration.TokenCache = cache

	if b.store == nil {
		return
	}
	if err := b.store.UpdateTokenCache(ctx, integration.ID, cache); err != nil {
		b.logger.WithError(err).WithField("integration", integration.ID).Warn("token cache write failed")
	}
}
