package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/model"
)

// memTokenStore records token-cache writes.
type memTokenStore struct {
	mu      sync.Mutex
	caches  map[string]*model.TokenCache
	cleared []string
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{caches: make(map[string]*model.TokenCache)}
}

func (m *memTokenStore) UpdateTokenCache(_ context.Context, id string, cache *model.TokenCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[id] = cache
	return nil
}

func (m *memTokenStore) ClearTokenCache(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.caches, id)
	m.cleared = append(m.cleared, id)
	return nil
}

func testIntegration() *model.IntegrationConfig {
	return &model.IntegrationConfig{ID: "int-1", Name: "t", TenantID: "org-1"}
}

func TestBuild_None(t *testing.T) {
	b := NewBuilder(nil)
	headers, err := b.Build(context.Background(), testIntegration(), nil, Request{})
	require.NoError(t, err)
	assert.Empty(t, headers)

	headers, err = b.Build(context.Background(), testIntegration(), &model.AuthConfig{Kind: model.AuthNone}, Request{})
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestBuild_APIKey(t *testing.T) {
	b := NewBuilder(nil)
	headers, err := b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthAPIKey, HeaderName: "X-Api-Key", APIKey: "secret"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Api-Key": "secret"}, headers)

	_, err = b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthAPIKey, APIKey: "secret"}, Request{})
	assert.Error(t, err, "missing header name")
}

func TestBuild_Basic(t *testing.T) {
	b := NewBuilder(nil)
	headers, err := b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthBasic, Username: "u", Password: "p"}, Request{})
	require.NoError(t, err)

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
	assert.Equal(t, expected, headers["Authorization"])
}

func TestBuild_Bearer(t *testing.T) {
	b := NewBuilder(nil)
	headers, err := b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthBearer, Token: "tok"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", headers["Authorization"])
}

func TestBuild_CustomHeaders(t *testing.T) {
	b := NewBuilder(nil)
	headers, err := b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthCustomHeaders, Headers: map[string]string{"X-A": "1", "X-B": "2"}}, Request{})
	require.NoError(t, err)
	assert.Len(t, headers, 2)

	_, err = b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthCustomHeaders, Headers: map[string]string{"": "v"}}, Request{})
	assert.Error(t, err, "empty header name rejected")
}

func TestOAuth2_FetchAndCache(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "csecret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-token","expires_in":3600}`))
	}))
	defer server.Close()

	store := newMemTokenStore()
	b := NewBuilder(store)
	integration := testIntegration()
	authCfg := &model.AuthConfig{
		Kind: model.AuthOAuth2, TokenURL: server.URL, ClientID: "cid", ClientSecret: "csecret",
	}

	headers, err := b.Build(context.Background(), integration, authCfg, Request{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh-token", headers["Authorization"])
	assert.Equal(t, 1, calls)
	require.NotNil(t, store.caches["int-1"])
	assert.Equal(t, "fresh-token", store.caches["int-1"].Token)

	// Second build rides the cache; no endpoint call.
	headers, err = b.Build(context.Background(), integration, authCfg, Request{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer fresh-token", headers["Authorization"])
	assert.Equal(t, 1, calls)
}

func TestOAuth2_ExpiryMarginForcesRefetch(t *testing.T) {
	b := NewBuilder(nil)
	integration := testIntegration()

	// Token expires in 2 minutes — inside the 300s margin, so unusable.
	integration.TokenCache = &model.TokenCache{
		Token:     "stale",
		ExpiresAt: time.Now().Add(2 * time.Minute),
	}
	_, ok := b.cachedToken(integration)
	assert.False(t, ok)

	integration.TokenCache.ExpiresAt = time.Now().Add(10 * time.Minute)
	token, ok := b.cachedToken(integration)
	assert.True(t, ok)
	assert.Equal(t, "stale", token)
}

func TestOAuth2_EndpointFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	b := NewBuilder(nil)
	_, err := b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthOAuth2, TokenURL: server.URL, ClientID: "c", ClientSecret: "s"}, Request{})
	require.Error(t, err)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, model.ErrCodeAuthFailed, aerr.Code)
}

func TestCustom_TokenPathExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"session":{"token":"nested-token","ttl":1800}}}`))
	}))
	defer server.Close()

	store := newMemTokenStore()
	b := NewBuilder(store)
	integration := testIntegration()

	headers, err := b.Build(context.Background(), integration, &model.AuthConfig{
		Kind:              model.AuthCustom,
		AuthURL:           server.URL,
		AuthBody:          map[string]interface{}{"user": "u"},
		TokenResponsePath: "data.session.token",
		TokenExpiresPath:  "data.session.ttl",
		AuthHeaderName:    "X-Session",
		AuthHeaderPrefix:  "Token",
	}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "Token nested-token", headers["X-Session"])

	cache := store.caches["int-1"]
	require.NotNil(t, cache)
	assert.InDelta(t, time.Until(cache.ExpiresAt).Seconds(), 1800, 10)
}

func TestCustom_Defaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"plain"}`))
	}))
	defer server.Close()

	b := NewBuilder(nil)
	headers, err := b.Build(context.Background(), testIntegration(),
		&model.AuthConfig{Kind: model.AuthCustom, AuthURL: server.URL}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer plain", headers["Authorization"])
}

func TestInvalidateToken(t *testing.T) {
	store := newMemTokenStore()
	b := NewBuilder(store)
	integration := testIntegration()
	integration.TokenCache = &model.TokenCache{Token: "old"}
	store.caches["int-1"] = integration.TokenCache

	b.InvalidateToken(context.Background(), integration)

	assert.Nil(t, integration.TokenCache)
	assert.Contains(t, store.cleared, "int-1")
}

func TestOAuth1_Deterministic(t *testing.T) {
	authCfg := &model.AuthConfig{
		Kind:           model.AuthOAuth1,
		ConsumerKey:    "ck",
		ConsumerSecret: "cs",
		AccessToken:    "at",
		TokenSecret:    "ts",
	}

	a, err := signOAuth1(authCfg, "POST", "https://api.example.com/resource?b=2&a=1", "nonce123", "1700000000")
	require.NoError(t, err)
	b, err := signOAuth1(authCfg, "POST", "https://api.example.com/resource?a=1&b=2", "nonce123", "1700000000")
	require.NoError(t, err)

	assert.Equal(t, a, b, "parameter order must not change the signature")
	assert.True(t, strings.HasPrefix(a, "OAuth "))
	assert.Contains(t, a, `oauth_signature_method="HMAC-SHA256"`)
	assert.Contains(t, a, `oauth_consumer_key="ck"`)
	assert.Contains(t, a, `oauth_token="at"`)
	assert.Contains(t, a, "oauth_signature=")
}

func TestOAuth1_SignatureChangesWithInputs(t *testing.T) {
	authCfg := &model.AuthConfig{Kind: model.AuthOAuth1, ConsumerKey: "ck", ConsumerSecret: "cs"}

	base, err := signOAuth1(authCfg, "POST", "https://api.example.com/r", "n", "1700000000")
	require.NoError(t, err)

	differentMethod, err := signOAuth1(authCfg, "GET", "https://api.example.com/r", "n", "1700000000")
	require.NoError(t, err)
	assert.NotEqual(t, base, differentMethod)

	differentSecret, err := signOAuth1(&model.AuthConfig{Kind: model.AuthOAuth1, ConsumerKey: "ck", ConsumerSecret: "other"},
		"POST", "https://api.example.com/r", "n", "1700000000")
	require.NoError(t, err)
	assert.NotEqual(t, base, differentSecret)
}

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, "abc-._~XYZ019", percentEncode("abc-._~XYZ019"))
	assert.Equal(t, "a%20b", percentEncode("a b"))
	assert.Equal(t, "%2B%2F%3D%26", percentEncode("+/=&"))
}
