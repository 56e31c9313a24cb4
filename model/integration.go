package model

import "time"

// Direction classifies which way an integration moves data
type Direction string

const (
	DirectionOutbound      Direction = "OUTBOUND"
	DirectionInbound       Direction = "INBOUND"
	DirectionScheduled     Direction = "SCHEDULED"
	DirectionCommunication Direction = "COMMUNICATION"
)

// DeliveryMode selects the timing path an integration takes
type DeliveryMode string

const (
	ModeImmediate    DeliveryMode = "IMMEDIATE"
	ModeDelayed      DeliveryMode = "DELAYED"
	ModeRecurring    DeliveryMode = "RECURRING"
	ModeScheduledJob DeliveryMode = "SCHEDULED_JOB"
)

// AuthKind tags the auth block variant
type AuthKind string

const (
	AuthNone          AuthKind = "NONE"
	AuthAPIKey        AuthKind = "API_KEY"
	AuthBasic         AuthKind = "BASIC"
	AuthBearer        AuthKind = "BEARER"
	AuthOAuth1        AuthKind = "OAUTH1"
	AuthOAuth2        AuthKind = "OAUTH2"
	AuthCustom        AuthKind = "CUSTOM"
	AuthCustomHeaders AuthKind = "CUSTOM_HEADERS"
)

// TransformMode tags the transformation variant; exactly one applies
type TransformMode string

const (
	TransformSimple TransformMode = "SIMPLE"
	TransformScript TransformMode = "SCRIPT"
)

// ActionKind distinguishes HTTP actions from channel sends
type ActionKind string

const (
	ActionHTTP          ActionKind = "HTTP"
	ActionCommunication ActionKind = "COMMUNICATION"
)

// AuthConfig is the tagged auth variant stored on integrations and actions.
// Only the fields matching Kind are read; the rest stay empty on the wire.
type AuthConfig struct {
	Kind AuthKind `json:"type"`

	// API_KEY
	HeaderName string `json:"headerName,omitempty"`
	APIKey     string `json:"apiKey,omitempty"`

	// BASIC
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// BEARER
	Token string `json:"token,omitempty"`

	// OAUTH1
	ConsumerKey    string `json:"consumerKey,omitempty"`
	ConsumerSecret string `json:"consumerSecret,omitempty"`
	AccessToken    string `json:"accessToken,omitempty"`
	TokenSecret    string `json:"tokenSecret,omitempty"`
	Realm          string `json:"realm,omitempty"`

	// OAUTH2 client credentials
	TokenURL     string `json:"tokenUrl,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// CUSTOM token endpoint
	AuthURL           string                 `json:"authUrl,omitempty"`
	AuthMethod        string                 `json:"authMethod,omitempty"`
	AuthBody          map[string]interface{} `json:"authBody,omitempty"`
	TokenResponsePath string                 `json:"tokenResponsePath,omitempty"`  // default "access_token"
	TokenExpiresPath  string                 `json:"tokenExpiresInPath,omitempty"` // optional expiry extractor
	AuthHeaderName    string                 `json:"authHeaderName,omitempty"`     // default "Authorization"
	AuthHeaderPrefix  string                 `json:"authHeaderPrefix,omitempty"`   // default "Bearer"

	// CUSTOM_HEADERS
	Headers map[string]string `json:"headers,omitempty"`
}

// FieldMapping is one SIMPLE-mode mapping step, applied in order
type FieldMapping struct {
	SourceField  string      `json:"sourceField"`
	TargetField  string      `json:"targetField"`
	Transform    string      `json:"transform,omitempty"` // trim|upper|lower|date|default|lookup|empty=identity
	DefaultValue interface{} `json:"defaultValue,omitempty"`
	LookupType   string      `json:"lookupType,omitempty"`
}

// StaticField is appended after mappings and overrides earlier values
type StaticField struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// TransformationConfig is the tagged transformation variant
type TransformationConfig struct {
	Mode         TransformMode  `json:"type"`
	Mappings     []FieldMapping `json:"mappings,omitempty"`
	StaticFields []StaticField  `json:"staticFields,omitempty"`
	Script       string         `json:"script,omitempty"`
}

// LookupBehavior controls what happens to values missing from a lookup table
type LookupBehavior string

const (
	LookupPassthrough LookupBehavior = "PASSTHROUGH"
	LookupFail        LookupBehavior = "FAIL"
	LookupDefault     LookupBehavior = "DEFAULT"
)

// LookupConfig maps code values at sourceField onto targetField after the
// transform runs. Paths may address array elements with the `items[].field`
// form; source and target must then share the array prefix.
type LookupConfig struct {
	LookupType       string            `json:"lookupType"`
	SourceField      string            `json:"sourceField"`
	TargetField      string            `json:"targetField"`
	Values           map[string]string `json:"values,omitempty"`
	UnmappedBehavior LookupBehavior    `json:"unmappedBehavior,omitempty"` // default PASSTHROUGH
	DefaultValue     string            `json:"defaultValue,omitempty"`
}

// RateLimitConfig is the per-integration outbound quota
type RateLimitConfig struct {
	Enabled       bool `json:"enabled"`
	MaxRequests   int  `json:"maxRequests"`
	WindowSeconds int  `json:"windowSeconds"`
}

// ChannelConfig selects a communication adapter for COMMUNICATION actions
type ChannelConfig struct {
	Channel  string                 `json:"channel"`  // "email", "sms"
	Provider string                 `json:"provider"` // e.g. "GMAIL_OAUTH" → adapter key "gmail"
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// Action is one step of a multi-action integration. Unset fields fall back to
// the owning integration's target, auth and transformation.
type Action struct {
	Name           string                `json:"name"`
	Kind           ActionKind            `json:"type,omitempty"` // default HTTP
	TargetURL      string                `json:"targetUrl,omitempty"`
	HTTPMethod     string                `json:"httpMethod,omitempty"`
	Auth           *AuthConfig           `json:"auth,omitempty"`
	Transformation *TransformationConfig `json:"transformation,omitempty"`
	// Condition is a boolean script expression over {eventType, orgId,
	// payload}; parse or eval failure counts as false.
	Condition string         `json:"condition,omitempty"`
	Channel   *ChannelConfig `json:"channel,omitempty"`
}

// ResponseConfig drives body-based token-expiry detection on 2xx responses
type ResponseConfig struct {
	ResponseBodyPath string   `json:"responseBodyPath,omitempty"`
	ExpirationValues []string `json:"expirationValues,omitempty"`
}

// TokenCache is the cached auth token owned by the integration document.
// Updates are fire-and-forget: a failed cache write never fails the delivery.
type TokenCache struct {
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	FetchedAt    time.Time `json:"fetchedAt,omitempty"`
}

// ScheduleConfig holds the scheduling script for DELAYED / RECURRING modes and
// the data-source plus cadence for SCHEDULED_JOB integrations.
type ScheduleConfig struct {
	// Script returns a unix-ms due time (DELAYED) or a recurrence descriptor
	// (RECURRING); it runs in the same sandbox as SCRIPT transforms.
	Script string `json:"script,omitempty"`

	// SCHEDULED_JOB cadence: either a 5-field cron with optional timezone or
	// a fixed interval (minimum 60s).
	Cron       string `json:"cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	IntervalMs int64  `json:"intervalMs,omitempty"`

	// CancelOn lists event types that void this integration's PENDING
	// scheduled items. CancelMatchKey is the payload path whose value must
	// agree between the scheduling event and the cancelling one; empty
	// matches on event id.
	CancelOn       []string `json:"cancelOn,omitempty"`
	CancelMatchKey string   `json:"cancelMatchKey,omitempty"`

	DataSource *DataSourceConfig `json:"dataSource,omitempty"`
}

// IntegrationConfig is the per-tenant delivery rule. When Actions is non-empty
// the integration is multi-action and the top-level target, auth and
// transformation act as fallbacks for actions that leave theirs unset.
type IntegrationConfig struct {
	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	Name       string   `json:"name"`
	TenantID   string   `json:"orgId"`
	EventTypes []string `json:"eventTypes"`

	Direction    Direction    `json:"direction,omitempty"`    // default OUTBOUND
	DeliveryMode DeliveryMode `json:"deliveryMode,omitempty"` // default IMMEDIATE

	TargetURL  string `json:"targetUrl,omitempty"`
	HTTPMethod string `json:"httpMethod,omitempty"` // default POST
	TimeoutMs  int    `json:"timeoutMs,omitempty"`  // default 10000
	MaxRetries int    `json:"maxRetries,omitempty"`

	Auth           *AuthConfig           `json:"auth,omitempty"`
	Transformation *TransformationConfig `json:"transformation,omitempty"`
	// ResponseTransformation post-processes responses on INBOUND integrations.
	ResponseTransformation *TransformationConfig `json:"responseTransformation,omitempty"`
	Lookups                []LookupConfig        `json:"lookups,omitempty"`

	// SigningSecrets is ordered head-first: index 0 signs and verifies new
	// deliveries, the tail verifies during rotation windows.
	SigningEnabled bool     `json:"signingEnabled,omitempty"`
	SigningSecrets []string `json:"signingSecrets,omitempty"`

	RateLimit *RateLimitConfig `json:"rateLimit,omitempty"`
	Response  *ResponseConfig  `json:"response,omitempty"`

	Actions []Action `json:"actions,omitempty"`
	// MultiActionDelayMs overrides the process-wide pause between actions.
	// nil defers to the default; an explicit 0 disables the pause.
	MultiActionDelayMs *int `json:"multiActionDelayMs,omitempty"`

	Schedule *ScheduleConfig `json:"schedule,omitempty"`

	Active     bool        `json:"active"`
	TokenCache *TokenCache `json:"tokenCache,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// EffectiveTimeout returns the per-integration HTTP timeout
func (c *IntegrationConfig) EffectiveTimeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// EffectiveMaxRetries returns the attempt budget, defaulting to 3
func (c *IntegrationConfig) EffectiveMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// EffectiveMethod returns the configured HTTP method, defaulting to POST
func (c *IntegrationConfig) EffectiveMethod() string {
	if c.HTTPMethod == "" {
		return "POST"
	}
	return c.HTTPMethod
}

// IsMultiAction reports whether the actions list drives delivery
func (c *IntegrationConfig) IsMultiAction() bool {
	return len(c.Actions) > 0
}

// MatchesEventType reports whether eventType is among the triggers
func (c *IntegrationConfig) MatchesEventType(eventType string) bool {
	for _, t := range c.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// ResolveAction merges an action with the integration fallbacks so the
// delivery engine sees one complete target description.
func (c *IntegrationConfig) ResolveAction(action Action) Action {
	resolved := action
	if resolved.Kind == "" {
		resolved.Kind = ActionHTTP
	}
	if resolved.TargetURL == "" {
		resolved.TargetURL = c.TargetURL
	}
	if resolved.HTTPMethod == "" {
		resolved.HTTPMethod = c.EffectiveMethod()
	}
	if resolved.Auth == nil {
		resolved.Auth = c.Auth
	}
	if resolved.Transformation == nil {
		resolved.Transformation = c.Transformation
	}
	return resolved
}
