// Package transform turns source payloads into target payloads. Two modes
// exist per integration: SIMPLE applies an ordered mapping list plus static
// fields, SCRIPT runs user-authored Lua in a sandbox. Either mode may be
// followed by code-value lookups. A nil result with a nil error is the skip
// sentinel: the delivery is not an error, it just does not happen.
package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// Context carries the event identity into transforms and scripts.
type Context struct {
	EventType string
	TenantID  string
	EventID   string
	TraceID   string
}

// LookupProvider resolves code values from external lookup tables. The table
// machinery lives outside the pipeline; only this read interface crosses in.
type LookupProvider interface {
	Lookup(ctx context.Context, lookupType, value string) (string, bool, error)
}

// NoopLookups is a LookupProvider with no tables; every lookup misses.
type NoopLookups struct{}

// Lookup always reports a miss.
func (NoopLookups) Lookup(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

// Error marks a transformation failure so the delivery engine can classify
// it as TRANSFORMATION_ERROR without string matching.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transformation failed: %s: %v", e.Reason, e.Err)
	}
	return "transformation failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Transformer executes integration transforms.
type Transformer struct {
	lookups LookupProvider
	sandbox *Sandbox
	logger  *common.ContextLogger
}

// New builds a transformer. A nil provider disables table lookups; a nil
// sandbox makes SCRIPT transforms fail cleanly instead of panicking.
func New(lookups LookupProvider, sandbox *Sandbox) *Transformer {
	if lookups == nil {
		lookups = NoopLookups{}
	}
	return &Transformer{
		lookups: lookups,
		sandbox: sandbox,
		logger:  common.ServiceLogger("transform"),
	}
}

// Transform runs the configured mode and then the integration lookups. A nil
// config passes the payload through untouched. The nil-map/nil-error return
// means the script chose to skip delivery.
func (t *Transformer) Transform(ctx context.Context, cfg *model.TransformationConfig, lookups []model.LookupConfig, payload map[string]interface{}, tctx Context) (map[string]interface{}, error) {
	result := payload
	var err error

	if cfg != nil {
		switch cfg.Mode {
		case model.TransformSimple:
			result = t.applySimple(ctx, cfg, payload)
		case model.TransformScript:
			result, err = t.applyScript(ctx, cfg.Script, payload, tctx)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, nil
			}
		case "":
			// No mode set reads as passthrough.
		default:
			return nil, &Error{Reason: fmt.Sprintf("unknown transformation mode %q", cfg.Mode)}
		}
	}

	if len(lookups) > 0 {
		result, err = t.applyLookups(ctx, lookups, result)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (t *Transformer) applyScript(ctx context.Context, script string, payload map[string]interface{}, tctx Context) (map[string]interface{}, error) {
	if t.sandbox == nil {
		return nil, &Error{Reason: "script transforms are not enabled"}
	}
	value, err := t.sandbox.Run(ctx, script, payload, tctx)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	result, ok := value.(map[string]interface{})
	if !ok {
		return nil, &Error{Reason: fmt.Sprintf("script returned %T, expected an object or nil", value)}
	}
	return result, nil
}

// applySimple starts from a shallow copy of the source, applies mappings in
// order and appends static fields last so they override mapped values.
func (t *Transformer) applySimple(ctx context.Context, cfg *model.TransformationConfig, payload map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(payload)+len(cfg.StaticFields))
	for k, v := range payload {
		result[k] = v
	}

	for _, mapping := range cfg.Mappings {
		value, found := common.GetPath(payload, mapping.SourceField)
		value = t.applyFieldTransform(ctx, mapping, value, found)
		target := mapping.TargetField
		if target == "" {
			target = mapping.SourceField
		}
		common.SetPath(result, target, value)
	}

	for _, static := range cfg.StaticFields {
		common.SetPath(result, static.Key, static.Value)
	}

	return result
}

func (t *Transformer) applyFieldTransform(ctx context.Context, mapping model.FieldMapping, value interface{}, found bool) interface{} {
	switch mapping.Transform {
	case "trim":
		if s, ok := value.(string); ok {
			return strings.TrimSpace(s)
		}
	case "upper":
		if s, ok := value.(string); ok {
			return strings.ToUpper(s)
		}
	case "lower":
		if s, ok := value.(string); ok {
			return strings.ToLower(s)
		}
	case "date":
		return toISODate(value)
	case "default":
		if !found || value == nil {
			return mapping.DefaultValue
		}
	case "lookup":
		s, ok := value.(string)
		if !ok {
			return value
		}
		mapped, hit, err := t.lookups.Lookup(ctx, mapping.LookupType, s)
		if err != nil {
			t.logger.WithError(err).WithField("lookup_type", mapping.LookupType).Warn("lookup failed, passing source value through")
			return value
		}
		if hit {
			return mapped
		}
	}
	return value
}

// toISODate renders plausible date representations as ISO-8601 (RFC 3339).
// Unparseable values pass through unchanged.
func toISODate(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		for _, layout := range []string{
			time.RFC3339, "2006-01-02 15:04:05", "2006-01-02",
			"02/01/2006", time.RFC1123,
		} {
			if parsed, err := time.Parse(layout, v); err == nil {
				return parsed.UTC().Format(time.RFC3339)
			}
		}
	case float64:
		// Unix timestamps; values past 1e12 are milliseconds.
		millis := int64(v)
		if millis > 1_000_000_000_000 {
			return time.UnixMilli(millis).UTC().Format(time.RFC3339)
		}
		return time.Unix(millis, 0).UTC().Format(time.RFC3339)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	}
	return value
}
