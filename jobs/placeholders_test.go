package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteConfigPlaceholders(t *testing.T) {
	sub := newSubstitutor(map[string]interface{}{
		"region": "eu-west",
		"limits": map[string]interface{}{"batch": 500},
	}, time.Now())

	// A whole-string placeholder keeps the referenced type.
	assert.Equal(t, 500, sub.Value("{{config.limits.batch}}"))

	assert.Equal(t, "eu-west", sub.Value("{{config.region}}"))
	assert.Equal(t, "region=eu-west;max=500",
		sub.Value("region={{config.region}};max={{config.limits.batch}}"))
	assert.Equal(t, "", sub.Value("{{config.missing}}"))
}

func TestSubstituteDatePlaceholders(t *testing.T) {
	anchor := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)
	sub := newSubstitutor(nil, anchor)

	assert.Equal(t, "2026-02-15", sub.Value("{{date.today}}"))
	assert.Equal(t, "2026-02-14", sub.Value("{{date.yesterday}}"))
	assert.Equal(t, "2026-02-16", sub.Value("{{date.tomorrow}}"))
	assert.Equal(t, "2026-02-01", sub.Value("{{date.startOfMonth}}"))
	assert.Equal(t, "2026-02-28", sub.Value("{{date.endOfMonth}}"))
	assert.Equal(t, anchor.UnixMilli(), sub.Value("{{date.timestamp}}"))
	assert.Equal(t,
		"WHERE created_at >= '2026-02-14' AND created_at < '2026-02-15'",
		sub.String("WHERE created_at >= '{{date.yesterday}}' AND created_at < '{{date.today}}'"))
}

func TestSubstituteEnvPlaceholders(t *testing.T) {
	t.Setenv("JOB_API_KEY", "k-123")
	sub := newSubstitutor(nil, time.Now())

	assert.Equal(t, "Bearer k-123", sub.String("Bearer {{env.JOB_API_KEY}}"))
	assert.Equal(t, map[string]string{"X-Api-Key": "k-123"},
		sub.Headers(map[string]string{"X-Api-Key": "{{env.JOB_API_KEY}}"}))
}

func TestSubstituteRecursesStructures(t *testing.T) {
	anchor := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	sub := newSubstitutor(map[string]interface{}{"status": "active"}, anchor)

	in := map[string]interface{}{
		"selector": map[string]interface{}{
			"status": "{{config.status}}",
			"dates":  []interface{}{"{{date.today}}", "literal"},
		},
		"limit": 10,
	}
	out := sub.Value(in).(map[string]interface{})

	selector := out["selector"].(map[string]interface{})
	assert.Equal(t, "active", selector["status"])
	assert.Equal(t, []interface{}{"2026-02-15", "literal"}, selector["dates"])
	assert.Equal(t, 10, out["limit"])

	// The input tree is left untouched.
	assert.Equal(t, "{{config.status}}", in["selector"].(map[string]interface{})["status"])
}
