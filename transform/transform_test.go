package transform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchyard.dev/model"
)

type staticLookups map[string]map[string]string

func (s staticLookups) Lookup(_ context.Context, lookupType, value string) (string, bool, error) {
	table, ok := s[lookupType]
	if !ok {
		return "", false, nil
	}
	mapped, hit := table[value]
	return mapped, hit, nil
}

func TestSimple_MappingsAndStatics(t *testing.T) {
	tr := New(nil, nil)
	cfg := &model.TransformationConfig{
		Mode: model.TransformSimple,
		Mappings: []model.FieldMapping{
			{SourceField: "x", TargetField: "y"},
			{SourceField: "name", TargetField: "name", Transform: "upper"},
			{SourceField: "note", TargetField: "note", Transform: "trim"},
		},
		StaticFields: []model.StaticField{{Key: "src", Value: "gw"}},
	}
	payload := map[string]interface{}{"x": float64(1), "name": "ada", "note": "  hi  "}

	result, err := tr.Transform(context.Background(), cfg, nil, payload, Context{})
	require.NoError(t, err)

	// Shallow copy keeps the original fields, mapped values land alongside.
	assert.Equal(t, float64(1), result["x"])
	assert.Equal(t, float64(1), result["y"])
	assert.Equal(t, "ADA", result["name"])
	assert.Equal(t, "hi", result["note"])
	assert.Equal(t, "gw", result["src"])
}

func TestSimple_DotPathAndDefault(t *testing.T) {
	tr := New(nil, nil)
	cfg := &model.TransformationConfig{
		Mode: model.TransformSimple,
		Mappings: []model.FieldMapping{
			{SourceField: "user.address.city", TargetField: "city"},
			{SourceField: "missing", TargetField: "filled", Transform: "default", DefaultValue: "fallback"},
		},
	}
	payload := map[string]interface{}{
		"user": map[string]interface{}{
			"address": map[string]interface{}{"city": "Pune"},
		},
	}

	result, err := tr.Transform(context.Background(), cfg, nil, payload, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Pune", result["city"])
	assert.Equal(t, "fallback", result["filled"])
}

func TestSimple_StaticsOverrideMappings(t *testing.T) {
	tr := New(nil, nil)
	cfg := &model.TransformationConfig{
		Mode:         model.TransformSimple,
		Mappings:     []model.FieldMapping{{SourceField: "a", TargetField: "winner"}},
		StaticFields: []model.StaticField{{Key: "winner", Value: "static"}},
	}

	result, err := tr.Transform(context.Background(), cfg, nil, map[string]interface{}{"a": "mapped"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, "static", result["winner"])
}

func TestSimple_LookupTransformFallsBackOnMiss(t *testing.T) {
	tr := New(staticLookups{"country": {"IN": "India"}}, nil)
	cfg := &model.TransformationConfig{
		Mode: model.TransformSimple,
		Mappings: []model.FieldMapping{
			{SourceField: "c1", TargetField: "c1", Transform: "lookup", LookupType: "country"},
			{SourceField: "c2", TargetField: "c2", Transform: "lookup", LookupType: "country"},
		},
	}
	payload := map[string]interface{}{"c1": "IN", "c2": "ZZ"}

	result, err := tr.Transform(context.Background(), cfg, nil, payload, Context{})
	require.NoError(t, err)
	assert.Equal(t, "India", result["c1"])
	assert.Equal(t, "ZZ", result["c2"], "miss passes the source value through")
}

func TestSimple_DateTransform(t *testing.T) {
	tr := New(nil, nil)
	cfg := &model.TransformationConfig{
		Mode:     model.TransformSimple,
		Mappings: []model.FieldMapping{{SourceField: "d", TargetField: "d", Transform: "date"}},
	}

	result, err := tr.Transform(context.Background(), cfg, nil, map[string]interface{}{"d": "2026-01-02"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-02T00:00:00Z", result["d"])
}

func TestTransform_NilConfigPassesThrough(t *testing.T) {
	tr := New(nil, nil)
	payload := map[string]interface{}{"k": "v"}

	result, err := tr.Transform(context.Background(), nil, nil, payload, Context{})
	require.NoError(t, err)
	assert.Equal(t, payload, result)
}

func TestLookups_ScalarBehaviors(t *testing.T) {
	tr := New(nil, nil)
	payload := map[string]interface{}{"status": "A", "grade": "X"}

	lookups := []model.LookupConfig{
		{LookupType: "status", SourceField: "status", TargetField: "statusName",
			Values: map[string]string{"A": "Active"}},
		{LookupType: "grade", SourceField: "grade", TargetField: "gradeName",
			Values: map[string]string{"B": "Beta"}, UnmappedBehavior: model.LookupDefault, DefaultValue: "Unknown"},
	}

	result, err := tr.Transform(context.Background(), nil, lookups, payload, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Active", result["statusName"])
	assert.Equal(t, "Unknown", result["gradeName"])
}

func TestLookups_FailBehavior(t *testing.T) {
	tr := New(nil, nil)
	lookups := []model.LookupConfig{
		{LookupType: "grade", SourceField: "grade", TargetField: "gradeName",
			Values: map[string]string{}, UnmappedBehavior: model.LookupFail},
	}

	_, err := tr.Transform(context.Background(), nil, lookups, map[string]interface{}{"grade": "Z"}, Context{})
	require.Error(t, err)
	var terr *Error
	assert.ErrorAs(t, err, &terr)
}

func TestLookups_ArrayPaths(t *testing.T) {
	tr := New(nil, nil)
	payload := map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"code": "A"},
			map[string]interface{}{"code": "B"},
		},
	}
	lookups := []model.LookupConfig{
		{LookupType: "codes", SourceField: "items[].code", TargetField: "items[].label",
			Values: map[string]string{"A": "Alpha", "B": "Beta"}},
	}

	result, err := tr.Transform(context.Background(), nil, lookups, payload, Context{})
	require.NoError(t, err)

	items := result["items"].([]interface{})
	assert.Equal(t, "Alpha", items[0].(map[string]interface{})["label"])
	assert.Equal(t, "Beta", items[1].(map[string]interface{})["label"])
}

func TestLookups_ArrayScalarMismatch(t *testing.T) {
	tr := New(nil, nil)
	lookups := []model.LookupConfig{
		{LookupType: "codes", SourceField: "items[].code", TargetField: "label"},
	}

	_, err := tr.Transform(context.Background(), nil, lookups, map[string]interface{}{}, Context{})
	assert.Error(t, err, "array source with scalar target")

	lookups[0].TargetField = "other[].label"
	_, err = tr.Transform(context.Background(), nil, lookups, map[string]interface{}{}, Context{})
	assert.Error(t, err, "mismatched array prefixes")
}

func TestLookups_DoNotMutateInput(t *testing.T) {
	tr := New(nil, nil)
	payload := map[string]interface{}{"status": "A"}
	lookups := []model.LookupConfig{
		{LookupType: "status", SourceField: "status", TargetField: "status",
			Values: map[string]string{"A": "Active"}},
	}

	result, err := tr.Transform(context.Background(), nil, lookups, payload, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Active", result["status"])
	assert.Equal(t, "A", payload["status"], "input payload untouched")
}
