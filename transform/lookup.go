package transform

import (
	"context"
	"fmt"
	"strings"

	"switchyard.dev/common"
	"switchyard.dev/model"
)

// applyLookups maps code values after the main transform. Each lookup reads
// sourceField, resolves the value through the inline table first and the
// provider second, and writes targetField. Paths may address array elements
// with the `items[].field` form; source and target must then agree on the
// array prefix so the rewrite happens element by element.
func (t *Transformer) applyLookups(ctx context.Context, lookups []model.LookupConfig, payload map[string]interface{}) (map[string]interface{}, error) {
	result := common.DeepCopyValue(payload).(map[string]interface{})

	for _, lookup := range lookups {
		srcPrefix, srcField, srcIsArray := splitArrayPath(lookup.SourceField)
		tgtPrefix, tgtField, tgtIsArray := splitArrayPath(lookup.TargetField)

		if srcIsArray != tgtIsArray {
			return nil, &Error{Reason: fmt.Sprintf("lookup %s: source and target must both be array paths or both scalar", lookup.LookupType)}
		}

		if !srcIsArray {
			if err := t.applyScalarLookup(ctx, lookup, result, lookup.SourceField, lookup.TargetField); err != nil {
				return nil, err
			}
			continue
		}

		if srcPrefix != tgtPrefix {
			return nil, &Error{Reason: fmt.Sprintf("lookup %s: array source %q and target %q must share the array prefix", lookup.LookupType, lookup.SourceField, lookup.TargetField)}
		}

		node, found := common.GetPath(result, srcPrefix)
		if !found {
			continue
		}
		items, ok := node.([]interface{})
		if !ok {
			return nil, &Error{Reason: fmt.Sprintf("lookup %s: %q is not an array", lookup.LookupType, srcPrefix)}
		}
		for _, item := range items {
			element, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if err := t.applyScalarLookup(ctx, lookup, element, srcField, tgtField); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

func (t *Transformer) applyScalarLookup(ctx context.Context, lookup model.LookupConfig, node map[string]interface{}, sourcePath, targetPath string) error {
	raw, found := common.GetPath(node, sourcePath)
	if !found || raw == nil {
		return nil
	}
	value := fmt.Sprintf("%v", raw)

	mapped, hit := lookup.Values[value]
	if !hit {
		var err error
		mapped, hit, err = t.lookups.Lookup(ctx, lookup.LookupType, value)
		if err != nil {
			t.logger.WithError(err).WithField("lookup_type", lookup.LookupType).Warn("lookup provider failed")
			hit = false
		}
	}

	if !hit {
		switch lookup.UnmappedBehavior {
		case model.LookupFail:
			return &Error{Reason: fmt.Sprintf("lookup %s: no mapping for value %q", lookup.LookupType, value)}
		case model.LookupDefault:
			mapped = lookup.DefaultValue
		default: // PASSTHROUGH
			mapped = value
		}
	}

	common.SetPath(node, targetPath, mapped)
	return nil
}

// splitArrayPath recognizes the `prefix[].field` form. For scalar paths the
// return is ("", path, false).
func splitArrayPath(path string) (prefix, field string, isArray bool) {
	idx := strings.Index(path, "[].")
	if idx < 0 {
		return "", path, false
	}
	return path[:idx], path[idx+3:], true
}
