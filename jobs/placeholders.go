package jobs

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"switchyard.dev/common"
)

var placeholderPattern = regexp.MustCompile(`\{\{(config|date|env)\.([A-Za-z0-9_.]+)\}\}`)

// substitutor resolves {{config.*}}, {{date.*}} and {{env.*}} placeholders.
// Date tokens are anchored to a single instant so every placeholder in one
// job run agrees on what "today" means.
type substitutor struct {
	params map[string]interface{}
	now    time.Time
}

func newSubstitutor(params map[string]interface{}, now time.Time) *substitutor {
	return &substitutor{params: params, now: now}
}

// Value substitutes placeholders recursively through maps, slices and
// strings. A string consisting of exactly one {{config.*}} placeholder keeps
// the referenced value's type; embedded placeholders render as text.
func (s *substitutor) Value(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return s.str(v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = s.Value(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = s.Value(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(v))
		for i, item := range v {
			out[i] = s.Value(item).(map[string]interface{})
		}
		return out
	default:
		return value
	}
}

// String substitutes placeholders in a plain string.
func (s *substitutor) String(text string) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		return fmt.Sprintf("%v", s.resolve(match))
	})
}

// Headers substitutes placeholders through a header map.
func (s *substitutor) Headers(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = s.String(v)
	}
	return out
}

func (s *substitutor) str(text string) interface{} {
	// Whole-string placeholder: keep the resolved type.
	if m := placeholderPattern.FindStringSubmatch(text); m != nil && m[0] == text {
		return s.resolve(text)
	}
	return s.String(text)
}

func (s *substitutor) resolve(placeholder string) interface{} {
	m := placeholderPattern.FindStringSubmatch(placeholder)
	if m == nil {
		return placeholder
	}
	family, key := m[1], m[2]

	switch family {
	case "config":
		if value, found := common.GetPath(s.params, key); found {
			return value
		}
		return ""
	case "env":
		return os.Getenv(key)
	case "date":
		return s.dateToken(key)
	}
	return placeholder
}

func (s *substitutor) dateToken(key string) interface{} {
	day := 24 * time.Hour
	switch strings.ToLower(key) {
	case "today":
		return s.now.Format("2006-01-02")
	case "yesterday":
		return s.now.Add(-day).Format("2006-01-02")
	case "tomorrow":
		return s.now.Add(day).Format("2006-01-02")
	case "now":
		return s.now.Format(time.RFC3339)
	case "timestamp":
		return s.now.UnixMilli()
	case "startofmonth":
		return time.Date(s.now.Year(), s.now.Month(), 1, 0, 0, 0, 0, s.now.Location()).Format("2006-01-02")
	case "endofmonth":
		first := time.Date(s.now.Year(), s.now.Month(), 1, 0, 0, 0, 0, s.now.Location())
		return first.AddDate(0, 1, -1).Format("2006-01-02")
	}
	return ""
}
