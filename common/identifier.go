package common

import (
	"fmt"
	"regexp"
)

// identifierPattern accepts SQL identifiers that are safe to interpolate.
// Deliberately stricter than what the dialects allow: no quoting tricks,
// no embedded backticks, no leading digits.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)

// ValidIdentifier reports whether name is safe to use as a table or column name
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidateIdentifier returns an error naming the offending identifier
func ValidateIdentifier(name string) error {
	if !ValidIdentifier(name) {
		return fmt.Errorf("invalid identifier %q: must match %s", name, identifierPattern.String())
	}
	return nil
}

// QuoteIdentifier wraps a validated identifier in MySQL backticks.
// Callers must run ValidateIdentifier first; this function only quotes.
func QuoteIdentifier(name string) string {
	return "`" + name + "`"
}
