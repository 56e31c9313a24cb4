// Package common provides common utilities for gateway services
package common

import (
	"fmt"
	"os"
)

// MaskSecret masks sensitive strings for safe logging.
// Shows first 4 and last 4 characters for strings longer than 8 chars,
// "***" for short strings and "<not set>" for empty strings.
//
// Example:
//
//	MaskSecret("") // "<not set>"
//	MaskSecret("short") // "***"
//	MaskSecret("whsec_aGVsbG8gd29ybGQhIQ") // "whse...QhIQ"
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// GetEnv retrieves an environment variable with a fallback default value
func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// Must panics if err is not nil, otherwise returns value.
// Useful for initialization code that should fail fast.
func Must[T any](value T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("Must: operation failed: %v", err))
	}
	return value
}

// Ptr returns a pointer to the given value.
// Useful for initializing pointer fields in structs.
func Ptr[T any](v T) *T {
	return &v
}

// PtrValue returns the value of a pointer, or the zero value if nil
func PtrValue[T any](ptr *T) T {
	if ptr == nil {
		var zero T
		return zero
	}
	return *ptr
}
