package common

import (
	"regexp"
	"strings"
	"sync/atomic"
)

const maskedValue = "***MASKED***"

// SensitivePattern describes a class of secret that may appear in headers, params or bodies
type SensitivePattern struct {
	Name        string         // Pattern name (e.g., "password", "api_key")
	Regex       *regexp.Regexp // Matches the secret inside free text
	Replacement string
	Keys        []string // Attribute/header/param names whose whole value is secret (case-insensitive)
}

// DefaultSensitivePatterns covers credentials commonly sent to JSON APIs
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "password",
		Regex:       regexp.MustCompile(`(?i)("?(?:password|passwd|pwd)"?\s*[:=]\s*"?)([^"',}\]\s&]+)`),
		Replacement: "${1}" + maskedValue,
		Keys:        []string{"password", "passwd", "pwd"},
	},
	{
		Name:        "api_key",
		Regex:       regexp.MustCompile(`(?i)("?(?:api[_-]?key|apikey|x-api-key)"?\s*[:=]\s*"?)([^"',}\]\s&]+)`),
		Replacement: "${1}" + maskedValue,
		Keys:        []string{"api_key", "apikey", "api-key", "x-api-key"},
	},
	{
		Name:        "token",
		Regex:       regexp.MustCompile(`(?i)("?(?:access[_-]?token|auth[_-]?token|refresh[_-]?token|token)"?\s*[:=]\s*"?)([^"',}\]\s&]+)`),
		Replacement: "${1}" + maskedValue,
		Keys:        []string{"token", "access_token", "auth_token", "refresh_token", "access-token", "auth-token"},
	},
	{
		Name:        "secret",
		Regex:       regexp.MustCompile(`(?i)("?(?:client[_-]?secret|secret)"?\s*[:=]\s*"?)([^"',}\]\s&]+)`),
		Replacement: "${1}" + maskedValue,
		Keys:        []string{"secret", "client_secret", "client-secret"},
	},
	{
		Name:        "authorization",
		Regex:       regexp.MustCompile(`(?i)(Bearer|Basic)\s+[A-Za-z0-9\-._~+/]+=*`),
		Replacement: "${1} " + maskedValue,
		Keys:        []string{"authorization", "proxy-authorization", "cookie", "set-cookie"},
	},
}

// Masker handles masking of sensitive information in logs and error messages
type Masker struct {
	patterns []SensitivePattern
	enabled  atomic.Bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	m := &Masker{patterns: DefaultSensitivePatterns}
	m.enabled.Store(true)
	return m
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	return m.enabled.Load()
}

// IsSensitiveKey reports whether values stored under key are always masked
func (m *Masker) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, p := range m.patterns {
		for _, k := range p.Keys {
			if lower == k {
				return true
			}
		}
	}
	return false
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	if !m.IsEnabled() {
		return input
	}
	result := input
	for _, p := range m.patterns {
		if p.Regex != nil {
			result = p.Regex.ReplaceAllString(result, p.Replacement)
		}
	}
	return result
}

// MaskValue masks sensitive information based on key-value context.
// Non-string values are returned untouched unless the key itself is sensitive.
func (m *Masker) MaskValue(key string, value any) any {
	if !m.IsEnabled() {
		return value
	}
	if m.IsSensitiveKey(key) {
		return maskedValue
	}
	if s, ok := value.(string); ok {
		return m.MaskString(s)
	}
	return value
}

// Global masker instance
var globalMasker = NewMasker()

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// MaskKeyValue masks value using the global masker when key is sensitive
func MaskKeyValue(key string, value any) any {
	return globalMasker.MaskValue(key, value)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

// IsMaskingEnabled returns whether global masking is enabled
func IsMaskingEnabled() bool {
	return globalMasker.IsEnabled()
}
