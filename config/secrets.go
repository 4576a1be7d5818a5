package config

import "strings"

// MaskedValue replaces sensitive values in anything printed or persisted.
const MaskedValue = "********"

var sensitiveMarkers = []string{"password", "secret", "token", "credential", "private_key", "api_key"}

// IsSensitiveKey reports whether key looks like it holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// MaskedValues returns the resolved overlay with sensitive values masked.
func (c *BootstrapContext) MaskedValues() map[string]string {
	out := c.Values()
	for k := range out {
		if IsSensitiveKey(k) && out[k] != "" {
			out[k] = MaskedValue
		}
	}
	return out
}
