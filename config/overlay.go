package config

import (
	"fmt"
	"strings"
	"unicode"
)

// EnvOverlay extracts the prefix-scoped variables from environ. The prefix and
// its separating underscore are stripped, the remainder is lowercased and a
// double underscore marks nesting: STAGEBOOT_API__ADDR becomes api.addr.
func EnvOverlay(prefix string, environ []string) map[string]string {
	scope := strings.ToUpper(prefix) + "_"
	out := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(name), scope) {
			continue
		}
		key := strings.ToLower(name[len(scope):])
		key = strings.ReplaceAll(key, "__", ".")
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// ParseOverrides turns repeated "key=value" arguments into an overlay.
func ParseOverrides(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, &ConfigError{Key: arg, Err: fmt.Errorf("override must be key=value")}
		}
		key = strings.TrimSpace(key)
		if err := validateKey(key); err != nil {
			return nil, &ConfigError{Key: key, Err: err}
		}
		out[key] = value
	}
	return out, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	for _, part := range strings.Split(key, ".") {
		if part == "" {
			return fmt.Errorf("key %q has an empty segment", key)
		}
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("key %q contains whitespace or control characters", key)
		}
	}
	return nil
}

// nest expands dotted keys into nested maps for viper.MergeConfigMap.
func nest(flat map[string]string) (map[string]interface{}, error) {
	root := make(map[string]interface{})
	for _, key := range sortedKeys(flat) {
		if err := validateKey(key); err != nil {
			return nil, err
		}
		parts := strings.Split(strings.ToLower(key), ".")
		node := root
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				if _, isLeaf := node[part]; isLeaf {
					return nil, fmt.Errorf("key %q conflicts with scalar %q", key, part)
				}
				child = make(map[string]interface{})
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, isMap := node[leaf].(map[string]interface{}); isMap {
			return nil, fmt.Errorf("key %q conflicts with nested keys", key)
		}
		node[leaf] = flat[key]
	}
	return root, nil
}
