package mcpserver

import "strings"

func boolPtr(v bool) *bool { return &v }

// stringList reads args[key] given either as a JSON array or as a
// comma-separated string.
func stringList(args map[string]any, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// boolArg reads an optional boolean argument.
func boolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

// intArg reads an optional numeric argument; JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
