package llm

// DefaultMaxTokens bounds the completion length when a request does not set
// max_tokens. Grading replies are short JSON objects.
const DefaultMaxTokens = 512

// RequestOptions is the provider-neutral view of a request's options map.
type RequestOptions struct {
	MaxTokens int
	Model     string

	// Temperature and TopP are nil when the provider default should apply.
	Temperature *float64
	TopP        *float64

	System string

	// JSONMode asks the provider to emit a single JSON object, where
	// supported.
	JSONMode bool

	// Extra holds options not covered above.
	Extra map[string]any
}

// ParseRequestOptions reads the standard keys from opts, falling back to
// defaults for missing or invalid values.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: extractInt(opts, "max_tokens", DefaultMaxTokens, func(v int) bool { return v > 0 }),
		Model:     extractString(opts, "model", defaultModel, func(v string) bool { return v != "" }),
		System:    extractString(opts, "system", "", nil),
		Extra:     make(map[string]any),
	}
	if v, ok := opts["json_mode"].(bool); ok {
		options.JSONMode = v
	}

	if temp := extractFloat(opts, "temperature", -1, inRange(0, 2)); temp != -1 {
		options.Temperature = &temp
	}
	if topP := extractFloat(opts, "top_p", -1, inRange(0, 1)); topP != -1 {
		options.TopP = &topP
	}

	for k, v := range opts {
		switch k {
		case "max_tokens", "model", "system", "temperature", "top_p", "json_mode":
		default:
			options.Extra[k] = v
		}
	}
	return options
}

func inRange(lo, hi float64) func(float64) bool {
	return func(v float64) bool { return v >= lo && v <= hi }
}

func extractInt(opts map[string]any, key string, def int, ok func(int) bool) int {
	var v int
	switch n := opts[key].(type) {
	case int:
		v = n
	case int64:
		v = int(n)
	case float64:
		if n != float64(int(n)) {
			return def
		}
		v = int(n)
	default:
		return def
	}
	if ok != nil && !ok(v) {
		return def
	}
	return v
}

func extractString(opts map[string]any, key, def string, ok func(string) bool) string {
	v, isStr := opts[key].(string)
	if !isStr || (ok != nil && !ok(v)) {
		return def
	}
	return v
}

func extractFloat(opts map[string]any, key string, def float64, ok func(float64) bool) float64 {
	var v float64
	switch n := opts[key].(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	default:
		return def
	}
	if ok != nil && !ok(v) {
		return def
	}
	return v
}

func clamp(val, lo, hi float64) float64 {
	return max(lo, min(val, hi))
}
