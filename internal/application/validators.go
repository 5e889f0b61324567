package application

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-cefr/infrastructure/doc2vec"
	"github.com/ahrav/go-cefr/infrastructure/llmgrader"
	"github.com/ahrav/go-cefr/infrastructure/naivebayes"
	"github.com/ahrav/go-cefr/infrastructure/transformer"
)

// ValidateSourceParameters validates the parameters of a built-in source
// type, ensuring required fields are present and values are in range.
// Types registered at runtime validate their own parameters when built,
// so ValidateSourceParameters accepts any parameters for them.
// ValidateSourceParameters returns an error if the parameters cannot be
// decoded or a rule is violated.
func ValidateSourceParameters(sourceType string, params yaml.Node) error {
	paramMap, err := decodeParameters(params)
	if err != nil {
		return err
	}

	switch sourceType {
	case naivebayes.Type:
		return requireString(paramMap, "model_path")
	case doc2vec.Type:
		return validateDoc2VecParams(paramMap)
	case transformer.Type:
		return validateTransformerParams(paramMap)
	case llmgrader.Type:
		return validateLLMGraderParams(paramMap)
	default:
		return nil
	}
}

// decodeParameters converts a parameters node into a map. An absent node
// yields an empty map.
func decodeParameters(params yaml.Node) (map[string]any, error) {
	paramMap := make(map[string]any)
	if params.Kind == 0 {
		return paramMap, nil
	}
	if err := params.Decode(&paramMap); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	return paramMap, nil
}

func requireString(params map[string]any, key string) error {
	v, ok := params[key]
	if !ok {
		return fmt.Errorf("requires '%s' parameter", key)
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s cannot be empty", key)
	}
	return nil
}

func validateDoc2VecParams(params map[string]any) error {
	if err := requireString(params, "model_path"); err != nil {
		return err
	}
	if d, ok := params["max_edit_distance"]; ok {
		n, ok := d.(int)
		if !ok {
			return fmt.Errorf("max_edit_distance must be an integer")
		}
		if n < 0 || n > 3 {
			return fmt.Errorf("max_edit_distance must be between 0 and 3")
		}
	}
	return nil
}

func validateTransformerParams(params map[string]any) error {
	if err := requireString(params, "endpoint"); err != nil {
		return err
	}
	u, err := url.Parse(params["endpoint"].(string))
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must include a host")
	}
	if ml, ok := params["max_length"]; ok {
		n, ok := ml.(int)
		if !ok || n <= 0 {
			return fmt.Errorf("max_length must be a positive integer")
		}
	}
	return nil
}

func validateLLMGraderParams(params map[string]any) error {
	if err := requireString(params, "provider"); err != nil {
		return err
	}
	switch params["provider"] {
	case "openai", "anthropic", "google":
	default:
		return fmt.Errorf("provider must be one of openai, anthropic, google")
	}
	if temp, ok := params["temperature"]; ok {
		var v float64
		switch t := temp.(type) {
		case float64:
			v = t
		case int:
			v = float64(t)
		default:
			return fmt.Errorf("temperature must be a number")
		}
		if v < 0 || v > 2 {
			return fmt.Errorf("temperature must be between 0 and 2")
		}
	}
	return nil
}

// registerCustomValidators registers the configuration-specific struct tag
// validators: loglevel, hostport and sourcetype. The sourcetype validator
// accepts exactly the given types.
// registerCustomValidators returns an error if any registration fails.
func registerCustomValidators(v *validator.Validate, sourceTypes []string) error {
	if err := v.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return fmt.Errorf("failed to register loglevel validator: %w", err)
	}
	if err := v.RegisterValidation("hostport", validateHostPort); err != nil {
		return fmt.Errorf("failed to register hostport validator: %w", err)
	}

	known := make(map[string]struct{}, len(sourceTypes))
	for _, t := range sourceTypes {
		known[t] = struct{}{}
	}
	sourceType := func(fl validator.FieldLevel) bool {
		_, ok := known[fl.Field().String()]
		return ok
	}
	if err := v.RegisterValidation("sourcetype", sourceType); err != nil {
		return fmt.Errorf("failed to register sourcetype validator: %w", err)
	}

	return nil
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// validateHostPort accepts host:port and :port with a numeric port.
func validateHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}
