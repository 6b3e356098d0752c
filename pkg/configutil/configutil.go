package configutil

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings decodes a free-form settings map into a typed struct.
// Keys match case/underscore/hyphen insensitively.
func DecodeSettings(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	cfg := &mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// RequireString ensures a value is present for a required config field.
func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// IntValue returns fallback when value is nil.
func IntValue(value *int, fallback int) int {
	if value == nil {
		return fallback
	}
	return *value
}

// Schema defines required and optional keys for a settings map.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// ValidateSettings validates a settings map against a schema before decoding.
func ValidateSettings(input map[string]any, schema Schema) error {
	required := make(map[string]string, len(schema.Required))
	allowed := make(map[string]struct{}, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Required {
		nk := normalizeKey(k)
		required[nk] = k
		allowed[nk] = struct{}{}
	}
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = struct{}{}
	}

	var missing, unknown []string
	seen := make(map[string]bool)

	for k, v := range input {
		nk := normalizeKey(k)
		seen[nk] = true
		if _, ok := allowed[nk]; !ok && !schema.AllowUnknown {
			unknown = append(unknown, k)
		}
		if reqKey, ok := required[nk]; ok && isEmptyValue(v) {
			missing = append(missing, reqKey)
		}
	}
	for nk, reqKey := range required {
		if !seen[nk] {
			missing = append(missing, reqKey)
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}
