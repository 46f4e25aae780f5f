package block

import (
	"fmt"
	"net/mail"
	"net/url"
	"reflect"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/errs"
	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

// FormatHTML marks string properties holding rich text
const FormatHTML = "html"

// Validator checks content data against a type schema
type Validator struct {
	sanitizer *bluemonday.Policy
}

// NewValidator creates a validator sanitising html with the UGC policy
func NewValidator() *Validator {
	return &Validator{sanitizer: bluemonday.UGCPolicy()}
}

// Merge applies patch onto base as a JSON merge patch: nested objects merge,
// a nil value deletes the key. base is not modified.
func Merge(base, patch map[string]any) map[string]any {
	out := types.CloneMap(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = Merge(bm, pm)
				continue
			}
			out[k] = Merge(nil, pm)
			continue
		}
		out[k] = types.CloneValue(v)
	}
	return out
}

// Sanitize rewrites every html string in data in place
func (v *Validator) Sanitize(schema *types.Schema, data map[string]any) {
	if schema == nil {
		return
	}
	for name, prop := range schema.Properties {
		if prop == nil {
			continue
		}
		if val, ok := data[name]; ok {
			data[name] = v.sanitizeValue(prop, val)
		}
	}
}

func (v *Validator) sanitizeValue(schema *types.Schema, val any) any {
	switch t := val.(type) {
	case string:
		if schema.Format == FormatHTML {
			return v.sanitizer.Sanitize(t)
		}
	case map[string]any:
		v.Sanitize(schema, t)
	case []any:
		if schema.Items != nil {
			for i := range t {
				t[i] = v.sanitizeValue(schema.Items, t[i])
			}
		}
	}
	return val
}

// Validate returns every schema violation in data. A nil schema accepts anything.
func (v *Validator) Validate(schema *types.Schema, data map[string]any) []errs.Issue {
	if schema == nil {
		return nil
	}
	var issues []errs.Issue
	validateObject("data", schema, data, &issues)
	return issues
}

func validateValue(path string, schema *types.Schema, val any, issues *[]errs.Issue) {
	add := func(format string, args ...any) {
		*issues = append(*issues, errs.Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if val == nil {
		if schema.Type != "" && schema.Type != "null" {
			add("expected %s, got null", schema.Type)
		}
		return
	}

	switch schema.Type {
	case "", "any":
	case "object":
		obj, ok := val.(map[string]any)
		if !ok {
			add("expected object, got %s", kindOf(val))
			return
		}
		validateObject(path, schema, obj, issues)
	case "array":
		list, ok := val.([]any)
		if !ok {
			add("expected array, got %s", kindOf(val))
			return
		}
		if schema.Items != nil {
			for i, item := range list {
				validateValue(fmt.Sprintf("%s[%d]", path, i), schema.Items, item, issues)
			}
		}
	case "string":
		s, ok := val.(string)
		if !ok {
			add("expected string, got %s", kindOf(val))
			return
		}
		n := utf8.RuneCountInString(s)
		if schema.MinLength != nil && n < *schema.MinLength {
			add("must be at least %d characters", *schema.MinLength)
		}
		if schema.MaxLength != nil && n > *schema.MaxLength {
			add("must be at most %d characters", *schema.MaxLength)
		}
		if msg := checkFormat(schema.Format, s); msg != "" {
			add("%s", msg)
		}
	case "number", "integer":
		f, ok := toFloat(val)
		if !ok {
			add("expected %s, got %s", schema.Type, kindOf(val))
			return
		}
		if schema.Type == "integer" && f != float64(int64(f)) {
			add("expected integer, got %v", val)
		}
		if schema.Minimum != nil && f < *schema.Minimum {
			add("must be >= %v", *schema.Minimum)
		}
		if schema.Maximum != nil && f > *schema.Maximum {
			add("must be <= %v", *schema.Maximum)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			add("expected boolean, got %s", kindOf(val))
			return
		}
	default:
		add("unknown schema type %q", schema.Type)
		return
	}

	if len(schema.Enum) > 0 && !inEnum(schema.Enum, val) {
		add("must be one of %v", schema.Enum)
	}
}

func validateObject(path string, schema *types.Schema, obj map[string]any, issues *[]errs.Issue) {
	for _, name := range schema.Required {
		if _, ok := obj[name]; !ok {
			*issues = append(*issues, errs.Issue{Path: path + "." + name, Message: "is required"})
		}
	}

	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}
	sort.Strings(names)

	closed := schema.AdditionalProperties != nil && !*schema.AdditionalProperties
	for _, name := range names {
		prop, ok := schema.Properties[name]
		switch {
		case ok && prop != nil:
			validateValue(path+"."+name, prop, obj[name], issues)
		case closed:
			*issues = append(*issues, errs.Issue{Path: path + "." + name, Message: "is not a declared property"})
		}
	}
}

func checkFormat(format, s string) string {
	switch format {
	case "email":
		if _, err := mail.ParseAddress(s); err != nil {
			return "must be an email address"
		}
	case "uri", "url":
		if u, err := url.Parse(s); err != nil || u.Scheme == "" || u.Host == "" {
			return "must be an absolute URL"
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return "must be an RFC 3339 timestamp"
		}
	case "date":
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return "must be a date (YYYY-MM-DD)"
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func inEnum(enum []any, val any) bool {
	f, numeric := toFloat(val)
	for _, candidate := range enum {
		if numeric {
			if c, ok := toFloat(candidate); ok && c == f {
				return true
			}
			continue
		}
		if reflect.DeepEqual(candidate, val) {
			return true
		}
	}
	return false
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
