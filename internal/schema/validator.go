package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// validate checks props against the definition and collects every violation.
func (d *Definition) validate(props map[string]interface{}) error {
	var errs []*ValidationError
	errs = validateObject(d.Event, "", d.Fields, d.StrictMode, props, errs)
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return &MultiValidationError{Errors: errs}
}

func validateObject(event, prefix string, fields map[string]*Field, strict bool, data map[string]interface{}, errs []*ValidationError) []*ValidationError {
	if strict {
		var unknown []string
		for key := range data {
			if _, ok := fields[key]; !ok {
				unknown = append(unknown, joinPath(prefix, key))
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			errs = append(errs, NewUnknownFieldsError(event, unknown))
		}
	}

	// Sorted for stable error ordering.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := fields[name]
		path := joinPath(prefix, name)
		value, exists := data[name]

		if !exists {
			if spec.Required {
				errs = append(errs, NewRequiredFieldError(event, path))
			}
			continue
		}
		errs = validateValue(event, path, spec, strict, value, errs)
	}
	return errs
}

func validateValue(event, path string, spec *Field, strict bool, value interface{}, errs []*ValidationError) []*ValidationError {
	if value == nil {
		if spec.Required {
			return append(errs, newViolation(event, path, RuleRequired, "required field cannot be null"))
		}
		return errs
	}

	switch spec.Type {
	case TypeString:
		if err := validateString(event, path, spec, value); err != nil {
			errs = append(errs, err)
		}
	case TypeNumber, TypeInteger:
		if err := validateNumber(event, path, spec, value); err != nil {
			errs = append(errs, err)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			errs = append(errs, NewTypeMismatchError(event, path, "boolean", typeName(value)))
		}
	case TypeEnum:
		if err := validateEnum(event, path, spec, value); err != nil {
			errs = append(errs, err)
		}
	case TypeArray:
		errs = validateArray(event, path, spec, strict, value, errs)
	case TypeObject:
		obj, ok := asObject(value)
		if !ok {
			return append(errs, NewTypeMismatchError(event, path, "object", typeName(value)))
		}
		errs = validateObject(event, path, spec.Fields, strict && len(spec.Fields) > 0, obj, errs)
	default:
		errs = append(errs, newViolation(event, path, RuleType, "unknown field type: %s", spec.Type))
	}
	return errs
}

func validateString(event, path string, spec *Field, value interface{}) *ValidationError {
	str, ok := value.(string)
	if !ok {
		return NewTypeMismatchError(event, path, "string", typeName(value))
	}

	length := len([]rune(str))
	if spec.MinLength != nil && length < *spec.MinLength {
		return newViolation(event, path, RuleMinLength, "string length %d is less than minimum %d", length, *spec.MinLength)
	}
	if spec.MaxLength != nil && length > *spec.MaxLength {
		return newViolation(event, path, RuleMaxLength, "string length %d exceeds maximum %d", length, *spec.MaxLength)
	}
	if spec.compiledPattern != nil && !spec.compiledPattern.MatchString(str) {
		return newViolation(event, path, RulePattern, "string does not match pattern %q", spec.Pattern)
	}
	return nil
}

func validateNumber(event, path string, spec *Field, value interface{}) *ValidationError {
	num, ok := toFloat(value)
	if !ok {
		return NewTypeMismatchError(event, path, string(spec.Type), typeName(value))
	}
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return newViolation(event, path, RuleFinite, "number must be finite")
	}
	if spec.Type == TypeInteger && num != math.Trunc(num) {
		return NewTypeMismatchError(event, path, "integer", "fractional number")
	}
	if spec.Min != nil && num < *spec.Min {
		return newViolation(event, path, RuleMin, "value %v is less than minimum %v", num, *spec.Min)
	}
	if spec.Max != nil && num > *spec.Max {
		return newViolation(event, path, RuleMax, "value %v exceeds maximum %v", num, *spec.Max)
	}
	return nil
}

func validateEnum(event, path string, spec *Field, value interface{}) *ValidationError {
	str, ok := value.(string)
	if !ok {
		return NewTypeMismatchError(event, path, "enum", typeName(value))
	}
	for _, allowed := range spec.Values {
		if allowed == str {
			return nil
		}
	}
	return newViolation(event, path, RuleEnum, "value %q not in enum %v", str, spec.Values)
}

func validateArray(event, path string, spec *Field, strict bool, value interface{}, errs []*ValidationError) []*ValidationError {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return append(errs, NewTypeMismatchError(event, path, "array", typeName(value)))
	}

	n := float64(rv.Len())
	if spec.Min != nil && n < *spec.Min {
		errs = append(errs, newViolation(event, path, RuleMin, "array has %d items, minimum %v", rv.Len(), *spec.Min))
	}
	if spec.Max != nil && n > *spec.Max {
		errs = append(errs, newViolation(event, path, RuleMax, "array has %d items, maximum %v", rv.Len(), *spec.Max))
	}
	if spec.Items == nil {
		return errs
	}
	for i := 0; i < rv.Len(); i++ {
		errs = validateValue(event, fmt.Sprintf("%s[%d]", path, i), spec.Items, strict, rv.Index(i).Interface(), errs)
	}
	return errs
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// toFloat accepts every numeric shape a property bag may carry: float64
// from JSON, ints from Go call sites, json.Number from UseNumber decoders.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// typeName returns a human-readable type name for JSON values.
func typeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]interface{}, map[string]string:
		return "object"
	}
	if k := reflect.ValueOf(v).Kind(); k == reflect.Slice || k == reflect.Array {
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

// cloneValue deep-copies maps and slices so validated properties cannot be
// mutated through the caller's references.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.Slice && !rv.IsNil() {
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = cloneValue(rv.Index(i).Interface())
		}
		return out
	}
	return v
}

// Clone returns a deep copy of a property bag.
func Clone(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return map[string]interface{}{}
	}
	return cloneValue(props).(map[string]interface{})
}
