package schema

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is the primitive kind a property must have.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeEnum    FieldType = "enum"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field defines a single property of an event.
//
// Fields support two declaration styles:
//
//	Shorthand (scalar): page_url: string!
//	Long form (mapping): rating:
//	                        type: enum!
//	                        values: [good, needs-improvement, poor]
//
// Append "!" to the type name to mark a field as required.
type Field struct {
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required,omitempty"`

	// Values lists the allowed strings of an enum field.
	Values []string `yaml:"values,omitempty"`

	// Numeric bounds (number, integer) or element-count bounds (array).
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	// String constraints.
	MinLength *int   `yaml:"minLength,omitempty"`
	MaxLength *int   `yaml:"maxLength,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`

	// Items describes array elements.
	Items *Field `yaml:"items,omitempty"`

	// Fields describes nested object properties.
	Fields map[string]*Field `yaml:"fields,omitempty"`

	compiledPattern *regexp.Regexp
}

// UnmarshalYAML supports both shorthand and long-form declarations.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.parseTypeString(value.Value)
	}

	// Decode via alias to avoid infinite recursion, then normalize the type string.
	type fieldAlias Field
	var alias fieldAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = Field(alias)

	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	return f.parseTypeString(string(f.Type))
}

// parseTypeString parses a user-facing type name like "string!".
func (f *Field) parseTypeString(s string) error {
	if strings.HasSuffix(s, "!") {
		f.Required = true
		s = strings.TrimSuffix(s, "!")
	}

	switch FieldType(s) {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeEnum, TypeArray, TypeObject:
		f.Type = FieldType(s)
	case "bool":
		f.Type = TypeBoolean
	case "int":
		f.Type = TypeInteger
	default:
		return fmt.Errorf("unsupported type %q (must be: string, number, integer, boolean, enum, array, object)", s)
	}
	return nil
}

// compile validates the field definition recursively.
func (f *Field) compile() error {
	switch f.Type {
	case TypeString:
		return f.compileString()
	case TypeNumber, TypeInteger:
		if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
			return fmt.Errorf("%s fields do not support length or pattern constraints", f.Type)
		}
		return f.checkBounds()
	case TypeBoolean:
		if f.HasConstraints() {
			return fmt.Errorf("boolean fields do not support constraints")
		}
		return nil
	case TypeEnum:
		if len(f.Values) == 0 {
			return fmt.Errorf("enum fields require at least one value")
		}
		return nil
	case TypeArray:
		if err := f.checkBounds(); err != nil {
			return err
		}
		if f.Items == nil {
			return nil
		}
		if err := f.Items.compile(); err != nil {
			return fmt.Errorf("items: %w", err)
		}
		return nil
	case TypeObject:
		for name, child := range f.Fields {
			if child == nil {
				return fmt.Errorf("field %q: type cannot be empty", name)
			}
			if err := child.compile(); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %q", f.Type)
	}
}

func (f *Field) compileString() error {
	if f.MinLength != nil && *f.MinLength < 0 {
		return fmt.Errorf("minLength cannot be negative")
	}
	if f.MaxLength != nil && *f.MaxLength < 0 {
		return fmt.Errorf("maxLength cannot be negative")
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return fmt.Errorf("minLength (%d) cannot exceed maxLength (%d)", *f.MinLength, *f.MaxLength)
	}
	if f.Pattern != "" {
		if len(f.Pattern) > 1000 {
			return fmt.Errorf("pattern too long (max 1000 chars)")
		}
		compiled, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		f.compiledPattern = compiled
	}
	return nil
}

func (f *Field) checkBounds() error {
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min (%v) cannot exceed max (%v)", *f.Min, *f.Max)
	}
	return nil
}

// HasConstraints returns true if the field has validation constraints beyond type.
func (f *Field) HasConstraints() bool {
	return len(f.Values) > 0 ||
		f.Min != nil ||
		f.Max != nil ||
		f.MinLength != nil ||
		f.MaxLength != nil ||
		f.Pattern != ""
}

// String returns a human-readable description of the field type.
func (f *Field) String() string {
	parts := []string{string(f.Type)}
	if f.Required {
		parts = append(parts, "required")
	}
	if len(f.Values) > 0 {
		parts = append(parts, fmt.Sprintf("values[%d]", len(f.Values)))
	}
	return strings.Join(parts, " ")
}
