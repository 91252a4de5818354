package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Definition declares the shape of one named event type.
//
//	event: booking_started
//	description: Visitor opened the booking flow
//	strictMode: true
//	attribution: true
//	fields:
//	  service_id: string!
//	  price:
//	    type: number
//	    min: 0
type Definition struct {
	Event       string            `yaml:"event"`
	Description string            `yaml:"description,omitempty"`
	StrictMode  bool              `yaml:"strictMode,omitempty"`
	Attribution bool              `yaml:"attribution,omitempty"`
	Fields      map[string]*Field `yaml:"fields"`

	// Fingerprint is SHA-256 of the raw definition, empty for definitions built in code.
	Fingerprint string `yaml:"-"`
}

// ComputeFingerprint calculates SHA-256 hash of the definition.
func ComputeFingerprint(definition []byte) string {
	hash := sha256.Sum256(definition)
	return hex.EncodeToString(hash[:])
}

// Compile checks the definition is structurally valid and prepares
// field patterns. It must succeed before the definition is registered.
func (d *Definition) Compile() error {
	if d.Event == "" {
		return fmt.Errorf("event name is required")
	}
	for name, field := range d.Fields {
		if field == nil {
			return fmt.Errorf("field %q: type cannot be empty", name)
		}
		if err := field.compile(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// RequiredFields returns the sorted names of required top-level fields.
func (d *Definition) RequiredFields() []string {
	var names []string
	for name, f := range d.Fields {
		if f.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
