// Package events defines one typed payload per registered event name.
// Internal code builds these; the schema registry validates their
// property bags, and Decode turns a validated bag from an untyped
// boundary (HTTP ingress, UI call sites) back into the typed variant.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Registered event names.
const (
	NameABTestAssignment   = "ab_test_assignment"
	NameWebVital           = "web_vital"
	NamePageView           = "page_view"
	NameTouchpointCaptured = "touchpoint_captured"
	NameSearch             = "search"
	NameBookingStarted     = "booking_started"
	NameBookingCompleted   = "booking_completed"
	NameCTAClick           = "cta_click"
	NameFormSubmit         = "form_submit"
	NameError              = "error"
)

// Payload is the tagged variant carried by a tracked event.
type Payload interface {
	EventName() string
	Properties() map[string]interface{}
}

type ABTestAssignment struct {
	TestName      string `json:"test_name"`
	Variant       string `json:"variant"`
	AssignmentKey string `json:"assignment_key"`
}

type WebVital struct {
	Metric         string  `json:"metric"`
	Value          float64 `json:"value"`
	Rating         string  `json:"rating"`
	ID             string  `json:"id,omitempty"`
	Delta          float64 `json:"delta,omitempty"`
	NavigationType string  `json:"navigation_type,omitempty"`
}

type PageView struct {
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

type TouchpointCaptured struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
	Content  string `json:"content,omitempty"`
	Term     string `json:"term,omitempty"`
	Page     string `json:"page,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

type Search struct {
	Query    string `json:"query"`
	Results  *int   `json:"results,omitempty"`
	Category string `json:"category,omitempty"`
}

type BookingStarted struct {
	ServiceID   string   `json:"service_id"`
	ServiceName string   `json:"service_name,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency,omitempty"`
}

type BookingItem struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
}

type BookingCompleted struct {
	BookingID string        `json:"booking_id"`
	ServiceID string        `json:"service_id"`
	Value     float64       `json:"value"`
	Currency  string        `json:"currency"`
	Items     []BookingItem `json:"items,omitempty"`
}

type CTAClick struct {
	CTAID    string `json:"cta_id"`
	Label    string `json:"label,omitempty"`
	Location string `json:"location,omitempty"`
}

type FormSubmit struct {
	FormID  string `json:"form_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ClientError is reported under the "error" event name.
type ClientError struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

func (ABTestAssignment) EventName() string   { return NameABTestAssignment }
func (WebVital) EventName() string           { return NameWebVital }
func (PageView) EventName() string           { return NamePageView }
func (TouchpointCaptured) EventName() string { return NameTouchpointCaptured }
func (Search) EventName() string             { return NameSearch }
func (BookingStarted) EventName() string     { return NameBookingStarted }
func (BookingCompleted) EventName() string   { return NameBookingCompleted }
func (CTAClick) EventName() string           { return NameCTAClick }
func (FormSubmit) EventName() string         { return NameFormSubmit }
func (ClientError) EventName() string        { return NameError }

func (p ABTestAssignment) Properties() map[string]interface{}   { return propertiesOf(p) }
func (p WebVital) Properties() map[string]interface{}           { return propertiesOf(p) }
func (p PageView) Properties() map[string]interface{}           { return propertiesOf(p) }
func (p TouchpointCaptured) Properties() map[string]interface{} { return propertiesOf(p) }
func (p Search) Properties() map[string]interface{}             { return propertiesOf(p) }
func (p BookingStarted) Properties() map[string]interface{}     { return propertiesOf(p) }
func (p BookingCompleted) Properties() map[string]interface{}   { return propertiesOf(p) }
func (p CTAClick) Properties() map[string]interface{}           { return propertiesOf(p) }
func (p FormSubmit) Properties() map[string]interface{}         { return propertiesOf(p) }
func (p ClientError) Properties() map[string]interface{}        { return propertiesOf(p) }

// propertiesOf flattens a payload into the JSON-shaped property bag the
// registry validates and the collector receives.
func propertiesOf(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		// Payload structs contain only JSON-safe fields.
		panic(fmt.Sprintf("events: marshal %T: %v", v, err))
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("events: unmarshal %T: %v", v, err))
	}
	return out
}

var decoders = map[string]func(map[string]interface{}) (Payload, error){
	NameABTestAssignment:   decodeInto[ABTestAssignment],
	NameWebVital:           decodeInto[WebVital],
	NamePageView:           decodeInto[PageView],
	NameTouchpointCaptured: decodeInto[TouchpointCaptured],
	NameSearch:             decodeInto[Search],
	NameBookingStarted:     decodeInto[BookingStarted],
	NameBookingCompleted:   decodeInto[BookingCompleted],
	NameCTAClick:           decodeInto[CTAClick],
	NameFormSubmit:         decodeInto[FormSubmit],
	NameError:              decodeInto[ClientError],
}

// ErrUnknownEvent is returned by Decode for names without a typed payload.
var ErrUnknownEvent = errors.New("no typed payload for event")

// Decode converts a validated property bag into its typed payload.
func Decode(name string, props map[string]interface{}) (Payload, error) {
	decode, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	return decode(props)
}

// Known reports whether name has a typed payload.
func Known(name string) bool {
	_, ok := decoders[name]
	return ok
}

func decodeInto[T Payload](props map[string]interface{}) (Payload, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.EventName(), err)
	}
	return p, nil
}
