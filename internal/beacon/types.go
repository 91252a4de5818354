package beacon

import (
	"github.com/theburgerllc/nycayen-telemetry/internal/attribution"
	"github.com/theburgerllc/nycayen-telemetry/internal/vitals"
)

// TrackRequest is the body of POST /v1/track.
type TrackRequest struct {
	Name       string                 `json:"name" binding:"required"`
	Properties map[string]interface{} `json:"properties"`
}

// TrackResponse reports whether the event entered the pipeline. Rejections
// are never explained here; they surface on the diagnostics channel.
type TrackResponse struct {
	Accepted bool `json:"accepted"`
}

// VariantRequest is the body of POST /v1/variant.
type VariantRequest struct {
	TestName string    `json:"test_name" binding:"required"`
	Variants []string  `json:"variants"`
	Weights  []float64 `json:"weights,omitempty"`
}

type VariantResponse struct {
	TestName string `json:"test_name"`
	Variant  string `json:"variant"`
}

// TouchpointsQuery binds GET /v1/touchpoints.
type TouchpointsQuery struct {
	WindowDays int `form:"window_days" binding:"omitempty,min=0"`
}

type TouchpointsResponse struct {
	WindowDays  int                      `json:"window_days"`
	Touchpoints []attribution.Touchpoint `json:"touchpoints"`
}

// NavigateRequest is the body of POST /v1/navigate.
type NavigateRequest struct {
	URL      string `json:"url" binding:"required"`
	Referrer string `json:"referrer"`
	Title    string `json:"title"`
}

type NavigateResponse struct {
	Captured   bool                    `json:"captured"`
	Touchpoint *attribution.Touchpoint `json:"touchpoint,omitempty"`
}

// VitalsRequest is the body of POST /v1/vitals. A single measurement or a
// list may be posted; browsers often buffer several before a beacon.
type VitalsRequest struct {
	Measurements []vitals.Measurement `json:"measurements"`
}

type VitalsResponse struct {
	Recorded int `json:"recorded"`
	Skipped  int `json:"skipped"`
}

type PageHideResponse struct {
	Flushed bool `json:"flushed"`
	Pending int  `json:"pending"`
}
