// Package beacon exposes the pipeline's producer contract over HTTP so a
// browser (or any host without an in-process pipeline) can report events,
// resolve variants and signal page lifecycle.
//
// A Service fronts exactly one pipeline, and so one visitor and one
// session: every caller of /v1/track shares that identity. Run it as a
// per-client sidecar next to the browser or host it reports for, not as a
// shared ingestion endpoint; internal/collector is the shared endpoint.
package beacon

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/theburgerllc/nycayen-telemetry/internal/pipeline"
	"github.com/theburgerllc/nycayen-telemetry/internal/vitals"
)

type Service struct {
	pipe             *pipeline.Pipeline
	feed             *vitals.Feed
	maxBodySizeBytes int
}

// NewService wires a pushed-measurement feed into the pipeline's observer.
func NewService(p *pipeline.Pipeline, maxBodySizeMB int) (*Service, error) {
	if p == nil {
		return nil, fmt.Errorf("beacon: pipeline must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1
	}

	feed := vitals.NewFeed()
	p.Observer().Subscribe(feed)

	return &Service{
		pipe:             p,
		feed:             feed,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}, nil
}

// RegisterRoutes registers the beacon routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	{
		v1.POST("/track", s.HandleTrack)
		v1.POST("/variant", s.HandleVariant)
		v1.GET("/touchpoints", s.HandleTouchpoints)
		v1.POST("/navigate", s.HandleNavigate)
		v1.POST("/vitals", s.HandleVitals)
		v1.POST("/pagehide", s.HandlePageHide)

		v1.GET("/identity", s.HandleIdentity)
		v1.GET("/assignments", s.HandleAssignments)
		v1.GET("/stats", s.HandleStats)
	}
}
