package api

import (
	"github.com/gin-gonic/gin"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
)

// Service provides read-only schema discovery and dry-run validation.
type Service struct {
	registry *schema.Registry
}

// NewService creates a new schema API service.
func NewService(reg *schema.Registry) *Service {
	return &Service{registry: reg}
}

// RegisterRoutes registers the schema API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	handler := NewHandler(s.registry)

	schemas := r.Group("/v1/schemas")
	{
		schemas.GET("", handler.HandleList)
		schemas.GET("/:event", handler.HandleGet)
		schemas.POST("/:event/validate", handler.HandleValidate)
	}
}
