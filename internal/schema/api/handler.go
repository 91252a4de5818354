package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	httperr "github.com/theburgerllc/nycayen-telemetry/internal/core/errors"
	"github.com/theburgerllc/nycayen-telemetry/internal/events"
	"github.com/theburgerllc/nycayen-telemetry/internal/schema"
	"gopkg.in/yaml.v3"
)

// Handler handles schema discovery HTTP requests.
type Handler struct {
	registry *schema.Registry
}

// NewHandler creates a new schema API handler.
func NewHandler(reg *schema.Registry) *Handler {
	return &Handler{registry: reg}
}

// SchemaResponse describes one registered event.
type SchemaResponse struct {
	Event          string      `json:"event"`
	Description    string      `json:"description,omitempty"`
	StrictMode     bool        `json:"strict_mode"`
	Attribution    bool        `json:"attribution"`
	Typed          bool        `json:"typed"`
	RequiredFields []string    `json:"required_fields"`
	Fingerprint    string      `json:"fingerprint,omitempty"`
	Definition     interface{} `json:"definition"`
}

// ValidateResponse is the body of a successful dry-run validation.
// Properties holds the accepted bag; for events with a typed payload it is
// normalized through that payload, so fields the payload does not carry
// are dropped.
type ValidateResponse struct {
	Valid      bool                   `json:"valid"`
	Event      string                 `json:"event"`
	Properties map[string]interface{} `json:"properties"`
}

// HandleList handles GET /v1/schemas.
func (h *Handler) HandleList(c *gin.Context) {
	names := h.registry.Names()
	responses := make([]*SchemaResponse, 0, len(names))
	for _, name := range names {
		def, err := h.registry.Get(name)
		if err != nil {
			continue // unregistered between Names and Get
		}
		resp, convErr := toResponse(def)
		if convErr != nil {
			slog.Error("Schema list conversion error", "error", convErr, "event", name)
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Failed to convert schema definition",
			})
			return
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, responses)
}

// HandleGet handles GET /v1/schemas/{event}.
func (h *Handler) HandleGet(c *gin.Context) {
	def, err := h.registry.Get(c.Param("event"))
	if err != nil {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpSchemaNotFoundError,
			Message:   err.Error(),
		})
		return
	}

	resp, err := toResponse(def)
	if err != nil {
		slog.Error("Schema conversion error", "error", err, "event", def.Event)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to convert schema definition",
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleValidate handles POST /v1/schemas/{event}/validate (dry-run).
// The body is the property bag; nothing is tracked.
func (h *Handler) HandleValidate(c *gin.Context) {
	event := c.Param("event")

	var props map[string]interface{}
	if err := c.ShouldBindJSON(&props); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}

	validated, err := h.registry.Validate(event, props)
	if err != nil {
		if errors.Is(err, schema.ErrNotFound) {
			c.JSON(http.StatusNotFound, httperr.ErrorResponse{
				ErrorType: httperr.HttpSchemaNotFoundError,
				Message:   err.Error(),
			})
			return
		}

		details := map[string]interface{}{"schema": event}
		var detailer schema.ValidationDetailer
		if errors.As(err, &detailer) {
			for k, v := range detailer.Details() {
				details[k] = v
			}
		}
		c.JSON(http.StatusUnprocessableEntity, httperr.ErrorResponse{
			ErrorType: httperr.HttpSchemaValidationError,
			Message:   err.Error(),
			Details:   details,
		})
		return
	}

	if events.Known(event) {
		payload, err := events.Decode(event, validated)
		if err != nil {
			slog.Error("Validated properties do not decode into payload", "event", event, "error", err)
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Schema and typed payload disagree",
			})
			return
		}
		validated = payload.Properties()
	}

	c.JSON(http.StatusOK, ValidateResponse{Valid: true, Event: event, Properties: validated})
}

func toResponse(def *schema.Definition) (*SchemaResponse, error) {
	raw, err := yaml.Marshal(def)
	if err != nil {
		return nil, err
	}
	var parsed map[string]interface{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	required := def.RequiredFields()
	if required == nil {
		required = []string{}
	}
	return &SchemaResponse{
		Event:          def.Event,
		Description:    def.Description,
		StrictMode:     def.StrictMode,
		Attribution:    def.Attribution,
		Typed:          events.Known(def.Event),
		RequiredFields: required,
		Fingerprint:    def.Fingerprint,
		Definition:     parsed,
	}, nil
}
