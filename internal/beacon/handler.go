package beacon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/theburgerllc/nycayen-telemetry/internal/core/errors"
	"github.com/theburgerllc/nycayen-telemetry/internal/pipeline"
	"github.com/theburgerllc/nycayen-telemetry/internal/vitals"
)

// pageHideTimeout bounds the final flush; the host is going away.
const pageHideTimeout = 3 * time.Second

// HandleTrack handles POST /v1/track.
func (s *Service) HandleTrack(c *gin.Context) {
	var req TrackRequest
	if !s.bind(c, &req) {
		return
	}
	accepted := s.pipe.Track(c.Request.Context(), req.Name, req.Properties)
	c.JSON(http.StatusAccepted, TrackResponse{Accepted: accepted})
}

// HandleVariant handles POST /v1/variant.
func (s *Service) HandleVariant(c *gin.Context) {
	var req VariantRequest
	if !s.bind(c, &req) {
		return
	}
	variant := s.pipe.Variant(c.Request.Context(), req.TestName, req.Variants, req.Weights)
	c.JSON(http.StatusOK, VariantResponse{TestName: req.TestName, Variant: variant})
}

// HandleTouchpoints handles GET /v1/touchpoints?window_days=N.
// A missing or zero window uses the configured attribution window.
func (s *Service) HandleTouchpoints(c *gin.Context) {
	var query TouchpointsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	tps := s.pipe.Touchpoints(query.WindowDays)
	window := query.WindowDays
	if window <= 0 {
		window = s.pipe.AttributionWindowDays()
	}
	c.JSON(http.StatusOK, TouchpointsResponse{WindowDays: window, Touchpoints: tps})
}

// HandleNavigate handles POST /v1/navigate: a top-level page load.
func (s *Service) HandleNavigate(c *gin.Context) {
	var req NavigateRequest
	if !s.bind(c, &req) {
		return
	}
	tp, ok := s.pipe.Navigate(c.Request.Context(), pipeline.Navigation{
		URL:      req.URL,
		Referrer: req.Referrer,
		Title:    req.Title,
	})
	resp := NavigateResponse{Captured: ok}
	if ok {
		resp.Touchpoint = &tp
	}
	c.JSON(http.StatusOK, resp)
}

// HandleVitals handles POST /v1/vitals. The body is either one measurement
// or {"measurements": [...]}. Unknown metrics and invalid values are
// skipped, never failing the whole report.
func (s *Service) HandleVitals(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	measurements, err := decodeMeasurements(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}

	var resp VitalsResponse
	for _, m := range measurements {
		name, err := vitals.ParseName(string(m.Name))
		if err == nil {
			m.Name = name
			_, err = vitals.Classify(m.Name, m.Value)
		}
		if err != nil {
			slog.Debug("[Beacon] Skipping web vital", "metric", m.Name, "error", err)
			resp.Skipped++
			continue
		}
		if !s.feed.Push(m) {
			resp.Skipped++
			continue
		}
		resp.Recorded++
	}

	if resp.Recorded == 0 && resp.Skipped > 0 {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnsupportedMetric,
			Message:   "No supported web vital in report",
			Details:   resp,
		})
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// HandlePageHide handles POST /v1/pagehide: the final best-effort flush.
// Undelivered events stay in the durable queue for the next lifetime.
func (s *Service) HandlePageHide(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pageHideTimeout)
	defer cancel()

	err := s.pipe.PageHide(ctx)
	c.JSON(http.StatusAccepted, PageHideResponse{
		Flushed: err == nil,
		Pending: s.pipe.Pending(ctx),
	})
}

func (s *Service) HandleIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipe.Identity())
}

func (s *Service) HandleAssignments(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipe.Assignments())
}

func (s *Service) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipe.Stats())
}

// bind decodes a size-limited JSON body into dst and runs gin's binding
// validation. It writes the error response and returns false on failure.
func (s *Service) bind(c *gin.Context, dst interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.maxBodySizeBytes))
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(c, tooLarge.Limit)
			return false
		}
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidRequestError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return false
	}
	return true
}

func (s *Service) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.maxBodySizeBytes)))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(c, tooLarge.Limit)
			return nil, false
		}
		slog.Error("[Beacon] Failed to read request body", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to read request body",
		})
		return nil, false
	}
	return body, true
}

func decodeMeasurements(body []byte) ([]vitals.Measurement, error) {
	trimmed := bytes.TrimSpace(body)
	var list VitalsRequest
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	if len(list.Measurements) > 0 {
		return list.Measurements, nil
	}

	var single vitals.Measurement
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	if single.Name == "" {
		return nil, errors.New("measurement name is required")
	}
	return []vitals.Measurement{single}, nil
}

func writeTooLarge(c *gin.Context, limit int64) {
	c.JSON(http.StatusRequestEntityTooLarge, httperr.ErrorResponse{
		ErrorType: httperr.HttpPayloadTooLargeError,
		Message:   "Request body exceeds maximum allowed size",
		Details: map[string]interface{}{
			"max_size_mb": limit / (1024 * 1024),
		},
	})
}
