package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	v1 "github.com/theburgerllc/nycayen-telemetry/internal/api/v1"
	httperr "github.com/theburgerllc/nycayen-telemetry/internal/core/errors"
	"github.com/theburgerllc/nycayen-telemetry/internal/core/storage"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
	msgEmptyBatch     = "Batch contains no events"
	msgPersistFailed  = "Failed to persist events"
	msgListFailed     = "Failed to list events"
)

// collectorError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type collectorError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *collectorError) Error() string {
	return e.message
}

// rejection describes one event that failed envelope validation.
type rejection struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// CollectResponse is the body of a successful POST /v1/collect.
type CollectResponse struct {
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   []rejection `json:"rejected,omitempty"`
}

// ListResponse is the body of GET /v1/events.
type ListResponse struct {
	Events     []storage.StoredEvent `json:"events"`
	NextCursor int64                 `json:"next_cursor"`
}

// CollectHandler handles HTTP POST requests carrying a delivery batch.
// Events with an invalid envelope are skipped and reported individually so
// one bad event cannot make a sender retry the whole batch forever.
func (s *Service) CollectHandler(c *gin.Context) {
	batch, payloadSize, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	resp, err := s.persistBatch(c.Request.Context(), batch)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("[Collector] Batch received",
		"events", len(batch.Events),
		"accepted", resp.Accepted,
		"duplicates", resp.Duplicates,
		"rejected", len(resp.Rejected),
		"payload_size", payloadSize)

	s.recorder.CollectorIngested(c.Request.Context(), resp.Accepted, resp.Duplicates)
	c.JSON(http.StatusAccepted, resp)
}

// parseBatch reads the (optionally zstd-encoded) request body and binds it
// into a Batch. Returns the batch and the decoded payload size.
func (s *Service) parseBatch(c *gin.Context) (*v1.Batch, int, *collectorError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Collector] Failed to read request body", "error", err)
		return nil, 0, &collectorError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}
	if int64(len(bodyBytes)) > maxBytes {
		return nil, len(bodyBytes), tooLarge(maxBytes)
	}

	switch encoding := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding"))); encoding {
	case "", "identity":
	case "zstd":
		decoded, err := s.decoder.DecodeAll(bodyBytes, nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
				return nil, len(bodyBytes), tooLarge(maxBytes)
			}
			slog.Warn("[Collector] Invalid zstd body", "error", err)
			return nil, len(bodyBytes), &collectorError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidJsonError,
				message:    "Invalid zstd body",
			}
		}
		if int64(len(decoded)) > maxBytes {
			return nil, len(decoded), tooLarge(maxBytes)
		}
		bodyBytes = decoded
	default:
		return nil, len(bodyBytes), &collectorError{
			statusCode: http.StatusUnsupportedMediaType,
			errorType:  httperr.HttpUnsupportedEncoding,
			message:    "Unsupported Content-Encoding: " + encoding,
		}
	}

	var batch v1.Batch
	if err := json.Unmarshal(bodyBytes, &batch); err != nil {
		slog.Warn("[Collector] Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &collectorError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	if len(batch.Events) == 0 {
		return nil, len(bodyBytes), &collectorError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidEnvelopeError,
			message:    msgEmptyBatch,
		}
	}

	return &batch, len(bodyBytes), nil
}

// persistBatch validates and saves every event in order. A duplicate id
// counts as already collected; any other storage failure fails the request
// so the sender retries, which the id dedup makes safe.
func (s *Service) persistBatch(ctx context.Context, batch *v1.Batch) (CollectResponse, *collectorError) {
	var resp CollectResponse
	receivedAt := s.now().UTC()

	for i := range batch.Events {
		evt := &batch.Events[i]
		if err := evt.Validate(); err != nil {
			slog.Warn("[Collector] Envelope validation failed", "index", i, "event_id", evt.ID, "error", err)
			resp.Rejected = append(resp.Rejected, rejection{Index: i, ID: evt.ID, Error: err.Error()})
			continue
		}

		if err := s.store.SaveEvent(ctx, evt, receivedAt); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				slog.Debug("[Collector] Duplicate event skipped", "event_id", evt.ID)
				resp.Duplicates++
				continue
			}

			slog.Error("[Collector] Failed to persist event", "error", err, "event_id", evt.ID)
			return CollectResponse{}, &collectorError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpInternalError,
				message:    msgPersistFailed,
				details: map[string]interface{}{
					"persisted": resp.Accepted,
				},
			}
		}
		resp.Accepted++
	}

	return resp, nil
}

// ListEventsHandler pages through collected events in ingest order.
//
//	GET /v1/events?after=<ingest_seq>&limit=<n>
func (s *Service) ListEventsHandler(c *gin.Context) {
	after, err := parseIntParam(c, "after", 0)
	if err != nil || after < 0 {
		writeError(c, invalidQuery("after must be a non-negative integer"))
		return
	}
	limit, err := parseIntParam(c, "limit", defaultListLimit)
	if err != nil || limit <= 0 || limit > maxListLimit {
		writeError(c, invalidQuery("limit must be between 1 and "+strconv.Itoa(maxListLimit)))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	events, err := s.store.RetrieveEventsAfterCursor(ctx, after, int(limit))
	if err != nil {
		slog.Error("[Collector] Failed to list events", "error", err, "after", after)
		writeError(c, &collectorError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgListFailed,
		})
		return
	}

	next := after
	if n := len(events); n > 0 {
		next = events[n-1].IngestSeq
	}
	if events == nil {
		events = []storage.StoredEvent{}
	}
	c.JSON(http.StatusOK, ListResponse{Events: events, NextCursor: next})
}

func parseIntParam(c *gin.Context, name string, def int64) (int64, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func invalidQuery(msg string) *collectorError {
	return &collectorError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidRequestError,
		message:    msg,
	}
}

func tooLarge(maxBytes int64) *collectorError {
	slog.Warn("[Collector] Request body exceeds maximum size", "max", maxBytes)
	return &collectorError{
		statusCode: http.StatusRequestEntityTooLarge,
		errorType:  httperr.HttpPayloadTooLargeError,
		message:    msgBodyTooLarge,
		details: map[string]interface{}{
			"max_size_mb": maxBytes / (1024 * 1024),
		},
	}
}

// writeError serializes a collectorError as the JSON HTTP response.
func writeError(c *gin.Context, err *collectorError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
