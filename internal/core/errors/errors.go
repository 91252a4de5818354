package errors

const (
	HttpInternalError         = "internal_error"
	HttpInvalidJsonError      = "invalid_json"
	HttpInvalidRequestError   = "invalid_request"
	HttpInvalidEnvelopeError  = "invalid_envelope"
	HttpPayloadTooLargeError  = "payload_too_large"
	HttpUnsupportedEncoding   = "unsupported_encoding"
	HttpSchemaNotFoundError   = "schema_not_found"
	HttpSchemaValidationError = "schema_validation_failed"
	HttpUnsupportedMetric     = "unsupported_metric"
)

// ErrorResponse is the error response body for collector and beacon errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
