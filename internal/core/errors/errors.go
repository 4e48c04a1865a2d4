package errors

const (
	HttpInternalError     = "internal_error"
	HttpInvalidParamError = "invalid_parameter"
	HttpNotFoundError     = "not_found"
)

// ErrorResponse is the error response body of the query API.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
