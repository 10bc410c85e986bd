package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrWriteConfig     ErrorCode = "write_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrInvalidState   ErrorCode = "invalid_lifecycle_state"

	// Resource errors
	ErrResourceBusy      ErrorCode = "resource_busy"
	ErrResourceNotFound  ErrorCode = "resource_not_found"
	ErrResourceExhausted ErrorCode = "resource_exhausted"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"

	// Collection errors
	ErrSourceCollection  ErrorCode = "source_collection_failed"
	ErrSourceUnavailable ErrorCode = "source_unavailable"
	ErrSourceUnhealthy   ErrorCode = "source_unhealthy"

	// Storage errors
	ErrStorageInit   ErrorCode = "storage_init_failed"
	ErrStorageAccess ErrorCode = "storage_access_failed"
	ErrStorageClose  ErrorCode = "storage_close_failed"

	// Aggregation errors
	ErrAggregation ErrorCode = "aggregation_failed"
	ErrRetention   ErrorCode = "retention_cleanup_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrNotImplemented:    "Operation not implemented",
	ErrUnavailable:       "Service unavailable",
	ErrInvalidConfig:     "Invalid configuration",
	ErrMissingConfig:     "Missing configuration",
	ErrReadConfig:        "Failed to read configuration",
	ErrWriteConfig:       "Failed to write configuration",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrInvalidState:      "Invalid lifecycle state for operation",
	ErrResourceBusy:      "Resource is busy",
	ErrResourceNotFound:  "Resource not found",
	ErrResourceExhausted: "Resource exhausted",
	ErrOperationFailed:   "Operation failed",
	ErrTimeout:           "Operation timed out",
	ErrInvalidOperation:  "Invalid operation",
	ErrSourceCollection:  "Failed to collect metrics from source",
	ErrSourceUnavailable: "Metric source unavailable",
	ErrSourceUnhealthy:   "Metric source unhealthy",
	ErrStorageInit:       "Failed to initialize metric storage",
	ErrStorageAccess:     "Failed to access metric storage",
	ErrStorageClose:      "Failed to close metric storage",
	ErrAggregation:       "Failed to aggregate metrics",
	ErrRetention:         "Failed to clean up expired metrics",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
