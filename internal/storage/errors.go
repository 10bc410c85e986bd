package storage

import "github.com/kmoon0001/spec-kit-analyzer-sub006/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("storage_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed  = errors.ErrorCode("storage_schema_init_failed")
	ErrTransactionFailed = errors.ErrorCode("storage_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrStorageAccess
	ErrStorageInit   = errors.ErrStorageInit
	ErrStorageClose  = errors.ErrStorageClose

	// Retention Errors
	ErrRetention = errors.ErrRetention
)
