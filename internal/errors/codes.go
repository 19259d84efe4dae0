// Package errors provides structured error handling for jeeves-watcher.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, sidecar, extraction)
//   - 3XX: Network errors (vector store, embedding backends)
//   - 4XX: Validation errors (rules, schemas, transforms)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigExpand   = "ERR_103_CONFIG_EXPAND"

	// IO errors (200-299)
	ErrCodeFileNotFound  = "ERR_201_FILE_NOT_FOUND"
	ErrCodeExtractFailed = "ERR_202_EXTRACT_FAILED"
	ErrCodeSidecarWrite  = "ERR_203_SIDECAR_WRITE"
	ErrCodeLockHeld      = "ERR_204_LOCK_HELD"

	// Network errors (300-399)
	ErrCodeVectorStore  = "ERR_301_VECTOR_STORE"
	ErrCodeEmbedFailed  = "ERR_302_EMBED_FAILED"
	ErrCodeRetryExhaust = "ERR_303_RETRY_EXHAUSTED"

	// Validation errors (400-499)
	ErrCodeRuleSchema    = "ERR_401_RULE_SCHEMA"
	ErrCodeTransform     = "ERR_402_TRANSFORM"
	ErrCodeDimensions    = "ERR_403_DIMENSION_MISMATCH"
	ErrCodeInvalidInput  = "ERR_404_INVALID_INPUT"
	ErrCodeReservedKey   = "ERR_405_RESERVED_KEY"
	ErrCodeUnknownScope  = "ERR_406_UNKNOWN_SCOPE"
	ErrCodeWatcherFailed = "ERR_407_WATCHER_FAILED"

	// Internal errors (500-599)
	ErrCodeInternal = "ERR_501_INTERNAL"
)

// categoryFromCode derives the category from the numeric range in the code.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the severity from the code.
// Config errors abort startup; everything else fails a single operation.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryValidation:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may
// be retried. Only transport-level failures qualify.
func isRetryableCode(code string) bool {
	return categoryFromCode(code) == CategoryNetwork && code != ErrCodeRetryExhaust
}
