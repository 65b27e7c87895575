package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
// The prefix before the underscore names the module that owns the code.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes shared by every module.
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeStorageError       ErrorCode = "COMMON_014"
	ErrCodeAuditError         ErrorCode = "COMMON_015"
)

// Filter module error codes.
const (
	ErrCodeFilterNotFound     ErrorCode = "FLT_001"
	ErrCodeFilterInvalidTree  ErrorCode = "FLT_002"
	ErrCodeFilterUnknownOp    ErrorCode = "FLT_003"
	ErrCodeFilterEmptyGroup   ErrorCode = "FLT_004"
	ErrCodeFilterTypeMismatch ErrorCode = "FLT_005"
	ErrCodeFilterNameTaken    ErrorCode = "FLT_006"
)

// Master-data module error codes.
const (
	ErrCodeDatasetNotFound      ErrorCode = "MDS_001"
	ErrCodeDatasetInvalidSchema ErrorCode = "MDS_002"
	ErrCodeDatasetUnreadable    ErrorCode = "MDS_003"
	ErrCodeDatasetInUse         ErrorCode = "MDS_004"
	ErrCodeDatasetParseFailed   ErrorCode = "MDS_005"
	ErrCodeDatasetUnknownColumn ErrorCode = "MDS_006"
)

// Cohort module error codes.
const (
	ErrCodeCohortNotFound        ErrorCode = "COH_001"
	ErrCodeCohortFilterConflict  ErrorCode = "COH_002"
	ErrCodeCohortMaterialization ErrorCode = "COH_003"
)

// Comparison module error codes.
const (
	ErrCodeComparisonNotFound ErrorCode = "CMP_001"
	ErrCodeComparisonBadCount ErrorCode = "CMP_002"
	ErrCodeComparisonFailed   ErrorCode = "CMP_003"
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeStorageError:       http.StatusServiceUnavailable,
	ErrCodeAuditError:         http.StatusInternalServerError,

	ErrCodeFilterNotFound:     http.StatusNotFound,
	ErrCodeFilterInvalidTree:  http.StatusBadRequest,
	ErrCodeFilterUnknownOp:    http.StatusBadRequest,
	ErrCodeFilterEmptyGroup:   http.StatusBadRequest,
	ErrCodeFilterTypeMismatch: http.StatusBadRequest,
	ErrCodeFilterNameTaken:    http.StatusConflict,

	ErrCodeDatasetNotFound:      http.StatusNotFound,
	ErrCodeDatasetInvalidSchema: http.StatusBadRequest,
	ErrCodeDatasetUnreadable:    http.StatusServiceUnavailable,
	ErrCodeDatasetInUse:         http.StatusConflict,
	ErrCodeDatasetParseFailed:   http.StatusBadRequest,
	ErrCodeDatasetUnknownColumn: http.StatusBadRequest,

	ErrCodeCohortNotFound:        http.StatusNotFound,
	ErrCodeCohortFilterConflict:  http.StatusBadRequest,
	ErrCodeCohortMaterialization: http.StatusInternalServerError,

	ErrCodeComparisonNotFound: http.StatusNotFound,
	ErrCodeComparisonBadCount: http.StatusBadRequest,
	ErrCodeComparisonFailed:   http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeStorageError:       "object storage error",
	ErrCodeAuditError:         "audit publish error",

	ErrCodeFilterNotFound:     "filter not found",
	ErrCodeFilterInvalidTree:  "invalid filter tree",
	ErrCodeFilterUnknownOp:    "unknown filter operator",
	ErrCodeFilterEmptyGroup:   "filter group has no rules",
	ErrCodeFilterTypeMismatch: "operator incompatible with column type",
	ErrCodeFilterNameTaken:    "filter name already in use",

	ErrCodeDatasetNotFound:      "dataset not found",
	ErrCodeDatasetInvalidSchema: "invalid dataset column schema",
	ErrCodeDatasetUnreadable:    "dataset file unreadable",
	ErrCodeDatasetInUse:         "dataset is referenced by cohorts",
	ErrCodeDatasetParseFailed:   "failed to parse dataset file",
	ErrCodeDatasetUnknownColumn: "filter references unknown column",

	ErrCodeCohortNotFound:        "cohort not found",
	ErrCodeCohortFilterConflict:  "exactly one of filter_id or filter must be set",
	ErrCodeCohortMaterialization: "cohort materialization failed",

	ErrCodeComparisonNotFound: "comparison not found",
	ErrCodeComparisonBadCount: "comparison requires between 2 and 5 cohorts",
	ErrCodeComparisonFailed:   "cohort comparison failed",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
