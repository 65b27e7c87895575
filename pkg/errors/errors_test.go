package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	e := New(ErrCodeCohortNotFound, "cohort not found")
	assert.Equal(t, "[COH_001] cohort not found", e.Error())

	withDetail := e.WithDetail("id=abc")
	assert.Equal(t, "[COH_001] cohort not found: id=abc", withDetail.Error())
	// Original is untouched.
	assert.Empty(t, e.Detail)
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	e := Wrap(cause, ErrCodeDatabaseError, "failed to load cohort")
	assert.Equal(t, ErrCodeDatabaseError, e.Code)
	assert.ErrorIs(t, e, cause)

	assert.Nil(t, Wrap(nil, ErrCodeDatabaseError, "no-op"))
}

func TestWrap_PreservesDomainCode(t *testing.T) {
	inner := New(ErrCodeFilterEmptyGroup, "filter group has no rules")
	outer := Wrap(inner, ErrCodeInternal, "create cohort failed")
	assert.Equal(t, ErrCodeFilterEmptyGroup, outer.Code)
	assert.True(t, IsCode(outer, ErrCodeFilterEmptyGroup))
}

func TestCategoryHelpers(t *testing.T) {
	assert.True(t, IsNotFound(New(ErrCodeDatasetNotFound, "gone")))
	assert.True(t, IsValidation(New(ErrCodeCohortFilterConflict, "both set")))
	assert.True(t, IsConflict(New(ErrCodeDatasetInUse, "referenced")))
	assert.True(t, IsUnavailable(New(ErrCodeDatasetUnreadable, "storage down")))
	assert.False(t, IsNotFound(New(ErrCodeValidation, "bad input")))
	assert.False(t, IsNotFound(fmt.Errorf("plain error")))
}

func TestHTTPStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatusForCode(ErrCodeCohortNotFound))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusForCode(ErrCodeComparisonBadCount))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusForCode(ErrCodeDatasetUnreadable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusForCode(ErrorCode("NOPE_999")))
}

func TestModuleForCode(t *testing.T) {
	assert.Equal(t, "FLT", ModuleForCode(ErrCodeFilterNotFound))
	assert.Equal(t, "COMMON", ModuleForCode(ErrCodeInternal))
}
