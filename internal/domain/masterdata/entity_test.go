package masterdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/pkg/errors"
)

func testColumns() filter.Schema {
	return filter.Schema{
		"patient_id": filter.ColumnString,
		"age":        filter.ColumnNumber,
		"site":       filter.ColumnCategorical,
	}
}

func TestNewMasterData(t *testing.T) {
	md, err := NewMasterData("trial-042", "screening export", "datasets/abc.csv",
		"patient_id", "user-1", testColumns(), 120)
	require.NoError(t, err)

	assert.NotEmpty(t, md.ID)
	assert.NotEmpty(t, md.LineageID)
	assert.Equal(t, 1, md.Version)
	assert.Equal(t, int64(120), md.RowCount)
	assert.NoError(t, md.Validate())
}

func TestNewMasterData_Invalid(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*MasterData, error)
		code errors.ErrorCode
	}{
		{
			name: "empty name",
			fn: func() (*MasterData, error) {
				return NewMasterData("", "", "k", "patient_id", "u", testColumns(), 0)
			},
			code: errors.ErrCodeValidation,
		},
		{
			name: "empty schema",
			fn: func() (*MasterData, error) {
				return NewMasterData("d", "", "k", "patient_id", "u", filter.Schema{}, 0)
			},
			code: errors.ErrCodeDatasetInvalidSchema,
		},
		{
			name: "patient column missing from schema",
			fn: func() (*MasterData, error) {
				return NewMasterData("d", "", "k", "subject_id", "u", testColumns(), 0)
			},
			code: errors.ErrCodeDatasetInvalidSchema,
		},
		{
			name: "unknown column type",
			fn: func() (*MasterData, error) {
				cols := filter.Schema{"patient_id": filter.ColumnType("uuid")}
				return NewMasterData("d", "", "k", "patient_id", "u", cols, 0)
			},
			code: errors.ErrCodeDatasetInvalidSchema,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestNewVersion(t *testing.T) {
	v1, err := NewMasterData("trial-042", "", "datasets/v1.csv",
		"patient_id", "user-1", testColumns(), 120)
	require.NoError(t, err)

	cols := testColumns()
	cols["bmi"] = filter.ColumnNumber
	v2, err := v1.NewVersion("datasets/v2.csv", "user-2", cols, 130)
	require.NoError(t, err)

	assert.NotEqual(t, v1.ID, v2.ID)
	assert.Equal(t, v1.LineageID, v2.LineageID)
	assert.Equal(t, v1.Name, v2.Name)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "datasets/v2.csv", v2.ObjectKey)
	assert.Contains(t, v2.Columns, "bmi")

	// The schema of the earlier version is untouched.
	assert.NotContains(t, v1.Columns, "bmi")
}
