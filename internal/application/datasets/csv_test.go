package datasets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/pkg/errors"
)

const sampleCSV = `patient_id,age,site,notes
1,20,berlin,first visit pending review
2,15,madrid,screening call done and documented
3,30,berlin,enrolled after second consult
`

func TestParseCSV(t *testing.T) {
	parsed, err := parseCSV([]byte(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, []string{"patient_id", "age", "site", "notes"}, parsed.Header)
	assert.Len(t, parsed.Records, 3)
}

func TestParseCSV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty file", ""},
		{"empty column name", "patient_id,,age\n1,2,3\n"},
		{"duplicate column", "patient_id,age,age\n1,2,3\n"},
		{"ragged record", "patient_id,age\n1,20,extra\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCSV([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestInferSchema(t *testing.T) {
	parsed, err := parseCSV([]byte(sampleCSV))
	require.NoError(t, err)

	schema := inferSchema(parsed)
	assert.Equal(t, filter.ColumnNumber, schema["patient_id"])
	assert.Equal(t, filter.ColumnNumber, schema["age"])
	assert.Equal(t, filter.ColumnCategorical, schema["site"])
	assert.Equal(t, filter.ColumnCategorical, schema["notes"])
}

func TestInferSchema_StringAboveDistinctBound(t *testing.T) {
	data := "id,label\n"
	for i := 0; i < categoricalMaxDistinct+5; i++ {
		data += string(rune('a'+i%26)) + string(rune('0'+i%10)) + "x,free text value " + string(rune('a'+i%26)) + string(rune('0'+i%10)) + "\n"
	}
	parsed, err := parseCSV([]byte(data))
	require.NoError(t, err)

	schema := inferSchema(parsed)
	assert.Equal(t, filter.ColumnString, schema["label"])
}

func TestBuildRows(t *testing.T) {
	parsed, err := parseCSV([]byte("patient_id,age,site\n1,20,berlin\n2,,madrid\n"))
	require.NoError(t, err)

	schema := filter.Schema{
		"patient_id": filter.ColumnString,
		"age":        filter.ColumnNumber,
		"site":       filter.ColumnCategorical,
	}
	rows := buildRows(parsed, schema)
	require.Len(t, rows, 2)

	assert.Equal(t, "1", rows[0]["patient_id"])
	assert.Equal(t, 20.0, rows[0]["age"])

	// An empty cell becomes a missing field, not a zero value.
	_, present := rows[1]["age"]
	assert.False(t, present)
}

func TestValidatePatientIDs(t *testing.T) {
	good, err := parseCSV([]byte(sampleCSV))
	require.NoError(t, err)
	assert.NoError(t, validatePatientIDs(good, "patient_id"))

	missing, err := parseCSV([]byte("age\n20\n"))
	require.NoError(t, err)
	err = validatePatientIDs(missing, "patient_id")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetInvalidSchema), "got %v", err)

	dup, err := parseCSV([]byte("patient_id,age\n1,20\n1,30\n"))
	require.NoError(t, err)
	err = validatePatientIDs(dup, "patient_id")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetParseFailed), "got %v", err)

	empty, err := parseCSV([]byte("patient_id,age\n1,20\n,30\n"))
	require.NoError(t, err)
	err = validatePatientIDs(empty, "patient_id")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetParseFailed), "got %v", err)
}

func TestPatientID(t *testing.T) {
	id, ok := PatientID(filter.Row{"patient_id": 7.0}, "patient_id")
	assert.True(t, ok)
	assert.Equal(t, "7", id)

	id, ok = PatientID(filter.Row{"patient_id": "p-7"}, "patient_id")
	assert.True(t, ok)
	assert.Equal(t, "p-7", id)

	_, ok = PatientID(filter.Row{}, "patient_id")
	assert.False(t, ok)
}
