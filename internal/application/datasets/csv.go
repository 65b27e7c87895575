package datasets

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/pkg/errors"
)

// categoricalMaxDistinct bounds how many distinct values a text column may
// hold and still be classified categorical.
const categoricalMaxDistinct = 20

// parsedCSV is the decoded form of an uploaded dataset file.
type parsedCSV struct {
	Header  []string
	Records [][]string
}

// parseCSV decodes the raw upload.  Every record must match the header
// width; ragged files are rejected outright rather than padded.
func parseCSV(data []byte) (*parsedCSV, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatasetParseFailed, "failed to parse CSV")
	}
	if len(rows) < 1 {
		return nil, errors.New(errors.ErrCodeDatasetParseFailed, "CSV file is empty")
	}

	header := rows[0]
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
		if header[i] == "" {
			return nil, errors.Newf(errors.ErrCodeDatasetParseFailed, "column %d has an empty name", i+1)
		}
	}
	seen := make(map[string]struct{}, len(header))
	for _, col := range header {
		if _, dup := seen[col]; dup {
			return nil, errors.Newf(errors.ErrCodeDatasetParseFailed, "duplicate column name %q", col)
		}
		seen[col] = struct{}{}
	}

	return &parsedCSV{
		Header:  header,
		Records: rows[1:],
	}, nil
}

// inferSchema classifies each column: number when every non-empty value
// parses as a float, categorical when the distinct non-empty value count is
// small, string otherwise.
func inferSchema(p *parsedCSV) filter.Schema {
	schema := make(filter.Schema, len(p.Header))
	for i, col := range p.Header {
		numeric := true
		distinct := make(map[string]struct{})
		nonEmpty := 0
		for _, rec := range p.Records {
			v := strings.TrimSpace(rec[i])
			if v == "" {
				continue
			}
			nonEmpty++
			if numeric {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					numeric = false
				}
			}
			if len(distinct) <= categoricalMaxDistinct {
				distinct[v] = struct{}{}
			}
		}
		switch {
		case numeric && nonEmpty > 0:
			schema[col] = filter.ColumnNumber
		case len(distinct) > 0 && len(distinct) <= categoricalMaxDistinct:
			schema[col] = filter.ColumnCategorical
		default:
			schema[col] = filter.ColumnString
		}
	}
	return schema
}

// buildRows converts CSV records to evaluation rows, coercing number columns
// to float64.  Empty cells become missing fields so the evaluator's
// missing-value policy applies.
func buildRows(p *parsedCSV, schema filter.Schema) []filter.Row {
	rows := make([]filter.Row, 0, len(p.Records))
	for _, rec := range p.Records {
		row := make(filter.Row, len(p.Header))
		for i, col := range p.Header {
			v := strings.TrimSpace(rec[i])
			if v == "" {
				continue
			}
			if schema[col] == filter.ColumnNumber {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					row[col] = f
					continue
				}
			}
			row[col] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// InferRows parses a raw CSV file, infers its column schema, and returns
// typed evaluation rows.  It backs offline evaluation in the CLI; the upload
// path goes through Service instead.
func InferRows(data []byte) ([]filter.Row, filter.Schema, error) {
	parsed, err := parseCSV(data)
	if err != nil {
		return nil, nil, err
	}
	schema := inferSchema(parsed)
	return buildRows(parsed, schema), schema, nil
}

// validatePatientIDs checks that the patient ID column is fully populated
// and unique across the dataset.
func validatePatientIDs(p *parsedCSV, patientIDColumn string) error {
	idx := -1
	for i, col := range p.Header {
		if col == patientIDColumn {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.Newf(errors.ErrCodeDatasetInvalidSchema,
			"patient ID column %q not present in CSV header", patientIDColumn)
	}

	seen := make(map[string]struct{}, len(p.Records))
	for n, rec := range p.Records {
		id := strings.TrimSpace(rec[idx])
		if id == "" {
			return errors.Newf(errors.ErrCodeDatasetParseFailed,
				"row %d has an empty patient ID", n+2)
		}
		if _, dup := seen[id]; dup {
			return errors.Newf(errors.ErrCodeDatasetParseFailed,
				"duplicate patient ID %q at row %d", id, n+2)
		}
		seen[id] = struct{}{}
	}
	return nil
}
