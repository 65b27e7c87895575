package filter

import (
	"github.com/clinforge/cohortd/pkg/errors"
)

// ColumnType classifies a master-data column for comparison semantics.
type ColumnType string

const (
	// ColumnString is free-form text, compared lexically.
	ColumnString ColumnType = "string"
	// ColumnNumber is numeric, compared after float64 coercion.
	ColumnNumber ColumnType = "number"
	// ColumnCategorical is an enumerated label, compared as an exact string.
	ColumnCategorical ColumnType = "categorical"
)

// IsValid reports whether the column type is one of the supported kinds.
func (t ColumnType) IsValid() bool {
	switch t {
	case ColumnString, ColumnNumber, ColumnCategorical:
		return true
	}
	return false
}

// Schema maps column names to their declared types for one master dataset.
type Schema map[string]ColumnType

// Validate checks that the schema is non-empty and every type is known.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return errors.New(errors.ErrCodeDatasetInvalidSchema, "column schema must not be empty")
	}
	for col, typ := range s {
		if col == "" {
			return errors.New(errors.ErrCodeDatasetInvalidSchema, "column name must not be empty")
		}
		if !typ.IsValid() {
			return errors.Newf(errors.ErrCodeDatasetInvalidSchema,
				"column %q has unknown type %q", col, typ)
		}
	}
	return nil
}
