// Package validate checks data rows against a template's required-field set,
// classifying each row as usable or defective with a reason.
package validate

import (
	"fmt"
	"strings"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/template"
)

// FieldPresent is the named presence policy: a field counts as present when
// the key exists and the value is non-nil. The numeric value 0 and the empty
// string are treated as present, matching common spreadsheet semantics.
func FieldPresent(row model.DataRow, field string) bool {
	v, ok := row[field]
	if !ok {
		// Tolerate un-normalized keys from in-process submissions.
		v, ok = row[template.Normalize(field)]
	}
	return ok && v != nil
}

// InvalidRow describes one row rejected during validation.
type InvalidRow struct {
	// RowNumber is 1-based, counted over the source data set.
	RowNumber int
	// Data is the rejected row's field-value mapping.
	Data model.DataRow
	// MissingFields lists the required fields absent from the row.
	MissingFields []string
}

// Reason renders the human-readable rejection reason recorded on the row
// outcome, e.g. "missing fields: email, name".
func (r InvalidRow) Reason() string {
	return fmt.Sprintf("missing fields: %s", strings.Join(r.MissingFields, ", "))
}

// ValidRow pairs a usable row with its stable 1-based source row number.
type ValidRow struct {
	RowNumber int
	Data      model.DataRow
}

// Validate partitions rows into usable and defective sets. Row numbering is
// 1-based over the input order and is preserved in both partitions.
func Validate(rows []model.DataRow, requiredFields []string) ([]ValidRow, []InvalidRow) {
	var valid []ValidRow
	var invalid []InvalidRow
	for i, row := range rows {
		var missing []string
		for _, field := range requiredFields {
			if !FieldPresent(row, field) {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			invalid = append(invalid, InvalidRow{RowNumber: i + 1, Data: row, MissingFields: missing})
			continue
		}
		valid = append(valid, ValidRow{RowNumber: i + 1, Data: row})
	}
	return valid, invalid
}
