// Package dataset converts uploaded tabular data into the ordered row
// sequence consumed by the pipeline. CSV and XLSX inputs are supported; the
// first row is always the header row.
package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/docmint/docmint/pkg/docgen/core/model"
	"github.com/docmint/docmint/pkg/docgen/support/exception"
	"github.com/docmint/docmint/pkg/docgen/template"
)

const moduleName = "dataset"

// Format identifies the wire format of an uploaded data set.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatRows Format = "rows" // already-parsed rows handed over in-process
)

// Parse converts raw data-set bytes into ordered rows keyed by normalized
// header names. Structural problems (no header, zero data rows, inconsistent
// column counts) are validation errors that fail the batch before any
// rendering.
func Parse(format Format, data []byte) ([]model.DataRow, error) {
	switch format {
	case FormatCSV:
		return parseCSV(data)
	case FormatXLSX:
		return parseXLSX(data)
	case FormatRows:
		return parseRows(data)
	default:
		return nil, exception.New(moduleName, "unsupported data set format: "+string(format), exception.ErrValidation, false)
	}
}

func parseCSV(data []byte) ([]model.DataRow, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // column-count consistency is checked explicitly below

	header, err := r.Read()
	if err == io.EOF {
		return nil, exception.New(moduleName, "data set is empty", exception.ErrValidation, false)
	}
	if err != nil {
		return nil, exception.New(moduleName, "failed to read data set header", errors.Join(exception.ErrValidation, err), false)
	}
	fields := normalizeHeader(header)

	var rows []model.DataRow
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, exception.New(moduleName, "malformed data set row", errors.Join(exception.ErrValidation, err), false)
		}
		if len(record) != len(fields) {
			return nil, exception.Newf(moduleName, "row %d has %d columns, header has %d", len(rows)+1, len(record), len(fields))
		}
		rows = append(rows, rowFromRecord(fields, record))
	}
	if len(rows) == 0 {
		return nil, exception.New(moduleName, "data set has no data rows", exception.ErrValidation, false)
	}
	return rows, nil
}

func parseXLSX(data []byte) ([]model.DataRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, exception.New(moduleName, "failed to open workbook", errors.Join(exception.ErrValidation, err), false)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, exception.New(moduleName, "workbook has no sheets", exception.ErrValidation, false)
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, exception.New(moduleName, "failed to read worksheet rows", errors.Join(exception.ErrValidation, err), false)
	}
	if len(records) == 0 {
		return nil, exception.New(moduleName, "data set is empty", exception.ErrValidation, false)
	}

	fields := normalizeHeader(records[0])
	var rows []model.DataRow
	for i, record := range records[1:] {
		// excelize truncates trailing empty cells; pad rather than reject.
		if len(record) > len(fields) {
			return nil, exception.Newf(moduleName, "row %d has %d columns, header has %d", i+1, len(record), len(fields))
		}
		padded := make([]string, len(fields))
		copy(padded, record)
		rows = append(rows, rowFromRecord(fields, padded))
	}
	if len(rows) == 0 {
		return nil, exception.New(moduleName, "data set has no data rows", exception.ErrValidation, false)
	}
	return rows, nil
}

// parseRows reads rows that were already parsed at submission time and staged
// as a JSON array. Keys are normalized the same way header columns are.
func parseRows(data []byte) ([]model.DataRow, error) {
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, exception.New(moduleName, "failed to decode staged rows", errors.Join(exception.ErrValidation, err), false)
	}
	if len(raw) == 0 {
		return nil, exception.New(moduleName, "data set has no data rows", exception.ErrValidation, false)
	}
	rows := make([]model.DataRow, 0, len(raw))
	for _, m := range raw {
		row := make(model.DataRow, len(m))
		for k, v := range m {
			key := template.Normalize(k)
			if key == "" {
				continue
			}
			row[key] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EncodeRows serializes already-parsed rows for staging in artifact storage.
func EncodeRows(rows []model.DataRow) ([]byte, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, exception.New(moduleName, "failed to encode rows", err, false)
	}
	return data, nil
}

// normalizeHeader canonicalizes column names with the same rules the template
// extractor applies to placeholder names.
func normalizeHeader(header []string) []string {
	fields := make([]string, len(header))
	for i, h := range header {
		fields[i] = template.Normalize(h)
	}
	return fields
}

func rowFromRecord(fields, record []string) model.DataRow {
	row := make(model.DataRow, len(fields))
	for i, field := range fields {
		if field == "" {
			continue // unnamed column, nothing to bind it to
		}
		value := strings.TrimSpace(record[i])
		row[field] = value
	}
	return row
}
