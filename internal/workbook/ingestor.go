// Package workbook parses uploaded spreadsheet payloads into ordered rows
// for rule evaluation. Parsing is pure: persistence and notification are the
// caller's responsibility.
package workbook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ignite/sheetguard/internal/config"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrPayloadTooLarge is returned when the payload exceeds the configured limit.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	// ErrEmptyWorkbook is returned when no header row can be detected.
	ErrEmptyWorkbook = errors.New("no rows found in file")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Row is one data row keyed by header name. Values are loosely typed
// scalars: string, float64, bool or nil for an empty cell.
type Row struct {
	Index  int // 1-based position within the data rows, source order
	Values map[string]any
}

// Table is the ordered result of parsing one submission.
type Table struct {
	Columns []string
	Rows    []Row
}

// Strings returns the column values of the named column, in row order,
// skipping empty cells. Used for recipient lookup.
func (t *Table) Strings(column string) []string {
	var out []string
	for _, row := range t.Rows {
		v, ok := row.Values[column]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Ingestor parses raw workbook bytes under configured constraints.
type Ingestor struct {
	maxBytes   int64
	extensions map[string]bool
}

// New creates an Ingestor from the ingest configuration.
func New(cfg config.IngestConfig) *Ingestor {
	exts := make(map[string]bool, len(cfg.SupportedTypes))
	for _, t := range cfg.SupportedTypes {
		exts["."+strings.ToLower(strings.TrimPrefix(t, "."))] = true
	}
	return &Ingestor{
		maxBytes:   cfg.MaxBytes(),
		extensions: exts,
	}
}

// Supported reports whether the declared filename carries a supported extension.
func (i *Ingestor) Supported(filename string) bool {
	return i.extensions[strings.ToLower(filepath.Ext(filename))]
}

// Ingest parses payload into an ordered row table. The first non-empty row
// is the header; fully empty rows are dropped; row order matches the source.
func (i *Ingestor) Ingest(payload []byte, filename string) (*Table, error) {
	if i.maxBytes > 0 && int64(len(payload)) > i.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, len(payload), i.maxBytes)
	}
	if !i.Supported(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		records, err = readExcel(payload)
	case ".csv", ".tsv":
		records, err = readCSV(payload, filename)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	return buildTable(records)
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func readCSV(payload []byte, filename string) ([][]string, error) {
	payload = bytes.TrimPrefix(payload, byteOrderMark)

	reader := csv.NewReader(bytes.NewReader(payload))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if strings.HasSuffix(strings.ToLower(filename), ".tsv") {
		reader.Comma = '\t'
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func buildTable(records [][]string) (*Table, error) {
	var header []string
	var dataRows [][]string

	for _, record := range records {
		if emptyRecord(record) {
			continue
		}
		if header == nil {
			header = record
			continue
		}
		dataRows = append(dataRows, record)
	}
	if header == nil {
		return nil, ErrEmptyWorkbook
	}

	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(name)
	}

	table := &Table{Columns: columns}
	for _, record := range dataRows {
		values := make(map[string]any, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			var cell string
			if i < len(record) {
				cell = record[i]
			}
			values[col] = coerceScalar(cell)
		}
		table.Rows = append(table.Rows, Row{Index: len(table.Rows) + 1, Values: values})
	}
	return table, nil
}

func emptyRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// coerceScalar maps a raw cell into a loosely typed scalar. Empty and
// null-like cells become nil so "value absent" is distinguishable from "".
func coerceScalar(cell string) any {
	s := strings.TrimSpace(cell)
	switch s {
	case "", "nan", "NaN", "None", "NULL", "null":
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
