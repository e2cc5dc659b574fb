package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

// Dataset is tabular export content. Rows are keyed by header; missing keys
// render as empty cells.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// utf8BOM makes spreadsheet tools detect UTF-8 in hospital and actor names.
const utf8BOM = "\ufeff"

// CSVExporter renders a Dataset as CSV.
//
// Free-text cells that a spreadsheet would evaluate as a formula (leading
// =, +, -, @, tab or carriage return) are prefixed with a single quote
// unless RawFormulas is set.
type CSVExporter struct {
	BOM         bool
	RawFormulas bool
}

// NewCSVExporter builds a CSV exporter with formula neutralisation on and no
// byte order mark.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	if e.BOM {
		buf.WriteString(utf8BOM)
	}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	for n, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = e.cell(row[header])
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *CSVExporter) cell(value string) string {
	if e.RawFormulas || value == "" {
		return value
	}
	if strings.ContainsRune("=+-@\t\r", rune(value[0])) {
		return "'" + value
	}
	return value
}
