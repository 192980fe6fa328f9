package export

import (
	"fmt"
	"strings"
)

// Format selects the rendering of a Table.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts csv or pdf, case-insensitively. Empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type of rendered output.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Table is tabular export content. Rows shorter than Headers are padded.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

func (t Table) cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// Render renders the table in the given format.
func Render(t Table, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return NewCSVExporter().Render(t)
	case FormatPDF:
		return NewPDFExporter().Render(t)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
