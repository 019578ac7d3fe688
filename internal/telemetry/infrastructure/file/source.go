package file

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	telemetry "twin-rules/internal/telemetry/domain"
)

// ReadCSV parses CSV rows into a restartable source.
func ReadCSV(r io.Reader, loc *time.Location) (*telemetry.SliceSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("telemetry file: %w", err)
	}
	samples, err := parseTable(rows, loc)
	if err != nil {
		return nil, err
	}
	return telemetry.NewSliceSource(samples), nil
}

// ReadXLSX parses the first sheet of a workbook, or the named sheet, into a
// restartable source.
func ReadXLSX(r io.Reader, sheet string, loc *time.Location) (*telemetry.SliceSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("telemetry file: %w", err)
	}
	defer f.Close()
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyTable
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("telemetry file: %w", err)
	}
	samples, err := parseTable(rows, loc)
	if err != nil {
		return nil, err
	}
	return telemetry.NewSliceSource(samples), nil
}

// Open reads a .csv or .xlsx file by extension.
func Open(path string, loc *time.Location) (*telemetry.SliceSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(f, "", loc)
	case ".csv", "":
		return ReadCSV(f, loc)
	default:
		return nil, fmt.Errorf("telemetry file: unsupported extension %q", filepath.Ext(path))
	}
}
