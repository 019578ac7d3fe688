package export

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"twin-rules/internal/observability/metrics"
	ruleapp "twin-rules/internal/rules/application"
	rules "twin-rules/internal/rules/domain"
)

// Supported report formats.
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// ErrUnknownFormat is returned for unsupported report formats.
var ErrUnknownFormat = errors.New("report export: unknown format")

// Build renders a simulation report in the given format.
func Build(format string, res *ruleapp.SimulationResult) ([]byte, error) {
	start := time.Now()
	var (
		out []byte
		err error
	)
	switch strings.ToLower(format) {
	case FormatPDF:
		out, err = BuildSimulationPDF(res)
	case FormatXLSX:
		out, err = BuildSimulationXLSX(res)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveExport(strings.ToLower(format), result, time.Since(start))
	return out, err
}

// BuildSimulationPDF renders a summary PDF with the occurrence table.
func BuildSimulationPDF(res *ruleapp.SimulationResult) ([]byte, error) {
	if res == nil {
		return nil, errors.New("report export: nil result")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Rule Simulation")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	for _, line := range summaryLines(res) {
		pdf.Cell(0, 6, fmt.Sprintf("%s: %s", line[0], line[1]))
		pdf.Ln(5)
	}
	if res.Insight != nil && res.Insight.Text != "" {
		pdf.Ln(3)
		pdf.MultiCell(0, 5, res.Insight.Text, "", "L", false)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Started", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Ended", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Faulted", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Text", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, o := range occurrences(res) {
		pdf.CellFormat(50, 6, o.Started.UTC().Format(time.RFC3339), "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, formatEnd(o.Ended), "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, yesNo(o.IsFaulted), "1", 0, "C", false, 0, "")
		pdf.CellFormat(60, 6, o.Text, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSimulationXLSX renders the summary, occurrences and every evaluated series.
func BuildSimulationXLSX(res *ruleapp.SimulationResult) ([]byte, error) {
	if res == nil {
		return nil, errors.New("report export: nil result")
	}
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	occurrenceSheet := "occurrences"
	outputSheet := "output"
	seriesSheet := "series"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	for _, name := range []string{occurrenceSheet, outputSheet, seriesSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Rule Simulation")
	for i, line := range summaryLines(res) {
		row := i + 3
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), line[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), line[1])
	}

	_ = f.SetSheetRow(occurrenceSheet, "A1", &[]any{"Started", "Ended", "Faulted", "Valid", "Text"})
	for i, o := range occurrences(res) {
		_ = f.SetSheetRow(occurrenceSheet, fmt.Sprintf("A%d", i+2), &[]any{
			o.Started.UTC().Format(time.RFC3339), formatEnd(o.Ended), o.IsFaulted, o.IsValid, o.Text,
		})
	}

	_ = f.SetSheetRow(outputSheet, "A1", &[]any{"Start", "End", "Faulted", "Valid"})
	for i, p := range res.OutputValues.Points {
		_ = f.SetSheetRow(outputSheet, fmt.Sprintf("A%d", i+2), &[]any{
			p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339), p.Faulted, p.Valid,
		})
	}

	if err := writeSeries(f, seriesSheet, res.TimedValues); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeSeries lays the series out as columns keyed by timestamp.
func writeSeries(f *excelize.File, sheet string, series map[string]*rules.TimeSeries) error {
	names := make([]string, 0, len(series))
	stamps := make(map[time.Time]struct{})
	for name, s := range series {
		if s == nil {
			continue
		}
		names = append(names, name)
		for _, p := range s.Points {
			stamps[p.Timestamp] = struct{}{}
		}
	}
	sort.Strings(names)
	times := make([]time.Time, 0, len(stamps))
	for ts := range stamps {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	rowOf := make(map[time.Time]int, len(times))
	for i, ts := range times {
		rowOf[ts] = i + 2
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", i+2), ts.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}

	if err := f.SetCellValue(sheet, "A1", "Timestamp"); err != nil {
		return err
	}
	for col, name := range names {
		colName, err := excelize.ColumnNumberToName(col + 2)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, colName+"1", name); err != nil {
			return err
		}
		for _, p := range series[name].Points {
			if !p.Valid {
				continue
			}
			if err := f.SetCellValue(sheet, fmt.Sprintf("%s%d", colName, rowOf[p.Timestamp]), p.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

func summaryLines(res *ruleapp.SimulationResult) [][2]string {
	lines := [][2]string{
		{"Rule", res.Instance.RuleID},
		{"Twin", res.Instance.TwinID},
		{"Status", string(res.Instance.Status)},
		{"Start", formatTime(res.Start)},
		{"End", formatTime(res.End)},
		{"Samples", fmt.Sprintf("%d", res.Samples)},
		{"Evaluated", fmt.Sprintf("%d", res.Stats.Evaluated)},
		{"Skipped", fmt.Sprintf("%d", res.Stats.Skipped)},
		{"Insights Generated", fmt.Sprintf("%d", res.Metadata.InsightsGenerated)},
	}
	if res.Insight != nil {
		lines = append(lines,
			[2]string{"Faulted Count", fmt.Sprintf("%d", res.Insight.FaultedCount)},
			[2]string{"Faulty", yesNo(res.Insight.IsFaulty)},
		)
		for _, name := range sortedKeys(res.Insight.ImpactScores) {
			lines = append(lines, [2]string{"Impact " + name, fmt.Sprintf("%.2f", res.Insight.ImpactScores[name])})
		}
	}
	for _, failure := range res.Instance.Failures {
		lines = append(lines, [2]string{"Failure", failure})
	}
	return lines
}

func occurrences(res *ruleapp.SimulationResult) []rules.Occurrence {
	if res.Insight == nil {
		return nil
	}
	return res.Insight.Occurrences
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatEnd(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.UTC().Format(time.RFC3339)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
