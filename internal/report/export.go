package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
)

// PointJSON is the JSON representation of one commanded-value sample.
type PointJSON struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

// RunJSON is the JSON representation of a full run export.
type RunJSON struct {
	RunID      string      `json:"runId"`
	SequenceID string      `json:"sequenceId"`
	DeviceID   string      `json:"deviceId"`
	Parameter  string      `json:"parameter"`
	FinalState string      `json:"finalState"`
	StartedAt  string      `json:"startedAt"`
	FinishedAt string      `json:"finishedAt,omitempty"`
	Points     []PointJSON `json:"points"`
}

// ExportCSV writes rec's commanded-value-vs-time table to w. Headers:
// seq,timestamp,elapsed_ms,value
func ExportCSV(w io.Writer, rec Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"seq", "timestamp", "elapsed_ms", "value"}); err != nil {
		return err
	}
	for i, p := range rec.Points {
		row := []string{
			strconv.Itoa(i + 1),
			p.Time.Format(time.RFC3339Nano),
			strconv.FormatInt(p.Time.Sub(rec.StartedAt).Milliseconds(), 10),
			strconv.FormatFloat(p.Value, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportJSON writes rec as a single JSON object to w.
func ExportJSON(w io.Writer, rec Record) error {
	out := RunJSON{
		RunID:      rec.RunID,
		SequenceID: rec.SequenceID,
		DeviceID:   rec.DeviceID,
		Parameter:  rec.Parameter,
		FinalState: string(rec.FinalState),
		StartedAt:  rec.StartedAt.Format(time.RFC3339Nano),
		Points:     make([]PointJSON, len(rec.Points)),
	}
	if !rec.FinishedAt.IsZero() {
		out.FinishedAt = rec.FinishedAt.Format(time.RFC3339Nano)
	}
	for i, p := range rec.Points {
		out.Points[i] = PointJSON{Timestamp: p.Time.Format(time.RFC3339Nano), Value: p.Value}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ExportPDF writes a formatted PDF run report to w: header, summary, a
// commanded-value-vs-time chart rendered via gonum/plot, then the points
// table.
func ExportPDF(w io.Writer, rec Record) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdfHeader(pdf, rec)
	pdfSummary(pdf, rec)
	if err := pdfChart(pdf, rec); err != nil {
		return fmt.Errorf("report: rendering chart: %w", err)
	}
	pdfPoints(pdf, rec)
	pdfFooter(pdf)

	if pdf.Err() {
		return fmt.Errorf("report: PDF generation: %w", pdf.Error())
	}
	return pdf.Output(w)
}

func pdfHeader(pdf *fpdf.Fpdf, rec Record) {
	pdf.SetFillColor(33, 37, 41)
	pdf.Rect(15, 15, 180, 20, "F")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(20, 18)
	pdf.CellFormat(170, 14, "SEQUENCE RUN REPORT", "", 0, "L", false, 0, "")

	pdf.Ln(25)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Run ID:", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, rec.RunID, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Sequence:", "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, rec.SequenceID, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Generated:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func pdfSummary(pdf *fpdf.Fpdf, rec Record) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Device:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, rec.DeviceID, "", 1, "L", false, 0, "")

	pdf.CellFormat(30, 6, "Parameter:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, rec.Parameter, "", 1, "L", false, 0, "")

	pdf.CellFormat(30, 6, "State:", "", 0, "L", false, 0, "")
	switch rec.FinalState {
	case "completed":
		pdf.SetFillColor(40, 167, 69)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(25, 6, "[DONE]", "", 0, "C", true, 0, "")
	case "error":
		pdf.SetFillColor(220, 53, 69)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(25, 6, "[ERROR]", "", 0, "C", true, 0, "")
	default:
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(25, 6, string(rec.FinalState), "", 0, "L", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Ln(8)

	pdf.CellFormat(30, 6, "Started:", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, rec.StartedAt.Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")

	pdf.CellFormat(30, 6, "Finished:", "", 0, "L", false, 0, "")
	if !rec.FinishedAt.IsZero() {
		pdf.CellFormat(0, 6, rec.FinishedAt.Format("2006-01-02 15:04:05 UTC"), "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 6, "In progress", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
	}
	pdf.Ln(6)
}

func pdfPoints(pdf *fpdf.Fpdf, rec Record) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Commanded Values", "", 1, "L", false, 0, "")
	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(15, pdf.GetY(), 195, pdf.GetY())
	pdf.Ln(3)

	if len(rec.Points) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, "No points recorded", "", 1, "C", false, 0, "")
		return
	}

	colW := []float64{15, 75, 45, 45}
	headers := []string{"#", "Timestamp", "Elapsed", "Value"}

	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(240, 240, 240)
	for i, h := range headers {
		pdf.CellFormat(colW[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 7)
	for i, p := range rec.Points {
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(248, 249, 250)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		elapsed := p.Time.Sub(rec.StartedAt).Round(time.Millisecond)
		pdf.CellFormat(colW[0], 6, strconv.Itoa(i+1), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(colW[1], 6, p.Time.Format("15:04:05.000"), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(colW[2], 6, elapsed.String(), "1", 0, "R", fill, 0, "")
		pdf.CellFormat(colW[3], 6, strconv.FormatFloat(p.Value, 'f', 4, 64), "1", 0, "R", fill, 0, "")
		pdf.Ln(-1)
	}
}

func pdfFooter(pdf *fpdf.Fpdf) {
	pdf.Ln(10)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.SetTextColor(150, 150, 150)
	pdf.CellFormat(0, 6, "Generated by labctl", "", 0, "C", false, 0, "")
}
