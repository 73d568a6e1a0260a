package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// renderChart draws rec's commanded-value-vs-time series as a PNG line
// chart, time axis in seconds since the run started.
func renderChart(rec Record) ([]byte, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s / %s", rec.DeviceID, rec.Parameter)
	p.X.Label.Text = "Elapsed (s)"
	p.Y.Label.Text = "Commanded value"

	pts := make(plotter.XYs, len(rec.Points))
	for i, pt := range rec.Points {
		pts[i].X = pt.Time.Sub(rec.StartedAt).Seconds()
		pts[i].Y = pt.Value
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("report: building chart line: %w", err)
	}
	line.LineStyle.Width = vg.Points(1.5)
	p.Add(line)
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(6*vg.Inch, 3.2*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("report: encoding chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("report: writing chart: %w", err)
	}
	return buf.Bytes(), nil
}

// pdfChart renders rec's chart and embeds it below the summary section.
// A run with fewer than two points has nothing to plot a line through,
// so the chart is skipped rather than embedding a blank image.
func pdfChart(pdf *fpdf.Fpdf, rec Record) error {
	if len(rec.Points) < 2 {
		return nil
	}
	png, err := renderChart(rec)
	if err != nil {
		return err
	}

	imgName := "chart-" + rec.RunID
	pdf.RegisterImageOptionsReader(imgName, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
	y := pdf.GetY()
	pdf.ImageOptions(imgName, 15, y, 180, 0, true, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	pdf.Ln(4)
	return nil
}
