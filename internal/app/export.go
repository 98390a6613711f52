package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/rabdya767/Stock-ATH-Alert/internal/analysis"
)

// ExportOptions hold parameters for exporting an instrument's drawdown history.
type ExportOptions struct {
	Instrument string
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// Export renders an instrument's price, running ATH and drawdown as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	inst, ok := a.Config.BuildCatalog().Lookup(opts.Instrument)
	if !ok {
		return fmt.Errorf("instrument %q is not in the catalog", opts.Instrument)
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	series, err := a.newFetcher().FetchHistory(ctx, inst.Key)
	if err != nil {
		return err
	}

	rows := analysis.Drawdown(series)
	downsampled := downsample(rows, opts.MaxPoints)
	a.Logger.Info().Str("instrument", inst.Name).
		Int("total", len(rows)).
		Int("exported", len(downsampled)).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeDrawdownCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDrawdownPNG(opts.PNGPath, inst.Name, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsample(rows []analysis.DrawdownPoint, max int) []analysis.DrawdownPoint {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]analysis.DrawdownPoint, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeDrawdownCSV(path string, rows []analysis.DrawdownPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"date", "price", "running_ath", "drawdown_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Date.Format("2006-01-02"),
			row.Price.String(),
			row.RunningATH.String(),
			row.DrawdownPct.StringFixed(2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeDrawdownPNG(path, name string, rows []analysis.DrawdownPoint) error {
	if len(rows) < 2 {
		return errors.New("need at least two data points to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	price := make([]float64, len(rows))
	ath := make([]float64, len(rows))
	drawdown := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.Date
		price[i] = row.Price.InexactFloat64()
		ath[i] = row.RunningATH.InexactFloat64()
		drawdown[i] = -row.DrawdownPct.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Drawdown (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "Running ATH",
				XValues: x,
				YValues: ath,
			},
			chart.TimeSeries{
				Name:    "Drawdown %",
				XValues: x,
				YValues: drawdown,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
