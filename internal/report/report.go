// Package report renders extracted seed series as an interactive HTML chart
// or a static PNG plot.
package report

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/cortical-data/seedsig/internal/sphere"
)

// seedLabel names a series by its seed's physical coordinates.
func seedLabel(i int, s sphere.Seed) string {
	return fmt.Sprintf("seed %d (%.1f, %.1f, %.1f)", i, s[0], s[1], s[2])
}

// timeAxis returns one x value per timepoint. With trSeconds > 0 the axis
// is in seconds, otherwise in frame indices.
func timeAxis(nt int, trSeconds float64) []float64 {
	xs := make([]float64, nt)
	for t := range xs {
		if trSeconds > 0 {
			xs[t] = float64(t) * trSeconds
		} else {
			xs[t] = float64(t)
		}
	}
	return xs
}

// WriteHTMLChart renders the (T x N) signal matrix as a go-echarts line
// chart, one series per seed, to an HTML file at path.
func WriteHTMLChart(path string, seeds []sphere.Seed, signals *mat.Dense, trSeconds float64) error {
	nt, n := signals.Dims()
	if len(seeds) != n {
		return fmt.Errorf("got %d seeds for a %d-column signal matrix", len(seeds), n)
	}

	xs := timeAxis(nt, trSeconds)
	xLabel := "Frame"
	if trSeconds > 0 {
		xLabel = "Time (s)"
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Seed Time Series", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Seed Time Series", Subtitle: fmt.Sprintf("seeds=%d timepoints=%d", n, nt)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: xLabel, NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Signal", NameLocation: "middle", NameGap: 40}),
	)

	axisLabels := make([]string, nt)
	for t, x := range xs {
		axisLabels[t] = fmt.Sprintf("%.4g", x)
	}
	line.SetXAxis(axisLabels)

	for j := 0; j < n; j++ {
		data := make([]opts.LineData, nt)
		for t := 0; t < nt; t++ {
			data[t] = opts.LineData{Value: signals.At(t, j)}
		}
		line.AddSeries(seedLabel(j, seeds[j]), data)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}

// WritePNGPlot renders the (T x N) signal matrix as a static line plot,
// one line per seed, to a PNG file at path.
func WritePNGPlot(path string, seeds []sphere.Seed, signals *mat.Dense, trSeconds float64) error {
	nt, n := signals.Dims()
	if len(seeds) != n {
		return fmt.Errorf("got %d seeds for a %d-column signal matrix", len(seeds), n)
	}

	xs := timeAxis(nt, trSeconds)

	p := plot.New()
	p.Title.Text = "Seed Time Series"
	if trSeconds > 0 {
		p.X.Label.Text = "Time (s)"
	} else {
		p.X.Label.Text = "Frame"
	}
	p.Y.Label.Text = "Signal"

	colors := seriesColors(n)
	for j := 0; j < n; j++ {
		pts := make(plotter.XYs, nt)
		for t := 0; t < nt; t++ {
			pts[t] = plotter.XY{X: xs[t], Y: signals.At(t, j)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("build line for seed %d: %w", j, err)
		}
		line.Color = colors[j]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(seedLabel(j, seeds[j]), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false

	if err := p.Save(12*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// seriesColors spreads n distinguishable colors over the hue circle.
func seriesColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n) * 360.0
		colors[i] = hsvToRGB(hue, 0.8, 0.9)
	}
	return colors
}

func hsvToRGB(h, s, v float64) color.Color {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60.0, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	return color.RGBA{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
		A: 255,
	}
}
