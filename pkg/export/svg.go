package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ldd69/anvil/pkg/lrtrace"
	"github.com/ldd69/anvil/pkg/runstate"
)

// SVG constants for plot generation.
const (
	// SVGVersion is the SVG specification version used.
	SVGVersion = "1.1"

	// SVGNamespace is the XML namespace for SVG.
	SVGNamespace = "http://www.w3.org/2000/svg"
)

// PlotMetric identifies which metric to plot.
type PlotMetric string

const (
	// MetricAcceptance plots the mean Metropolis-Hastings acceptance.
	MetricAcceptance PlotMetric = "acceptance"

	// MetricTauint plots the integrated autocorrelation time.
	MetricTauint PlotMetric = "tauint"

	// MetricLoss plots the final training loss of each iteration.
	MetricLoss PlotMetric = "loss"

	// MetricLearningRate plots the learning-rate schedule.
	MetricLearningRate PlotMetric = "learning_rate"
)

// ParseMetric maps a user-supplied name to a metric.
func ParseMetric(s string) (PlotMetric, error) {
	switch m := PlotMetric(s); m {
	case MetricAcceptance, MetricTauint, MetricLoss, MetricLearningRate:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q (want acceptance, tauint, loss or learning_rate)", s)
}

// MetricInfo provides display information for each metric type.
type MetricInfo struct {
	Name   string // Display name for legends
	Symbol string // Axis label
	Color  string // Default line color (hex)
}

// GetMetricInfo returns display information for a metric.
func GetMetricInfo(m PlotMetric) MetricInfo {
	switch m {
	case MetricAcceptance:
		return MetricInfo{Name: "Acceptance", Symbol: "acceptance", Color: "#2563eb"}
	case MetricTauint:
		return MetricInfo{Name: "Autocorrelation Time", Symbol: "τ_int", Color: "#dc2626"}
	case MetricLoss:
		return MetricInfo{Name: "Final Loss", Symbol: "loss", Color: "#16a34a"}
	case MetricLearningRate:
		return MetricInfo{Name: "Learning Rate", Symbol: "learning rate", Color: "#9333ea"}
	default:
		return MetricInfo{Name: "Unknown", Symbol: "?", Color: "#6b7280"}
	}
}

// DataPoint represents a single data point for plotting.
type DataPoint struct {
	// X is the position on the x-axis, usually the absolute epoch.
	X float64

	// Value is the metric value (y-axis).
	Value float64

	// Err draws a symmetric error bar when positive.
	Err float64
}

// DataSeries represents a series of data points to plot.
type DataSeries struct {
	// Metric identifies what is being plotted.
	Metric PlotMetric

	// Points contains the data points in order.
	Points []DataPoint

	// Color overrides the metric's default color.
	Color string

	// Label overrides the metric's default name in the legend.
	Label string
}

// SVGConfig specifies options for SVG plot generation.
type SVGConfig struct {
	// Width is the SVG width in pixels.
	// Default: 800
	Width int

	// Height is the SVG height in pixels.
	// Default: 400
	Height int

	// Title is the plot title displayed at the top.
	Title string

	// XAxisLabel is the label for the x-axis.
	// Default: "Epoch"
	XAxisLabel string

	// YAxisLabel is the label for the y-axis.
	// Default: derived from metric
	YAxisLabel string

	// ShowLegend displays a legend when multiple series are present.
	ShowLegend bool

	// ShowGrid displays grid lines.
	ShowGrid bool

	// ShowPoints displays data point markers.
	ShowPoints bool

	// ShowErrorBars draws DataPoint.Err as vertical bars.
	ShowErrorBars bool

	// TargetLine draws a dashed horizontal reference line when non-zero.
	TargetLine float64

	FontFamily      string
	Padding         int
	PointRadius     float64
	LineWidth       float64
	GridColor       string
	AxisColor       string
	BackgroundColor string

	// IncludeMetadata embeds generation metadata in the SVG.
	IncludeMetadata bool

	// ToolVersion is the version string to include in metadata.
	ToolVersion string

	// Fingerprint identifies the run data in metadata.
	Fingerprint string
}

// DefaultSVGConfig returns an SVGConfig with sensible defaults.
func DefaultSVGConfig() *SVGConfig {
	return &SVGConfig{
		Width:           800,
		Height:          400,
		XAxisLabel:      "Epoch",
		ShowLegend:      true,
		ShowGrid:        true,
		ShowPoints:      true,
		ShowErrorBars:   true,
		FontFamily:      "Arial, sans-serif",
		Padding:         60,
		PointRadius:     4,
		LineWidth:       2,
		GridColor:       "#e5e7eb",
		AxisColor:       "#374151",
		BackgroundColor: "#ffffff",
		IncludeMetadata: true,
	}
}

// SVGPlotBuilder constructs SVG plots from data series.
type SVGPlotBuilder struct {
	config *SVGConfig
	series []DataSeries
	now    func() time.Time
}

// NewSVGPlotBuilder creates a new plot builder with the given configuration.
// If config is nil, DefaultSVGConfig() is used.
func NewSVGPlotBuilder(config *SVGConfig) *SVGPlotBuilder {
	if config == nil {
		config = DefaultSVGConfig()
	}
	return &SVGPlotBuilder{
		config: config,
		series: make([]DataSeries, 0),
		now:    time.Now,
	}
}

// AddSeries adds a data series to the plot.
func (spb *SVGPlotBuilder) AddSeries(series DataSeries) *SVGPlotBuilder {
	spb.series = append(spb.series, series)
	return spb
}

// AddPoint adds a single data point to a metric series.
// Creates a new series if one doesn't exist for the metric.
func (spb *SVGPlotBuilder) AddPoint(metric PlotMetric, x, value float64) *SVGPlotBuilder {
	for i := range spb.series {
		if spb.series[i].Metric == metric {
			spb.series[i].Points = append(spb.series[i].Points, DataPoint{X: x, Value: value})
			return spb
		}
	}
	spb.series = append(spb.series, DataSeries{
		Metric: metric,
		Points: []DataPoint{{X: x, Value: value}},
	})
	return spb
}

// Empty reports whether no series has any point.
func (spb *SVGPlotBuilder) Empty() bool {
	for _, s := range spb.series {
		if len(s.Points) > 0 {
			return false
		}
	}
	return true
}

// Build generates the complete SVG document, or "" when there is nothing
// to plot.
func (spb *SVGPlotBuilder) Build() string {
	if spb.Empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(&sb, "<svg version=\"%s\" xmlns=\"%s\" width=\"%d\" height=\"%d\" viewBox=\"0 0 %d %d\">\n",
		SVGVersion, SVGNamespace, spb.config.Width, spb.config.Height, spb.config.Width, spb.config.Height)
	spb.writeDefinitions(&sb)
	if spb.config.IncludeMetadata {
		spb.writeMetadata(&sb)
	}
	spb.writeBody(&sb)
	sb.WriteString("</svg>\n")
	return sb.String()
}

// WriteTo writes the SVG to an io.Writer.
func (spb *SVGPlotBuilder) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, spb.Build())
	return int64(n), err
}

// writeBody writes everything inside the root element except styles and
// metadata, so panels can be nested by Stack.
func (spb *SVGPlotBuilder) writeBody(sb *strings.Builder) {
	width := spb.config.Width
	height := spb.config.Height
	padding := spb.config.Padding
	plotWidth := width - 2*padding
	plotHeight := height - 2*padding

	b := spb.calculateBounds()

	spb.writeBackground(sb, width, height)

	fmt.Fprintf(sb, "  <g transform=\"translate(%d,%d)\">\n", padding, padding)
	if spb.config.ShowGrid {
		spb.writeGrid(sb, plotWidth, plotHeight, b)
	}
	spb.writeAxes(sb, plotWidth, plotHeight, b)
	if spb.config.TargetLine != 0 {
		spb.writeTargetLine(sb, plotWidth, plotHeight, b)
	}
	for _, series := range spb.series {
		spb.writeSeries(sb, series, plotWidth, plotHeight, b)
	}
	sb.WriteString("  </g>\n")

	if spb.config.Title != "" {
		fmt.Fprintf(sb, "  <text x=\"%d\" y=\"24\" class=\"title\" text-anchor=\"middle\">%s</text>\n",
			width/2, escapeXML(spb.config.Title))
	}
	if spb.config.ShowLegend && len(spb.series) > 1 {
		spb.writeLegend(sb, width)
	}
	spb.writeAxisLabels(sb, height, padding, plotWidth, plotHeight)
}

type bounds struct {
	minX, maxX, minY, maxY float64
}

// calculateBounds determines the data range for all series, including
// error bars and the target line.
func (spb *SVGPlotBuilder) calculateBounds() bounds {
	b := bounds{math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)}
	extend := func(x, y float64) {
		b.minX = math.Min(b.minX, x)
		b.maxX = math.Max(b.maxX, x)
		b.minY = math.Min(b.minY, y)
		b.maxY = math.Max(b.maxY, y)
	}
	for _, series := range spb.series {
		for _, p := range series.Points {
			extend(p.X, p.Value)
			if spb.config.ShowErrorBars && p.Err > 0 {
				extend(p.X, p.Value-p.Err)
				extend(p.X, p.Value+p.Err)
			}
		}
	}
	if math.IsInf(b.minX, 1) {
		return bounds{0, 10, 0, 1}
	}
	if spb.config.TargetLine != 0 {
		b.minY = math.Min(b.minY, spb.config.TargetLine)
		b.maxY = math.Max(b.maxY, spb.config.TargetLine)
	}

	// Single point or identical values
	if b.minX == b.maxX {
		b.minX--
		b.maxX++
	}
	if b.minY == b.maxY {
		b.minY--
		b.maxY++
	} else {
		pad := (b.maxY - b.minY) * 0.1
		b.minY -= pad
		b.maxY += pad
	}
	return b
}

func (spb *SVGPlotBuilder) writeDefinitions(sb *strings.Builder) {
	font, color := spb.config.FontFamily, spb.config.AxisColor
	sb.WriteString("  <defs>\n")
	sb.WriteString("    <style type=\"text/css\">\n")
	fmt.Fprintf(sb, "      .axis-label { font-family: %s; font-size: 12px; fill: %s; }\n", font, color)
	fmt.Fprintf(sb, "      .title { font-family: %s; font-size: 16px; font-weight: bold; fill: %s; }\n", font, color)
	fmt.Fprintf(sb, "      .legend-text { font-family: %s; font-size: 11px; fill: %s; }\n", font, color)
	fmt.Fprintf(sb, "      .tick-label { font-family: %s; font-size: 10px; fill: %s; }\n", font, color)
	sb.WriteString("    </style>\n")
	sb.WriteString("  </defs>\n")
}

func (spb *SVGPlotBuilder) writeBackground(sb *strings.Builder, width, height int) {
	fmt.Fprintf(sb, "  <rect width=\"%d\" height=\"%d\" fill=\"%s\"/>\n",
		width, height, spb.config.BackgroundColor)
}

func (spb *SVGPlotBuilder) writeMetadata(sb *strings.Builder) {
	sb.WriteString("  <!-- Generated by anvil-loop -->\n")
	fmt.Fprintf(sb, "  <!-- Generated at: %s -->\n", spb.now().UTC().Format(time.RFC3339))
	if spb.config.ToolVersion != "" {
		fmt.Fprintf(sb, "  <!-- Tool version: %s -->\n", spb.config.ToolVersion)
	}
	if spb.config.Fingerprint != "" {
		fmt.Fprintf(sb, "  <!-- Run fingerprint: %s -->\n", spb.config.Fingerprint)
	}
	fmt.Fprintf(sb, "  <!-- Data series: %d -->\n", len(spb.series))
}

func (spb *SVGPlotBuilder) writeGrid(sb *strings.Builder, plotWidth, plotHeight int, b bounds) {
	sb.WriteString("    <g class=\"grid\">\n")
	for _, tick := range calculateTicks(b.minX, b.maxX, 10) {
		x := scaleValue(tick, b.minX, b.maxX, 0, float64(plotWidth))
		fmt.Fprintf(sb, "      <line x1=\"%.1f\" y1=\"0\" x2=\"%.1f\" y2=\"%d\" stroke=\"%s\" stroke-dasharray=\"3,3\"/>\n",
			x, x, plotHeight, spb.config.GridColor)
	}
	for _, tick := range calculateTicks(b.minY, b.maxY, 8) {
		y := scaleValue(tick, b.minY, b.maxY, float64(plotHeight), 0)
		fmt.Fprintf(sb, "      <line x1=\"0\" y1=\"%.1f\" x2=\"%d\" y2=\"%.1f\" stroke=\"%s\" stroke-dasharray=\"3,3\"/>\n",
			y, plotWidth, y, spb.config.GridColor)
	}
	sb.WriteString("    </g>\n")
}

func (spb *SVGPlotBuilder) writeAxes(sb *strings.Builder, plotWidth, plotHeight int, b bounds) {
	axis := spb.config.AxisColor
	sb.WriteString("    <g class=\"axes\">\n")

	fmt.Fprintf(sb, "      <line x1=\"0\" y1=\"%d\" x2=\"%d\" y2=\"%d\" stroke=\"%s\" stroke-width=\"1\"/>\n",
		plotHeight, plotWidth, plotHeight, axis)
	for _, tick := range calculateTicks(b.minX, b.maxX, 10) {
		x := scaleValue(tick, b.minX, b.maxX, 0, float64(plotWidth))
		fmt.Fprintf(sb, "      <line x1=\"%.1f\" y1=\"%d\" x2=\"%.1f\" y2=\"%d\" stroke=\"%s\"/>\n",
			x, plotHeight, x, plotHeight+5, axis)
		fmt.Fprintf(sb, "      <text x=\"%.1f\" y=\"%d\" class=\"tick-label\" text-anchor=\"middle\">%s</text>\n",
			x, plotHeight+18, formatTick(tick))
	}

	fmt.Fprintf(sb, "      <line x1=\"0\" y1=\"0\" x2=\"0\" y2=\"%d\" stroke=\"%s\" stroke-width=\"1\"/>\n",
		plotHeight, axis)
	for _, tick := range calculateTicks(b.minY, b.maxY, 8) {
		y := scaleValue(tick, b.minY, b.maxY, float64(plotHeight), 0)
		fmt.Fprintf(sb, "      <line x1=\"-5\" y1=\"%.1f\" x2=\"0\" y2=\"%.1f\" stroke=\"%s\"/>\n", y, y, axis)
		fmt.Fprintf(sb, "      <text x=\"-8\" y=\"%.1f\" class=\"tick-label\" text-anchor=\"end\" dominant-baseline=\"middle\">%s</text>\n",
			y, formatTick(tick))
	}

	sb.WriteString("    </g>\n")
}

func (spb *SVGPlotBuilder) writeTargetLine(sb *strings.Builder, plotWidth, plotHeight int, b bounds) {
	y := scaleValue(spb.config.TargetLine, b.minY, b.maxY, float64(plotHeight), 0)
	fmt.Fprintf(sb, "    <line class=\"target\" x1=\"0\" y1=\"%.1f\" x2=\"%d\" y2=\"%.1f\" stroke=\"%s\" stroke-dasharray=\"8,4\"/>\n",
		y, plotWidth, y, spb.config.AxisColor)
	fmt.Fprintf(sb, "    <text x=\"%d\" y=\"%.1f\" class=\"tick-label\" text-anchor=\"end\">target %s</text>\n",
		plotWidth-4, y-4, formatTick(spb.config.TargetLine))
}

func (spb *SVGPlotBuilder) writeSeries(sb *strings.Builder, series DataSeries, plotWidth, plotHeight int, b bounds) {
	if len(series.Points) == 0 {
		return
	}
	color := series.Color
	if color == "" {
		color = GetMetricInfo(series.Metric).Color
	}
	px := func(p DataPoint) float64 { return scaleValue(p.X, b.minX, b.maxX, 0, float64(plotWidth)) }
	py := func(v float64) float64 { return scaleValue(v, b.minY, b.maxY, float64(plotHeight), 0) }

	var path strings.Builder
	for i, p := range series.Points {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		} else {
			path.WriteByte(' ')
		}
		fmt.Fprintf(&path, "%s %.1f %.1f", cmd, px(p), py(p.Value))
	}
	fmt.Fprintf(sb, "    <path d=\"%s\" fill=\"none\" stroke=\"%s\" stroke-width=\"%.1f\" stroke-linecap=\"round\" stroke-linejoin=\"round\"/>\n",
		path.String(), color, spb.config.LineWidth)

	if spb.config.ShowErrorBars {
		for _, p := range series.Points {
			if p.Err <= 0 {
				continue
			}
			x := px(p)
			fmt.Fprintf(sb, "    <line class=\"errorbar\" x1=\"%.1f\" y1=\"%.1f\" x2=\"%.1f\" y2=\"%.1f\" stroke=\"%s\"/>\n",
				x, py(p.Value-p.Err), x, py(p.Value+p.Err), color)
		}
	}

	if spb.config.ShowPoints {
		for _, p := range series.Points {
			fmt.Fprintf(sb, "    <circle cx=\"%.1f\" cy=\"%.1f\" r=\"%.1f\" fill=\"%s\" stroke=\"%s\" stroke-width=\"1\"/>\n",
				px(p), py(p.Value), spb.config.PointRadius, spb.config.BackgroundColor, color)
		}
	}
}

func (spb *SVGPlotBuilder) writeLegend(sb *strings.Builder, width int) {
	sb.WriteString("    <g class=\"legend\">\n")
	startX := width - spb.config.Padding - 20
	startY := spb.config.Padding + 10

	for i, series := range spb.series {
		y := startY + i*18
		info := GetMetricInfo(series.Metric)
		color := series.Color
		if color == "" {
			color = info.Color
		}
		label := series.Label
		if label == "" {
			label = info.Name
		}

		fmt.Fprintf(sb, "      <line x1=\"%d\" y1=\"%d\" x2=\"%d\" y2=\"%d\" stroke=\"%s\" stroke-width=\"2\"/>\n",
			startX-40, y, startX-10, y, color)
		if spb.config.ShowPoints {
			fmt.Fprintf(sb, "      <circle cx=\"%d\" cy=\"%d\" r=\"3\" fill=\"%s\" stroke=\"%s\"/>\n",
				startX-25, y, spb.config.BackgroundColor, color)
		}
		fmt.Fprintf(sb, "      <text x=\"%d\" y=\"%d\" class=\"legend-text\" text-anchor=\"end\" dominant-baseline=\"middle\">%s</text>\n",
			startX-45, y, escapeXML(label))
	}
	sb.WriteString("    </g>\n")
}

func (spb *SVGPlotBuilder) writeAxisLabels(sb *strings.Builder, height, padding, plotWidth, plotHeight int) {
	xLabel := spb.config.XAxisLabel
	if xLabel == "" {
		xLabel = "Epoch"
	}
	fmt.Fprintf(sb, "  <text x=\"%d\" y=\"%d\" class=\"axis-label\" text-anchor=\"middle\">%s</text>\n",
		padding+plotWidth/2, height-15, escapeXML(xLabel))

	yLabel := spb.config.YAxisLabel
	if yLabel == "" && len(spb.series) == 1 {
		yLabel = GetMetricInfo(spb.series[0].Metric).Symbol
	} else if yLabel == "" {
		yLabel = "Value"
	}
	mid := padding + plotHeight/2
	fmt.Fprintf(sb, "  <text x=\"15\" y=\"%d\" class=\"axis-label\" text-anchor=\"middle\" transform=\"rotate(-90, 15, %d)\">%s</text>\n",
		mid, mid, escapeXML(yLabel))
}

// Stack renders builders as vertically stacked panels in one document.
// Panels with no data are skipped; "" is returned if every panel is empty.
func Stack(builders ...*SVGPlotBuilder) string {
	var panels []*SVGPlotBuilder
	width, height := 0, 0
	for _, b := range builders {
		if b.Empty() {
			continue
		}
		panels = append(panels, b)
		if b.config.Width > width {
			width = b.config.Width
		}
		height += b.config.Height
	}
	if len(panels) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(&sb, "<svg version=\"%s\" xmlns=\"%s\" width=\"%d\" height=\"%d\" viewBox=\"0 0 %d %d\">\n",
		SVGVersion, SVGNamespace, width, height, width, height)
	panels[0].writeDefinitions(&sb)
	if panels[0].config.IncludeMetadata {
		panels[0].writeMetadata(&sb)
	}
	y := 0
	for _, p := range panels {
		fmt.Fprintf(&sb, "<svg y=\"%d\" width=\"%d\" height=\"%d\">\n", y, p.config.Width, p.config.Height)
		p.writeBody(&sb)
		sb.WriteString("</svg>\n")
		y += p.config.Height
	}
	sb.WriteString("</svg>\n")
	return sb.String()
}

// scaleValue maps a value from one range to another.
func scaleValue(value, srcMin, srcMax, dstMin, dstMax float64) float64 {
	if srcMax == srcMin {
		return (dstMin + dstMax) / 2
	}
	return dstMin + (value-srcMin)*(dstMax-dstMin)/(srcMax-srcMin)
}

// calculateTicks generates nice tick values for a range.
func calculateTicks(min, max float64, maxTicks int) []float64 {
	if max <= min {
		return []float64{min}
	}

	roughStep := (max - min) / float64(maxTicks)
	magnitude := math.Pow(10, math.Floor(math.Log10(roughStep)))
	residual := roughStep / magnitude

	var step float64
	switch {
	case residual <= 1.5:
		step = magnitude
	case residual <= 3:
		step = 2 * magnitude
	case residual <= 7:
		step = 5 * magnitude
	default:
		step = 10 * magnitude
	}

	ticks := make([]float64, 0)
	start := math.Floor(min/step) * step
	for tick := start; tick <= max+step*0.1; tick += step {
		if tick >= min-step*0.1 {
			ticks = append(ticks, roundToSignificant(tick, 6))
		}
	}
	return ticks
}

// roundToSignificant rounds a number to n significant figures.
func roundToSignificant(value float64, n int) float64 {
	if value == 0 {
		return 0
	}
	magnitude := math.Pow(10, math.Floor(math.Log10(math.Abs(value)))-float64(n-1))
	return math.Round(value/magnitude) * magnitude
}

// formatTick prints a tick value without trailing zeros.
func formatTick(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// escapeXML escapes special characters for XML/SVG content.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

// -----------------------------------------------------------------------------
// Run Plots
// -----------------------------------------------------------------------------

// RecordPlot builds a plot of one metric from the data file against epochs.
// Acceptance carries its standard deviation as error bars and target, when
// non-zero, as a reference line.
func RecordPlot(records []runstate.IterationRecord, metric PlotMetric, target float64, config *SVGConfig) *SVGPlotBuilder {
	cfg := copyConfig(config)
	if cfg.YAxisLabel == "" {
		cfg.YAxisLabel = GetMetricInfo(metric).Symbol
	}
	if metric == MetricAcceptance {
		cfg.TargetLine = target
	}

	series := DataSeries{Metric: metric, Points: make([]DataPoint, 0, len(records))}
	for _, r := range records {
		p := DataPoint{X: float64(r.Epochs)}
		switch metric {
		case MetricAcceptance:
			p.Value, p.Err = r.AcceptanceMean, r.AcceptanceStd
		case MetricTauint:
			p.Value, p.Err = r.TauintMean, r.TauintStd
		case MetricLoss:
			p.Value = r.FinalLoss
		default:
			continue
		}
		series.Points = append(series.Points, p)
	}
	return NewSVGPlotBuilder(cfg).AddSeries(series)
}

// LearningRatePlot builds a plot of the learning-rate schedule against
// absolute epochs.
func LearningRatePlot(rows []lrtrace.Row, config *SVGConfig) *SVGPlotBuilder {
	cfg := copyConfig(config)
	if cfg.YAxisLabel == "" {
		cfg.YAxisLabel = GetMetricInfo(MetricLearningRate).Symbol
	}
	cfg.ShowPoints = false

	series := DataSeries{Metric: MetricLearningRate, Points: make([]DataPoint, len(rows))}
	for i, r := range rows {
		series.Points[i] = DataPoint{X: r.Epoch, Value: r.LearningRate}
	}
	return NewSVGPlotBuilder(cfg).AddSeries(series)
}

// RunReport renders acceptance and the learning-rate schedule as two
// stacked panels sharing the epoch axis.
func RunReport(records []runstate.IterationRecord, rows []lrtrace.Row, target float64, config *SVGConfig) string {
	acc := copyConfig(config)
	if acc.Title == "" {
		acc.Title = "Acceptance"
	}
	lr := copyConfig(config)
	if lr.Title == "" {
		lr.Title = "Learning Rate"
	}
	lr.IncludeMetadata = false
	return Stack(RecordPlot(records, MetricAcceptance, target, acc), LearningRatePlot(rows, lr))
}

// ExportRunReport writes RunReport to w.
func ExportRunReport(w io.Writer, records []runstate.IterationRecord, rows []lrtrace.Row, target float64, config *SVGConfig) error {
	_, err := io.WriteString(w, RunReport(records, rows, target, config))
	return err
}

func copyConfig(config *SVGConfig) *SVGConfig {
	if config == nil {
		return DefaultSVGConfig()
	}
	c := *config
	return &c
}
