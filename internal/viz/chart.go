package viz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"go.uber.org/zap"

	"chainbrief/internal/report"
)

// ChartFiles renders chart kinds as PNG files under a run directory. Tabular
// kinds return no file; the assembler draws those inline.
type ChartFiles struct {
	dir    string
	logger *zap.Logger
}

// NewChartFiles builds a renderer writing into dir.
func NewChartFiles(dir string, logger *zap.Logger) *ChartFiles {
	return &ChartFiles{dir: dir, logger: logger}
}

// Render draws one visualization and returns the written file path.
func (r *ChartFiles) Render(ctx context.Context, kind string, fields map[string]any, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch kind {
	case report.KindLineChart:
		return r.renderLine(fields, title)
	case report.KindBarChart:
		return r.renderBar(fields, title)
	case report.KindPieChart:
		return r.renderPie(fields, title)
	case report.KindTable, report.KindTimeline:
		// Drawn inline from the artifact's field list at assembly time.
		return "", nil
	default:
		return "", fmt.Errorf("unknown visualization kind %q", kind)
	}
}

func (r *ChartFiles) renderLine(fields map[string]any, title string) (string, error) {
	var series []chart.Series
	for _, name := range sortedKeys(fields) {
		points, ok := CoerceSeries(fields[name])
		if !ok || len(points) < 2 {
			continue
		}
		xs := make([]time.Time, 0, len(points))
		ys := make([]float64, 0, len(points))
		for _, p := range points {
			xs = append(xs, time.UnixMilli(int64(p[0])))
			ys = append(ys, p[1])
		}
		series = append(series, chart.TimeSeries{
			Name:    strings.ReplaceAll(name, "_", " "),
			XValues: xs,
			YValues: ys,
		})
	}
	if len(series) == 0 {
		return "", fmt.Errorf("no plottable series for %q", title)
	}

	graph := chart.Chart{
		Title:  title,
		Width:  900,
		Height: 450,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01-02"),
		},
		Series: series,
	}
	return r.write(title, func(f *os.File) error {
		return graph.Render(chart.PNG, f)
	})
}

func (r *ChartFiles) renderBar(fields map[string]any, title string) (string, error) {
	var points [][2]float64
	for _, name := range sortedKeys(fields) {
		if p, ok := CoerceSeries(fields[name]); ok && len(p) > 0 {
			points = p
			break
		}
	}
	if len(points) == 0 {
		return "", fmt.Errorf("no plottable series for %q", title)
	}
	// Keep the bar count readable.
	if len(points) > 30 {
		points = points[len(points)-30:]
	}

	bars := make([]chart.Value, 0, len(points))
	for _, p := range points {
		bars = append(bars, chart.Value{
			Label: time.UnixMilli(int64(p[0])).Format("01-02"),
			Value: p[1],
		})
	}
	graph := chart.BarChart{
		Title:    title,
		Width:    900,
		Height:   450,
		BarWidth: 18,
		Bars:     bars,
	}
	return r.write(title, func(f *os.File) error {
		return graph.Render(chart.PNG, f)
	})
}

func (r *ChartFiles) renderPie(fields map[string]any, title string) (string, error) {
	var values []chart.Value
	for _, name := range sortedKeys(fields) {
		shares, ok := coerceShares(fields[name])
		if !ok {
			continue
		}
		labels := make([]string, 0, len(shares))
		for label := range shares {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			if shares[label] <= 0 {
				continue
			}
			values = append(values, chart.Value{Label: label, Value: shares[label]})
		}
		break
	}
	if len(values) == 0 {
		return "", fmt.Errorf("no share data for %q", title)
	}

	graph := chart.PieChart{
		Title:  title,
		Width:  600,
		Height: 600,
		Values: values,
	}
	return r.write(title, func(f *os.File) error {
		return graph.Render(chart.PNG, f)
	})
}

func (r *ChartFiles) write(title string, render func(*os.File) error) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create chart directory: %w", err)
	}
	path := filepath.Join(r.dir, slug(title)+".png")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %w", err)
	}
	defer f.Close()
	if err := render(f); err != nil {
		os.Remove(path)
		return "", err
	}
	r.logger.Debug("chart written", zap.String("path", path))
	return path, nil
}

func coerceShares(v any) (map[string]float64, bool) {
	switch t := v.(type) {
	case map[string]float64:
		return t, len(t) > 0
	case map[string]any:
		out := make(map[string]float64, len(t))
		for k, raw := range t {
			f, ok := asFloat(raw)
			if !ok {
				return nil, false
			}
			out[k] = f
		}
		return out, len(out) > 0
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func slug(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
