// Package viz resolves visualization specs against the merged field map and
// delegates drawing to a ChartRenderer. Every referenced key yields exactly
// one artifact per run: a rendered file, an inline-data artifact for tabular
// kinds, or an explicit missing marker when rendering fails. Render failures
// never escape the binder.
package viz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chainbrief/internal/humanize"
	"chainbrief/internal/report"
	"chainbrief/internal/state"
)

// ChartRenderer draws one visualization. Chart kinds return the path of the
// written image. Tabular kinds (table, timeline) may return an empty path
// with nil error, meaning the assembler should draw the data inline from the
// artifact's field list.
type ChartRenderer interface {
	Render(ctx context.Context, kind string, fields map[string]any, title string) (string, error)
}

// RenderError classifies a visualization failure. Recovered by storing a
// missing-marker artifact.
type RenderError struct {
	Key    string
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render of %s failed: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("render of %s failed: %s", e.Key, e.Reason)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Binder binds all referenced visualizations for a run.
type Binder struct {
	renderer    ChartRenderer
	logger      *zap.Logger
	parallelism int64
}

// New builds a binder. Parallelism below 1 defaults to 3.
func New(renderer ChartRenderer, logger *zap.Logger, parallelism int64) *Binder {
	if parallelism < 1 {
		parallelism = 3
	}
	return &Binder{renderer: renderer, logger: logger, parallelism: parallelism}
}

// Bind renders every visualization referenced by any section, with bounded
// fan-out, and stores one artifact per key. Rebinding a key overwrites the
// prior artifact.
func (b *Binder) Bind(ctx context.Context, st *state.ResearchState, spec *report.Specification) {
	keys := referencedKeys(spec)
	artifacts := make([]state.Artifact, len(keys))

	sem := semaphore.NewWeighted(b.parallelism)
	var g errgroup.Group
	for i, key := range keys {
		i, vis := i, spec.Visualizations[key]
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				artifacts[i] = b.missing(vis, err)
				return nil
			}
			defer sem.Release(1)
			artifacts[i] = b.bindOne(ctx, st, vis)
			return nil
		})
	}
	g.Wait()

	for _, a := range artifacts {
		st.Artifacts[a.Key] = a
		if a.Missing {
			st.Record("visualizing", "render_error", a.Key)
		}
	}
}

func (b *Binder) bindOne(ctx context.Context, st *state.ResearchState, vis report.VisualizationSpec) state.Artifact {
	fields, err := resolveFields(st, vis)
	if err != nil {
		b.logger.Warn("visualization fields unresolved", zap.String("key", vis.Key), zap.Error(err))
		return b.missing(vis, err)
	}

	path, err := b.renderer.Render(ctx, vis.Kind, fields, vis.Title)
	if err != nil {
		rerr := &RenderError{Key: vis.Key, Reason: "renderer failed", Err: err}
		b.logger.Warn("visualization render failed", zap.Error(rerr))
		return b.missing(vis, rerr)
	}

	b.logger.Debug("visualization bound",
		zap.String("key", vis.Key), zap.String("path", path))
	return state.Artifact{
		Key:         vis.Key,
		FilePath:    path,
		Title:       vis.Title,
		Description: Describe(vis, st.Subject, fields),
		Fields:      vis.DataFields,
	}
}

func (b *Binder) missing(vis report.VisualizationSpec, err error) state.Artifact {
	return state.Artifact{
		Key:         vis.Key,
		Missing:     true,
		Title:       vis.Title,
		Description: fmt.Sprintf("%s could not be rendered for this run.", vis.Title),
		Fields:      vis.DataFields,
	}
}

// referencedKeys returns every visualization key any section lists, in
// section order, deduplicated.
func referencedKeys(spec *report.Specification) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, sec := range spec.Sections {
		for _, key := range sec.Visualizations {
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

func resolveFields(st *state.ResearchState, vis report.VisualizationSpec) (map[string]any, error) {
	fields := make(map[string]any, len(vis.DataFields))
	for _, name := range vis.DataFields {
		fv, ok := st.Field(name)
		if !ok {
			return nil, &RenderError{Key: vis.Key, Reason: "field " + name + " unresolved"}
		}
		fields[name] = fv.Value
	}
	return fields, nil
}

// Describe applies the visualization's description template to the resolved fields.
// Supported placeholders: {subject}, {title}, {points}, {field:<name>}.
func Describe(vis report.VisualizationSpec, subject string, fields map[string]any) string {
	out := vis.Description
	if out == "" {
		out = vis.Title
	}
	out = strings.ReplaceAll(out, "{subject}", subject)
	out = strings.ReplaceAll(out, "{title}", vis.Title)
	out = strings.ReplaceAll(out, "{points}", strconv.Itoa(seriesPoints(fields)))
	for name, value := range fields {
		placeholder := "{field:" + name + "}"
		if !strings.Contains(out, placeholder) {
			continue
		}
		out = strings.ReplaceAll(out, placeholder, humanize.Value(value, moneyField(name)))
	}
	return out
}

func moneyField(name string) bool {
	switch name {
	case report.FieldCurrentPrice, report.FieldMarketCap, report.FieldVolume24h, report.FieldTVL:
		return true
	}
	return false
}

// seriesPoints counts the points of the first series-shaped field.
func seriesPoints(fields map[string]any) int {
	for _, v := range fields {
		if series, ok := CoerceSeries(v); ok {
			return len(series)
		}
	}
	return 0
}

// CoerceSeries converts a merged field value into [timestamp, value] pairs.
// Handles both the native shape and the JSON round-tripped shape from cache.
func CoerceSeries(v any) ([][2]float64, bool) {
	switch t := v.(type) {
	case [][2]float64:
		return t, len(t) > 0
	case []any:
		out := make([][2]float64, 0, len(t))
		for _, e := range t {
			pair, ok := e.([]any)
			if !ok || len(pair) != 2 {
				return nil, false
			}
			x, okX := asFloat(pair[0])
			y, okY := asFloat(pair[1])
			if !okX || !okY {
				return nil, false
			}
			out = append(out, [2]float64{x, y})
		}
		return out, len(out) > 0
	}
	return nil, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}
