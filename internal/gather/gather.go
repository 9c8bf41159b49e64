// Package gather runs the planned fetch tasks against the source adapters
// with bounded parallelism, writes results through the durable cache, and
// merges per-source payloads into the run state by fixed source priority.
// Fields no source could populate are synthesized so downstream stages never
// see a hole.
package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chainbrief/internal/cache"
	"chainbrief/internal/plan"
	"chainbrief/internal/report"
	"chainbrief/internal/source"
	"chainbrief/internal/state"
)

// mergePriority orders sources for field merging, most authoritative first.
// Synthetic values rank below everything and fill only what remains.
var mergePriority = []string{
	report.SourceCoinMarketCap,
	report.SourceCoinGecko,
	report.SourceDeFiLlama,
	report.SourceWebSearch,
}

// Config tunes the aggregator.
type Config struct {
	// Parallelism bounds concurrent fetch tasks. Defaults to 5.
	Parallelism int64

	// TaskTimeout bounds one fetch task end to end. Defaults to 30s.
	TaskTimeout time.Duration

	// TTL is how long a cached payload stays fresh. Defaults to 3h.
	TTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 5
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 30 * time.Second
	}
	if c.TTL <= 0 {
		c.TTL = 3 * time.Hour
	}
}

// Aggregator executes gathering for one run.
type Aggregator struct {
	adapters map[string]source.Adapter
	cache    *cache.Store
	synth    *Synthesizer
	logger   *zap.Logger
	cfg      Config
}

// New builds an aggregator over the given adapters.
func New(adapters []source.Adapter, store *cache.Store, logger *zap.Logger, cfg Config) *Aggregator {
	cfg.applyDefaults()
	byName := make(map[string]source.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Aggregator{
		adapters: byName,
		cache:    store,
		synth:    NewSynthesizer(),
		logger:   logger,
		cfg:      cfg,
	}
}

type taskResult struct {
	task    plan.Task
	payload map[string]any
	err     error
}

// Run executes all tasks with bounded fan-out, then merges results into the
// state. Fetch failures degrade to recorded errors and synthetic fallback;
// Run itself fails only on context cancellation.
func (a *Aggregator) Run(ctx context.Context, st *state.ResearchState, spec *report.Specification, tasks []plan.Task) error {
	results := make([]taskResult, len(tasks))
	sem := semaphore.NewWeighted(a.cfg.Parallelism)
	var g errgroup.Group
	for i, task := range tasks {
		adapter, ok := a.adapters[task.Source]
		if !ok {
			results[i] = taskResult{task: task, err: fmt.Errorf("no adapter registered for source %q", task.Source)}
			continue
		}
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = taskResult{task: task, err: err}
				return nil
			}
			defer sem.Release(1)
			payload, err := a.fetchTask(ctx, st.Subject, task, adapter)
			results[i] = taskResult{task: task, payload: payload, err: err}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	a.absorb(st, results)
	a.merge(st, spec)
	a.collectReferences(st)
	return nil
}

// fetchTask runs one fetch through the cache with its own deadline.
func (a *Aggregator) fetchTask(ctx context.Context, subject string, task plan.Task, adapter source.Adapter) (map[string]any, error) {
	taskCtx, cancel := context.WithTimeout(ctx, a.cfg.TaskTimeout)
	defer cancel()

	key := cache.Key(task.Source, subject, map[string]string{
		"fields": strings.Join(task.Fields, ","),
	})
	raw, hit, err := a.cache.Fetch(taskCtx, key, a.cfg.TTL, func(ctx context.Context) ([]byte, error) {
		payload, err := adapter.Fetch(ctx, source.Query{Subject: subject, Fields: task.Fields})
		if err != nil {
			return nil, err
		}
		return json.Marshal(payload)
	})
	if err != nil {
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			return nil, &source.FetchError{Source: task.Source, Reason: "task timed out", Err: err}
		}
		return nil, err
	}
	a.logger.Debug("fetch task finished",
		zap.String("source", task.Source),
		zap.Strings("fields", task.Fields),
		zap.Bool("cached", hit))

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode cached payload for %s: %w", task.Source, err)
	}
	return payload, nil
}

// absorb folds task payloads into the per-source raw data and records one
// fetch_error progress entry per failed task.
func (a *Aggregator) absorb(st *state.ResearchState, results []taskResult) {
	for _, r := range results {
		if r.err != nil {
			a.logger.Warn("fetch task failed",
				zap.String("source", r.task.Source),
				zap.Strings("sections", r.task.Sections),
				zap.Error(r.err))
			st.Record("gathering", "fetch_error",
				fmt.Sprintf("%s: %v", r.task.Source, r.err))
			continue
		}
		data := st.SourceData[r.task.Source]
		if data == nil {
			data = make(map[string]any)
			st.SourceData[r.task.Source] = data
		}
		for k, v := range r.payload {
			data[k] = v
		}
	}
}

// merge resolves each declared field from the highest-priority source that
// has it, synthesizing the rest.
func (a *Aggregator) merge(st *state.ResearchState, spec *report.Specification) {
	for _, field := range spec.AllFields() {
		if src, v, ok := a.lookup(st, field); ok {
			st.SetField(field, state.FieldValue{Value: v, Source: src})
			continue
		}
		st.SetField(field, state.FieldValue{
			Value:     a.synth.Value(st.Subject, field),
			Source:    SyntheticSource,
			Synthetic: true,
		})
		st.Record("gathering", "fallback", "synthesized "+field)
		a.logger.Info("field synthesized", zap.String("field", field))
	}
}

func (a *Aggregator) lookup(st *state.ResearchState, field string) (string, any, bool) {
	for _, src := range mergePriority {
		data, ok := st.SourceData[src]
		if !ok {
			continue
		}
		v, ok := data[field]
		if !ok || !usable(v) {
			continue
		}
		return src, v, true
	}
	return "", nil, false
}

// usable rejects values that decode as present but carry nothing: nil, empty
// strings, and empty collections. Numeric zero is kept; a zero max supply is
// real data.
func usable(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// collectReferences lifts citation lists out of the raw payloads into the
// run's reference set.
func (a *Aggregator) collectReferences(st *state.ResearchState) {
	for _, src := range mergePriority {
		data, ok := st.SourceData[src]
		if !ok {
			continue
		}
		refs, ok := data["references"].([]any)
		if !ok {
			continue
		}
		for _, r := range refs {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			title, _ := m["title"].(string)
			url, _ := m["url"].(string)
			if url == "" {
				continue
			}
			st.References = append(st.References, state.Reference{Title: title, URL: url})
		}
	}
}
