package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrCycle          = errors.New("pipeline has a dependency cycle")
	ErrUnknownStage   = errors.New("unknown stage")
	ErrDuplicateStage = errors.New("stage already added")
)

// Stage is one named step of a pipeline.
type Stage struct {
	Name string
	// Stages that must finish before this one starts
	After []string
	Run   func(ctx context.Context) error
	// A failing fatal stage cancels the whole run, other failures are
	// reported and dependants still run.
	Fatal bool
}

// Report collects the non-fatal failures of a run.
type Report struct {
	mu       sync.Mutex
	Failures map[string]error
}

func (r *Report) add(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures[name] = err
}

// Err joins the recorded failures, nil when every stage succeeded.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.Failures))
	for name := range r.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, fmt.Errorf("%s: %w", name, r.Failures[name]))
	}
	return errors.Join(errs...)
}

// Graph is a DAG of stages.
type Graph struct {
	stages []Stage
	index  map[string]int
}

func New() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add appends stages to the graph.
func (g *Graph) Add(stages ...Stage) error {
	for _, s := range stages {
		if s.Name == "" {
			return errors.New("stage name is required")
		}
		if s.Run == nil {
			return fmt.Errorf("stage %s has no run function", s.Name)
		}
		if _, exists := g.index[s.Name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateStage, s.Name)
		}
		g.index[s.Name] = len(g.stages)
		g.stages = append(g.stages, s)
	}
	return nil
}

// Names returns the stages in a valid execution order.
func (g *Graph) Names() ([]string, error) {
	return g.order()
}

// Run executes the graph. Each stage starts as soon as all of its
// dependencies have finished; independent stages run concurrently. The
// returned error is the first fatal failure.
func (g *Graph) Run(ctx context.Context) (*Report, error) {
	if _, err := g.order(); err != nil {
		return nil, err
	}

	report := &Report{Failures: make(map[string]error)}

	done := make(map[string]chan struct{}, len(g.stages))
	for _, s := range g.stages {
		done[s.Name] = make(chan struct{})
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, s := range g.stages {
		eg.Go(func() error {
			defer close(done[s.Name])

			for _, dep := range s.After {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return nil
				}
			}
			if ctx.Err() != nil {
				return nil
			}

			err := g.runStage(ctx, s)
			switch {
			case err == nil:
				return nil
			case s.Fatal:
				return fmt.Errorf("stage %s: %w", s.Name, err)
			default:
				report.add(s.Name, err)
				return nil
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (g *Graph) runStage(ctx context.Context, s Stage) error {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage", s.Name),
		attribute.Bool("fatal", s.Fatal),
	))
	defer span.End()

	logger := log.With().Str("stage", s.Name).Logger()
	logger.Debug().Msg("Stage started")

	start := time.Now()
	err := s.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		evt := logger.Warn()
		if s.Fatal {
			evt = logger.Error()
		}
		evt.Err(err).Dur("duration", time.Since(start)).Msg("Stage failed")
		return err
	}

	logger.Debug().Dur("duration", time.Since(start)).Msg("Stage finished")
	return nil
}

// order validates dependencies and returns a topological order, ties broken
// by insertion order.
func (g *Graph) order() ([]string, error) {
	indegree := make([]int, len(g.stages))
	dependants := make([][]int, len(g.stages))

	for i, s := range g.stages {
		for _, dep := range s.After {
			j, ok := g.index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownStage, s.Name, dep)
			}
			indegree[i]++
			dependants[j] = append(dependants[j], i)
		}
	}

	var ready []int
	for i := range g.stages {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	names := make([]string, 0, len(g.stages))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		names = append(names, g.stages[i].Name)

		for _, j := range dependants[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(names) != len(g.stages) {
		var stuck []string
		for i, s := range g.stages {
			if indegree[i] > 0 {
				stuck = append(stuck, s.Name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}

	return names, nil
}
