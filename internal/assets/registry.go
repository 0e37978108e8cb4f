package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
)

// Registry holds the named tasks and runs them with error isolation: a failing
// or panicking task is logged and reported to the caller, never propagated as a
// crash.
type Registry struct {
	mu       sync.RWMutex
	tasks    map[string]Task
	notifier Notifier
}

// NewRegistry creates an empty registry, notifier may be nil.
func NewRegistry(notifier Notifier) *Registry {
	return &Registry{
		tasks:    make(map[string]Task),
		notifier: notifier,
	}
}

// Register adds tasks to the registry.
func (r *Registry) Register(tasks ...Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tasks {
		if _, exists := r.tasks[t.Name()]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
		}
		r.tasks[t.Name()] = t
	}
	return nil
}

// Get returns the task registered under name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[name]
	return t, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run invokes the named task and waits for it to complete. On success the
// notifier is told about the written files.
func (r *Registry) Run(ctx context.Context, name string) error {
	task, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "task "+name)
	defer span.End()

	m := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("task", name))

	log.Debug().Str("task", name).Msg("Task started")

	started := time.Now()
	res, err := runIsolated(ctx, task)
	elapsed := time.Since(started)

	m.TaskRunsTotal.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)

	if err != nil {
		m.TaskFailuresTotal.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Str("task", name).Dur("duration", elapsed).Msg("Task failed")
		return fmt.Errorf("task %s: %w", name, err)
	}

	var outputs []string
	if res != nil {
		outputs = res.Outputs
	}
	m.TaskOutputsTotal.Add(ctx, int64(len(outputs)), attrs)

	log.Info().Str("task", name).Int("outputs", len(outputs)).Dur("duration", elapsed).Msg("Task finished")

	if r.notifier != nil && len(outputs) > 0 {
		r.notifier.Reload(outputs...)
	}

	return nil
}

// Prune removes the outputs left by a deleted source file when the named task
// maps sources to outputs one to one. Other tasks rebuild their whole output on
// the next run and are left alone.
func (r *Registry) Prune(ctx context.Context, name, source string) error {
	task, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	pruner, ok := task.(Pruner)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		removed []string
		errs    []error
	)
	for _, out := range pruner.Stale(source) {
		err := os.Remove(out)
		switch {
		case err == nil:
			removed = append(removed, out)
			log.Info().Str("task", name).Str("file", out).Msg("Removed stale output")
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}

	if r.notifier != nil && len(removed) > 0 {
		r.notifier.Reload(removed...)
	}

	return errors.Join(errs...)
}

func runIsolated(ctx context.Context, task Task) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("task", task.Name()).Bytes("stack", debug.Stack()).Msg("Task panicked")
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return task.Run(ctx)
}
