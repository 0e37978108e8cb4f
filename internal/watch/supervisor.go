package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/assets"
	"github.com/wolfeidau/sitepipe/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrAlreadyStarted = errors.New("supervisor already started")

// State of the supervisor.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runner runs a named task and waits for it to finish.
type Runner interface {
	Run(ctx context.Context, task string) error
}

// Pruner removes the outputs of a deleted source file. Runners that implement
// it are asked to prune before the bound task runs again.
type Pruner interface {
	Prune(ctx context.Context, task, source string) error
}

// Binding re-runs Task whenever a file matching one of Patterns changes.
type Binding struct {
	Name     string
	Patterns []string
	Task     string
}

type binding struct {
	Binding
	patterns []*assets.Pattern

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	dirty   bool
	// sources removed since the last run
	removed []string
}

// Supervisor watches the source tree and invokes bound tasks on change. Every
// matching binding fires, a binding never runs its task concurrently with itself
// and changes made while it runs cause a single follow-up run.
type Supervisor struct {
	root     string
	runner   Runner
	debounce time.Duration
	bindings []*binding

	mu      sync.Mutex
	state   State
	watcher *fsnotify.Watcher
	watched map[string]bool
	done    chan struct{}
}

type Option func(*Supervisor)

// WithDebounce sets how long a binding waits for further events before running.
func WithDebounce(d time.Duration) Option {
	return func(s *Supervisor) {
		s.debounce = d
	}
}

func New(root string, bindings []Binding, runner Runner, opts ...Option) (*Supervisor, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		root:     abs,
		runner:   runner,
		debounce: 100 * time.Millisecond,
		watched:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, b := range bindings {
		patterns, err := assets.CompilePatterns(abs, b.Patterns)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", b.Name, err)
		}
		s.bindings = append(s.bindings, &binding{Binding: b, patterns: patterns})
	}

	return s, nil
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins watching and returns once every binding's directories are being
// watched. Watching stops when ctx is done.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrAlreadyStarted
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w

	for _, b := range s.bindings {
		for _, p := range b.patterns {
			if err := s.watchBase(p.Base()); err != nil {
				_ = w.Close()
				return fmt.Errorf("binding %s: %w", b.Name, err)
			}
		}
		log.Info().Str("binding", b.Name).Str("task", b.Task).Strs("patterns", b.Patterns).Msg("Watching")
	}

	s.state = StateWatching
	go s.loop(ctx)

	return nil
}

// Done is closed once the supervisor has stopped watching.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// watchBase watches the glob base recursively, or its closest existing parent
// when the base does not exist yet. Caller holds s.mu.
func (s *Supervisor) watchBase(base string) error {
	info, err := os.Stat(base)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		for dir := filepath.Dir(base); ; dir = filepath.Dir(dir) {
			if _, err := os.Stat(dir); err == nil {
				return s.add(dir)
			}
			if dir == filepath.Dir(dir) {
				return nil
			}
		}
	case err != nil:
		return err
	case !info.IsDir():
		return s.add(filepath.Dir(base))
	}

	return s.addRecursive(base)
}

func (s *Supervisor) add(dir string) error {
	if s.watched[dir] {
		return nil
	}
	if err := s.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watched[dir] = true
	return nil
}

func (s *Supervisor) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return s.add(path)
	})
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.watcher.Close()
		s.state = StateStopped
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Watch stopped")
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watch error")
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	telemetry.GetMetrics().WatchEventsTotal.Add(ctx, 1)
	log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Filesystem event")

	gone := false
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		s.forget(event.Name)
		_, err := os.Lstat(event.Name)
		gone = errors.Is(err, fs.ErrNotExist)
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && s.relevant(event.Name) {
			s.mu.Lock()
			err := s.addRecursive(event.Name)
			s.mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("file", event.Name).Msg("Failed to watch new directory")
			}
			s.scheduleTree(ctx, event.Name)
			return
		}
	}

	s.scheduleFile(ctx, event.Name, gone)
}

// forget drops the watches on a removed or renamed directory and everything
// below it, so the directory is watched again when it is recreated.
func (s *Supervisor) forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for dir := range s.watched {
		if !isWithin(dir, name) {
			continue
		}
		// the kernel has usually dropped the watch already
		_ = s.watcher.Remove(dir)
		delete(s.watched, dir)
	}
}

// relevant reports whether dir could contain files matched by a binding.
func (s *Supervisor) relevant(dir string) bool {
	for _, b := range s.bindings {
		for _, p := range b.patterns {
			base := p.Base()
			if isWithin(dir, base) || isWithin(base, dir) {
				return true
			}
		}
	}
	return false
}

func (s *Supervisor) scheduleTree(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			s.scheduleFile(ctx, path, false)
		}
		return nil
	})
}

// scheduleFile schedules every binding matching path, gone marks a source
// that no longer exists so its outputs are pruned.
func (s *Supervisor) scheduleFile(ctx context.Context, path string, gone bool) {
	for _, b := range s.bindings {
		if assets.MatchAny(b.patterns, path) {
			log.Debug().Str("binding", b.Name).Str("file", path).Bool("removed", gone).Msg("Change matched")
			s.schedule(ctx, b, path, gone)
		}
	}
}

func (s *Supervisor) schedule(ctx context.Context, b *binding, path string, gone bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gone {
		b.removed = append(b.removed, path)
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(s.debounce, func() { s.fire(ctx, b) })
		return
	}
	b.timer.Reset(s.debounce)
}

func (s *Supervisor) fire(ctx context.Context, b *binding) {
	b.mu.Lock()
	if b.running {
		b.dirty = true
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("binding", b.Name))

	for {
		if ctx.Err() != nil {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
			return
		}

		b.mu.Lock()
		removed := b.removed
		b.removed = nil
		b.mu.Unlock()
		s.prune(ctx, b, removed)

		telemetry.GetMetrics().WatchTriggersTotal.Add(ctx, 1, attrs)
		if err := s.runner.Run(ctx, b.Task); err != nil {
			log.Warn().Err(err).Str("binding", b.Name).Str("task", b.Task).Msg("Rebuild failed, still watching")
		}

		b.mu.Lock()
		if !b.dirty {
			b.running = false
			b.mu.Unlock()
			return
		}
		b.dirty = false
		b.mu.Unlock()
	}
}

// prune removes the outputs of sources deleted before this run. A source that
// came back in the meantime is rebuilt instead.
func (s *Supervisor) prune(ctx context.Context, b *binding, removed []string) {
	pruner, ok := s.runner.(Pruner)
	if !ok {
		return
	}
	for _, source := range removed {
		if _, err := os.Lstat(source); err == nil {
			continue
		}
		if err := pruner.Prune(ctx, b.Task, source); err != nil {
			log.Warn().Err(err).Str("binding", b.Name).Str("file", source).Msg("Failed to remove stale output")
		}
	}
}

func isWithin(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
