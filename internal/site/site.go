package site

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/assets"
	"github.com/wolfeidau/sitepipe/internal/config"
	"github.com/wolfeidau/sitepipe/internal/devserver"
	"github.com/wolfeidau/sitepipe/internal/favicon"
	"github.com/wolfeidau/sitepipe/internal/pipeline"
	"github.com/wolfeidau/sitepipe/internal/watch"
)

// Pipeline stage names beyond the task names.
const (
	StageClean = "clean"
	StageWatch = "watch"
	StageServe = "serve"
)

// Site wires the project configuration to its tasks, the watcher and the dev
// server.
type Site struct {
	cfg      config.Config
	registry *assets.Registry
	hub      *devserver.Hub
	server   *devserver.Server
	sass     assets.SassCompiler
	favicons favicon.Service
	listener net.Listener
}

type Option func(*Site)

// WithFaviconService replaces the RealFaviconGenerator client.
func WithFaviconService(svc favicon.Service) Option {
	return func(s *Site) {
		s.favicons = svc
	}
}

// WithSassCompiler replaces the Dart Sass compiler.
func WithSassCompiler(c assets.SassCompiler) Option {
	return func(s *Site) {
		s.sass = c
	}
}

// WithListener serves on ln instead of the configured address.
func WithListener(ln net.Listener) Option {
	return func(s *Site) {
		s.listener = ln
	}
}

// New builds a site and registers its tasks.
func New(cfg config.Config, opts ...Option) (*Site, error) {
	baseDir := cfg.Path(cfg.Server.BaseDir)
	hub := devserver.NewHub(baseDir)

	s := &Site{
		cfg:      cfg,
		registry: assets.NewRegistry(hub),
		hub:      hub,
		server:   devserver.New(baseDir, cfg.Server, hub),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sass == nil {
		s.sass = assets.NewDartSass(cfg.Sass.Binary)
	}
	if s.favicons == nil {
		cacheDir := ""
		if cfg.Favicon.CacheDir != "" {
			cacheDir = cfg.Path(cfg.Favicon.CacheDir)
		}
		s.favicons = favicon.NewRealFaviconService(cfg.Favicon.APIBaseURL, cacheDir, "sitepipe")
	}

	tasks, err := s.tasks()
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(tasks...); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Site) tasks() ([]assets.Task, error) {
	cfg := s.cfg

	includePaths := make([]string, 0, len(cfg.Sass.IncludePaths))
	for _, p := range cfg.Sass.IncludePaths {
		includePaths = append(includePaths, cfg.Path(p))
	}

	markup, err := assets.NewMarkupTask(assets.TaskMarkup, cfg.Root, cfg.Markup.Src, cfg.Path(cfg.Markup.Dest))
	if err != nil {
		return nil, fmt.Errorf("markup: %w", err)
	}

	fonts, err := assets.NewCopyTask(assets.TaskFonts, cfg.Root, cfg.Fonts.Src, cfg.Path(cfg.Fonts.Dest))
	if err != nil {
		return nil, fmt.Errorf("fonts: %w", err)
	}

	tasks := []assets.Task{markup, fonts, favicon.NewGenerator(cfg, s.favicons)}

	for _, variant := range []struct {
		name      string
		sourceMap bool
	}{
		{name: assets.TaskStylesDev, sourceMap: true},
		{name: assets.TaskStylesProd, sourceMap: false},
	} {
		styles, err := assets.NewStylesTask(assets.StylesOptions{
			Name:         variant.name,
			Root:         cfg.Root,
			Src:          cfg.Styles.Src,
			Dest:         cfg.Path(cfg.Styles.Dest),
			Targets:      cfg.Targets,
			IncludePaths: includePaths,
			SourceMap:    variant.sourceMap,
			Sass:         s.sass,
		})
		if err != nil {
			return nil, fmt.Errorf("styles: %w", err)
		}
		tasks = append(tasks, styles)
	}

	scripts, err := assets.NewScriptsTask(assets.ScriptsOptions{
		Name:      assets.TaskScripts,
		Root:      cfg.Root,
		Src:       cfg.Scripts.Src,
		Dest:      cfg.Path(cfg.Scripts.Dest),
		Targets:   cfg.Targets,
		Minify:    true,
		SourceMap: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scripts: %w", err)
	}

	return append(tasks, scripts), nil
}

// Config returns the site configuration.
func (s *Site) Config() config.Config {
	return s.cfg
}

// Clean removes the output directory.
func (s *Site) Clean() error {
	return assets.Clean(s.cfg.Root, s.cfg.Path(s.cfg.Output))
}

// Run invokes a registered task.
func (s *Site) Run(ctx context.Context, task string) error {
	return s.registry.Run(ctx, task)
}

// Tasks lists the registered task names.
func (s *Site) Tasks() []string {
	return s.registry.Names()
}

// Bindings returns the watch bindings for the site's asset kinds.
func (s *Site) Bindings() []watch.Binding {
	return []watch.Binding{
		{Name: "markup", Patterns: s.cfg.Markup.WatchPatterns(), Task: assets.TaskMarkup},
		{Name: "styles", Patterns: s.cfg.Styles.WatchPatterns(), Task: assets.TaskStylesDev},
		{Name: "scripts", Patterns: s.cfg.Scripts.WatchPatterns(), Task: assets.TaskScripts},
		{Name: "fonts", Patterns: s.cfg.Fonts.WatchPatterns(), Task: assets.TaskFonts},
	}
}

// Watch starts rebuilding on source changes until ctx is done.
func (s *Site) Watch(ctx context.Context) (*watch.Supervisor, error) {
	sup, err := watch.New(s.cfg.Root, s.Bindings(), s.registry, watch.WithDebounce(s.cfg.Watch.Debounce))
	if err != nil {
		return nil, err
	}
	if err := sup.Start(ctx); err != nil {
		return nil, err
	}
	return sup, nil
}

// Serve runs the dev server until ctx is done.
func (s *Site) Serve(ctx context.Context) error {
	return s.server.Serve(ctx, s.listener)
}

// Handler exposes the dev server handler.
func (s *Site) Handler() http.Handler {
	return s.server.Handler()
}

// Inject writes the generated favicon markup into the configured pages.
func (s *Site) Inject() error {
	pages := make([]string, 0, len(s.cfg.Favicon.InjectInto))
	for _, p := range s.cfg.Favicon.InjectInto {
		pages = append(pages, s.cfg.Path(p))
	}
	return favicon.Inject(s.cfg.Path(s.cfg.Favicon.ManifestFile), pages...)
}

// CheckFaviconUpdate reports changes to the favicon service since the icons
// were generated, returning favicon.ErrUpdateAvailable when there are any.
func (s *Site) CheckFaviconUpdate(ctx context.Context) ([]favicon.Change, error) {
	return favicon.CheckForUpdate(ctx, s.favicons, s.cfg.Path(s.cfg.Favicon.ManifestFile))
}

// BuildPipeline cleans the output then runs every build task concurrently.
func (s *Site) BuildPipeline(prod, skipFavicon bool) *pipeline.Graph {
	g := pipeline.New()

	styles := assets.TaskStylesDev
	if prod {
		styles = assets.TaskStylesProd
	}

	build := []string{assets.TaskMarkup, styles, assets.TaskFonts, assets.TaskScripts}
	if !skipFavicon {
		build = append(build, assets.TaskFavicon)
	}

	stages := []pipeline.Stage{{
		Name:  StageClean,
		Run:   func(context.Context) error { return s.Clean() },
		Fatal: true,
	}}
	for _, name := range build {
		stages = append(stages, pipeline.Stage{
			Name:  name,
			After: []string{StageClean},
			Run:   func(ctx context.Context) error { return s.Run(ctx, name) },
		})
	}

	// names are unique and every dependency exists
	_ = g.Add(stages...)

	return g
}

// DefaultPipeline builds the site, then watches and serves it until ctx is
// done.
func (s *Site) DefaultPipeline(skipFavicon bool) *pipeline.Graph {
	g := s.BuildPipeline(false, skipFavicon)

	names, _ := g.Names()
	var build []string
	for _, name := range names {
		if name != StageClean {
			build = append(build, name)
		}
	}

	_ = g.Add(
		pipeline.Stage{
			Name:  StageWatch,
			After: build,
			Run: func(ctx context.Context) error {
				_, err := s.Watch(ctx)
				return err
			},
			Fatal: true,
		},
		pipeline.Stage{
			Name:  StageServe,
			After: []string{StageWatch},
			Run:   s.Serve,
			Fatal: true,
		},
	)

	return g
}

// Close stops the Sass compiler when one was started.
func (s *Site) Close() error {
	if c, ok := s.sass.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop sass compiler")
			return err
		}
	}
	return nil
}
