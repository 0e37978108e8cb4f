package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the project configuration file looked up when no path is given.
const DefaultFile = "sitepipe.yaml"

// Kind configures one asset kind: where its sources live, which globs trigger a
// rebuild while watching and where its outputs go.
type Kind struct {
	// Source glob patterns, resolved on every run
	Src []string `yaml:"src"`
	// Glob patterns that trigger a rebuild while watching, defaults to Src
	Watch []string `yaml:"watch"`
	// Output directory
	Dest string `yaml:"dest"`
}

// WatchPatterns returns the patterns to watch, falling back to the sources.
func (k Kind) WatchPatterns() []string {
	if len(k.Watch) > 0 {
		return k.Watch
	}
	return k.Src
}

// UnmarshalYAML overlays the fields present in the file. Sources set without
// watch patterns drop the previous watch patterns so the new sources are the
// ones watched.
func (k *Kind) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Src   []string `yaml:"src"`
		Watch []string `yaml:"watch"`
		Dest  *string  `yaml:"dest"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.Src != nil {
		k.Src = raw.Src
		k.Watch = nil
	}
	if raw.Watch != nil {
		k.Watch = raw.Watch
	}
	if raw.Dest != nil {
		k.Dest = *raw.Dest
	}
	return nil
}

type Server struct {
	BaseDir    string `yaml:"baseDir"`
	Index      string `yaml:"index"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Tunnel     bool   `yaml:"tunnel"`
	LiveReload bool   `yaml:"liveReload"`
	CORS       bool   `yaml:"cors"`
}

// Addr returns the host:port the dev server listens on.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Sass struct {
	// Dart Sass executable supporting the embedded protocol
	Binary       string   `yaml:"binary"`
	IncludePaths []string `yaml:"includePaths"`
}

type Watch struct {
	Debounce time.Duration `yaml:"debounce"`
}

type Favicon struct {
	MasterPicture string   `yaml:"masterPicture"`
	Dest          string   `yaml:"dest"`
	IconsPath     string   `yaml:"iconsPath"`
	ManifestFile  string   `yaml:"manifestFile"`
	InjectInto    []string `yaml:"injectInto"`
	APIKey        string   `yaml:"apiKey"`
	APIBaseURL    string   `yaml:"apiBaseURL"`
	CacheDir      string   `yaml:"cacheDir"`
	Design        Design   `yaml:"design"`
	Settings      Settings `yaml:"settings"`
}

// Config is the immutable project configuration. It is built once by Load and
// passed by value to every component.
type Config struct {
	Root    string   `yaml:"-"`
	Output  string   `yaml:"output"`
	Markup  Kind     `yaml:"markup"`
	Styles  Kind     `yaml:"styles"`
	Scripts Kind     `yaml:"scripts"`
	Fonts   Kind     `yaml:"fonts"`
	Targets []string `yaml:"targets"`
	Sass    Sass     `yaml:"sass"`
	Server  Server   `yaml:"server"`
	Watch   Watch    `yaml:"watch"`
	Favicon Favicon  `yaml:"favicon"`
}

// Default returns the configuration used when no project file overrides it.
func Default() Config {
	return Config{
		Root:   ".",
		Output: "build",
		Markup: Kind{
			Src:  []string{"src/**/*.{html,htm}"},
			Dest: "build",
		},
		Styles: Kind{
			Src:   []string{"src/scss/main.scss"},
			Watch: []string{"src/scss/**/*.scss"},
			Dest:  "build/css",
		},
		Scripts: Kind{
			Src:   []string{"src/js/app.js"},
			Watch: []string{"src/js/**/*.js"},
			Dest:  "build/js",
		},
		Fonts: Kind{
			Src:  []string{"node_modules/@fortawesome/fontawesome-free/webfonts/*.{eot,svg,woff,woff2,ttf}"},
			Dest: "build/fonts",
		},
		Targets: []string{"chrome58", "firefox57", "safari11", "edge16"},
		Sass: Sass{
			Binary: "sass",
		},
		Server: Server{
			BaseDir:    "build",
			Index:      "index.html",
			Host:       "localhost",
			Port:       7787,
			Tunnel:     true,
			LiveReload: true,
		},
		Watch: Watch{
			Debounce: 100 * time.Millisecond,
		},
		Favicon: Favicon{
			MasterPicture: "src/favicon/virus.svg",
			Dest:          "build/favicons",
			IconsPath:     "/favicons/",
			ManifestFile:  "faviconData.json",
			InjectInto:    []string{"src/index.html"},
			APIBaseURL:    "https://realfavicongenerator.net/api",
			Design:        DefaultDesign(),
			Settings:      DefaultSettings(),
		},
	}
}

// Load builds the configuration for the project rooted at root. The file at path
// is optional when it is the default file name; an explicitly named file must exist.
func Load(root, path string) (Config, error) {
	cfg := Default()
	if root != "" {
		cfg.Root = root
	}

	if path == "" {
		path = DefaultFile
	}

	file := path
	if !filepath.IsAbs(file) {
		file = filepath.Join(cfg.Root, file)
	}

	data, err := os.ReadFile(file)
	switch {
	case errors.Is(err, os.ErrNotExist) && path == DefaultFile:
		// defaults only
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config %s: %w", file, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", file, err)
		}
	}

	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return Config{}, err
	}
	cfg.Root = abs

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Path resolves p against the project root.
func (c Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

// Validate checks the configuration keeps every task inside its own output
// directory so concurrent tasks never write the same files.
func (c Config) Validate() error {
	if c.Output == "" {
		return errors.New("output directory is required")
	}

	kinds := map[string]Kind{
		"markup":  c.Markup,
		"styles":  c.Styles,
		"scripts": c.Scripts,
		"fonts":   c.Fonts,
	}
	for name, k := range kinds {
		if len(k.Src) == 0 {
			return fmt.Errorf("%s: at least one source pattern is required", name)
		}
		if k.Dest == "" {
			return fmt.Errorf("%s: destination is required", name)
		}
		if !c.within(k.Dest) {
			return fmt.Errorf("%s: destination %s is outside output %s", name, k.Dest, c.Output)
		}
	}
	if c.Favicon.Dest == "" || !c.within(c.Favicon.Dest) {
		return fmt.Errorf("favicon: destination %q must be inside output %s", c.Favicon.Dest, c.Output)
	}

	// markup writes html files at its destination, every other kind owns a
	// directory of its own which must not contain another kind's directory
	owned := map[string]string{
		"styles":   c.Styles.Dest,
		"scripts":  c.Scripts.Dest,
		"fonts":    c.Fonts.Dest,
		"favicons": c.Favicon.Dest,
	}
	for a, da := range owned {
		if c.rel(da) == "." {
			return fmt.Errorf("%s: destination must be a subdirectory of output %s", a, c.Output)
		}
		for b, db := range owned {
			if a == b {
				continue
			}
			if isWithin(c.Path(db), c.Path(da)) {
				return fmt.Errorf("%s and %s destinations overlap", a, b)
			}
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	if c.Server.Index == "" {
		return errors.New("server: index document is required")
	}

	return nil
}

func (c Config) within(p string) bool {
	return isWithin(c.Path(p), c.Path(c.Output))
}

func (c Config) rel(p string) string {
	r, err := filepath.Rel(c.Path(c.Output), c.Path(p))
	if err != nil {
		return ""
	}
	return r
}

func isWithin(p, dir string) bool {
	r, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return r == "." || (r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator)))
}
