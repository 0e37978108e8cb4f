package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"
	"github.com/rs/zerolog/log"
)

// SassCompiler turns a SCSS or indented Sass file into CSS.
type SassCompiler interface {
	Compile(ctx context.Context, path string, includePaths []string, sourceMap bool) (css string, sourceMapJSON string, err error)
}

// DartSass compiles through a Dart Sass process speaking the embedded
// protocol. The process is started on first use and reused until Close.
type DartSass struct {
	binary  string
	timeout time.Duration

	mu         sync.Mutex
	transpiler *godartsass.Transpiler
}

func NewDartSass(binary string) *DartSass {
	return &DartSass{binary: binary, timeout: 30 * time.Second}
}

func (d *DartSass) Compile(ctx context.Context, path string, includePaths []string, sourceMap bool) (string, string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}

	t, err := d.start()
	if err != nil {
		return "", "", err
	}

	syntax := godartsass.SourceSyntaxSCSS
	if strings.EqualFold(filepath.Ext(path), ".sass") {
		syntax = godartsass.SourceSyntaxSASS
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}

	type result struct {
		res godartsass.Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := t.Execute(godartsass.Args{
			Source:          string(src),
			URL:             (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(),
			SourceSyntax:    syntax,
			OutputStyle:     godartsass.OutputStyleCompressed,
			IncludePaths:    append([]string{filepath.Dir(abs)}, includePaths...),
			EnableSourceMap: sourceMap,
		})
		done <- result{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", "", fmt.Errorf("sass: %w", r.err)
		}
		return r.res.CSS, r.res.SourceMap, nil
	}
}

func (d *DartSass) start() (*godartsass.Transpiler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transpiler != nil {
		return d.transpiler, nil
	}

	if d.binary == "" {
		return nil, errors.New("sass binary is not configured")
	}

	t, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: d.binary,
		Timeout:                  d.timeout,
		LogEventHandler: func(e godartsass.LogEvent) {
			log.Warn().Str("compiler", "sass").Msg(e.Message)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start sass compiler %s: %w", d.binary, err)
	}

	d.transpiler = t
	return t, nil
}

// Close stops the compiler process.
func (d *DartSass) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transpiler == nil {
		return nil
	}
	err := d.transpiler.Close()
	d.transpiler = nil
	return err
}
