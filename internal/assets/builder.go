package assets

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

// ScriptsOptions configures a script bundle task.
type ScriptsOptions struct {
	Name      string
	Root      string
	Src       []string
	Dest      string
	Targets   []string
	Minify    bool
	SourceMap bool
}

// ScriptsTask bundles each entry point with esbuild, expanding include
// directives and ES imports into a single minified file.
type ScriptsTask struct {
	opts     ScriptsOptions
	patterns []*Pattern
	engines  []api.Engine
}

func NewScriptsTask(opts ScriptsOptions) (*ScriptsTask, error) {
	patterns, err := CompilePatterns(opts.Root, opts.Src)
	if err != nil {
		return nil, err
	}
	engines, err := parseEngines(opts.Targets)
	if err != nil {
		return nil, err
	}
	return &ScriptsTask{opts: opts, patterns: patterns, engines: engines}, nil
}

func (t *ScriptsTask) Name() string { return t.opts.Name }

// Run builds every entry point in memory and only writes once all succeeded.
func (t *ScriptsTask) Run(ctx context.Context) (*Result, error) {
	entryPoints, err := Resolve(t.patterns)
	if err != nil {
		return nil, err
	}
	if len(entryPoints) == 0 {
		return nil, fmt.Errorf("no entry points match %v", t.opts.Src)
	}

	var outputs []outputFile
	for _, m := range entryPoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.Debug().Str("task", t.opts.Name).Str("file", m.Path).Msg("Bundling script")

		result := api.Build(api.BuildOptions{
			EntryPoints:       []string{m.Path},
			Outfile:           outputPath(t.opts.Dest, m, ".js"),
			Bundle:            true,
			Write:             false,
			Format:            api.FormatIIFE,
			Engines:           t.engines,
			MinifyWhitespace:  t.opts.Minify,
			MinifyIdentifiers: t.opts.Minify,
			MinifySyntax:      t.opts.Minify,
			LegalComments:     api.LegalCommentsNone,
			Sourcemap:         cond(t.opts.SourceMap, api.SourceMapLinked, api.SourceMapNone),
			Plugins:           []api.Plugin{includePlugin()},
			LogLevel:          api.LogLevelSilent,
		})
		if len(result.Errors) > 0 {
			return nil, fmt.Errorf("%s: %w", m.Path, esbuildError(result.Errors))
		}
		for _, w := range result.Warnings {
			log.Warn().Str("task", t.opts.Name).Str("file", m.Path).Msg(w.Text)
		}

		for _, f := range result.OutputFiles {
			if !strings.HasSuffix(f.Path, ".js") && !strings.HasSuffix(f.Path, ".map") {
				continue
			}
			outputs = append(outputs, outputFile{path: f.Path, data: f.Contents})
		}
	}

	return writeOutputs(t.opts.Name, outputs)
}
