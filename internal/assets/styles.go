package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// StylesOptions configures a stylesheet task.
type StylesOptions struct {
	Name string
	Root string
	Src  []string
	Dest string
	// Browser targets used for vendor prefixing, e.g. "safari11"
	Targets      []string
	IncludePaths []string
	SourceMap    bool
	Sass         SassCompiler
}

// StylesTask compiles SCSS with Dart Sass, bundles plain CSS imports, adds vendor
// prefixes for the configured targets and minifies the result.
type StylesTask struct {
	opts     StylesOptions
	patterns []*Pattern
	engines  []api.Engine
}

func NewStylesTask(opts StylesOptions) (*StylesTask, error) {
	patterns, err := CompilePatterns(opts.Root, opts.Src)
	if err != nil {
		return nil, err
	}
	engines, err := parseEngines(opts.Targets)
	if err != nil {
		return nil, err
	}
	return &StylesTask{opts: opts, patterns: patterns, engines: engines}, nil
}

func (t *StylesTask) Name() string { return t.opts.Name }

func (t *StylesTask) Run(ctx context.Context) (*Result, error) {
	matches, err := Resolve(t.patterns)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no stylesheets match %v", t.opts.Src)
	}

	var outputs []outputFile
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out := outputPath(t.opts.Dest, m, ".css")

		var code, sourceMap []byte
		switch strings.ToLower(filepath.Ext(m.Path)) {
		case ".scss", ".sass":
			code, sourceMap, err = t.compileSass(ctx, m.Path)
		default:
			code, sourceMap, err = t.bundleCSS(m.Path, out)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Path, err)
		}

		if t.opts.SourceMap && len(sourceMap) > 0 {
			code = append(code, fmt.Sprintf("/*# sourceMappingURL=%s.map */\n", filepath.Base(out))...)
			outputs = append(outputs, outputFile{path: out + ".map", data: sourceMap})
		}
		outputs = append(outputs, outputFile{path: out, data: code})
	}

	return writeOutputs(t.opts.Name, outputs)
}

func (t *StylesTask) compileSass(ctx context.Context, path string) ([]byte, []byte, error) {
	if t.opts.Sass == nil {
		return nil, nil, errors.New("no sass compiler configured")
	}

	css, sourceMap, err := t.opts.Sass.Compile(ctx, path, t.opts.IncludePaths, t.opts.SourceMap)
	if err != nil {
		return nil, nil, err
	}

	// esbuild chains an inline input map into the one it generates
	if t.opts.SourceMap && sourceMap != "" {
		css += "\n/*# sourceMappingURL=data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(sourceMap)) + " */\n"
	}

	result := api.Transform(css, api.TransformOptions{
		Loader:           api.LoaderCSS,
		Sourcefile:       path,
		Engines:          t.engines,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		Sourcemap:        cond(t.opts.SourceMap, api.SourceMapExternal, api.SourceMapNone),
		LegalComments:    api.LegalCommentsNone,
	})
	if len(result.Errors) > 0 {
		return nil, nil, esbuildError(result.Errors)
	}

	return result.Code, result.Map, nil
}

func (t *StylesTask) bundleCSS(path, out string) ([]byte, []byte, error) {
	result := api.Build(api.BuildOptions{
		EntryPoints:      []string{path},
		Outfile:          out,
		Bundle:           true,
		Write:            false,
		Engines:          t.engines,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LegalComments:    api.LegalCommentsNone,
		Sourcemap:        cond(t.opts.SourceMap, api.SourceMapExternal, api.SourceMapNone),
		Plugins:          []api.Plugin{urlPassthroughPlugin()},
		LogLevel:         api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return nil, nil, esbuildError(result.Errors)
	}

	var code, sourceMap []byte
	for _, f := range result.OutputFiles {
		switch {
		case strings.HasSuffix(f.Path, ".map"):
			sourceMap = f.Contents
		case strings.HasSuffix(f.Path, ".css"):
			code = f.Contents
		}
	}
	if code == nil {
		return nil, nil, errors.New("esbuild produced no stylesheet")
	}

	return code, sourceMap, nil
}

// urlPassthroughPlugin leaves url() references for the browser to resolve
// against the served stylesheet. @import rules are still bundled.
func urlPassthroughPlugin() api.Plugin {
	return api.Plugin{
		Name: "url-passthrough",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Kind != api.ResolveCSSURLToken {
						return api.OnResolveResult{}, nil
					}
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				})
		},
	}
}

var targetPattern = regexp.MustCompile(`^([a-z]+)([0-9][0-9.]*)$`)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// parseEngines converts targets such as "safari11" into esbuild engines.
func parseEngines(targets []string) ([]api.Engine, error) {
	engines := make([]api.Engine, 0, len(targets))
	for _, target := range targets {
		parts := targetPattern.FindStringSubmatch(strings.ToLower(target))
		if parts == nil {
			return nil, fmt.Errorf("invalid browser target %q", target)
		}
		name, ok := engineNames[parts[1]]
		if !ok {
			return nil, fmt.Errorf("unsupported browser %q", parts[1])
		}
		engines = append(engines, api.Engine{Name: name, Version: parts[2]})
	}
	return engines, nil
}

func esbuildError(msgs []api.Message) error {
	errs := make([]error, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			errs = append(errs, fmt.Errorf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
			continue
		}
		errs = append(errs, errors.New(msg.Text))
	}
	return errors.Join(errs...)
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
