package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

// MarkupTask minifies HTML documents, collapsing whitespace and minifying inline
// styles and scripts.
type MarkupTask struct {
	name     string
	patterns []*Pattern
	dest     string
	minifier *minify.M
}

func NewMarkupTask(name, root string, src []string, dest string) (*MarkupTask, error) {
	patterns, err := CompilePatterns(root, src)
	if err != nil {
		return nil, err
	}
	return &MarkupTask{
		name:     name,
		patterns: patterns,
		dest:     dest,
		minifier: newMinifier(),
	}, nil
}

func newMinifier() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepDefaultAttrVals: true,
	})
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	m.AddFuncRegexp(regexp.MustCompile("[/+]json$"), json.Minify)
	return m
}

func (t *MarkupTask) Name() string { return t.name }

func (t *MarkupTask) Stale(source string) []string {
	return staleOutputs(t.patterns, t.dest, source, "")
}

func (t *MarkupTask) Run(ctx context.Context) (*Result, error) {
	matches, err := Resolve(t.patterns)
	if err != nil {
		return nil, err
	}

	// minify everything before writing so a bad page leaves the previous build intact
	var (
		outputs []outputFile
		errs    []error
	)
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(m.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		min, err := t.minifier.Bytes("text/html", data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Path, err))
			continue
		}

		outputs = append(outputs, outputFile{path: outputPath(t.dest, m, ""), data: min})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return writeOutputs(t.name, outputs)
}
