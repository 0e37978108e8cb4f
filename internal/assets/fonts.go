package assets

import (
	"context"
	"fmt"
)

// CopyTask copies every resolved source file into its destination unchanged.
type CopyTask struct {
	name     string
	patterns []*Pattern
	dest     string
}

// NewCopyTask creates a copy task for the src globs relative to root.
func NewCopyTask(name, root string, src []string, dest string) (*CopyTask, error) {
	patterns, err := CompilePatterns(root, src)
	if err != nil {
		return nil, err
	}
	return &CopyTask{name: name, patterns: patterns, dest: dest}, nil
}

func (t *CopyTask) Name() string { return t.name }

func (t *CopyTask) Stale(source string) []string {
	return staleOutputs(t.patterns, t.dest, source, "")
}

func (t *CopyTask) Run(ctx context.Context) (*Result, error) {
	matches, err := Resolve(t.patterns)
	if err != nil {
		return nil, err
	}

	res := &Result{Task: t.name}
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := outputPath(t.dest, m, "")
		if err := copyFile(m.Path, out); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", m.Path, err)
		}
		res.Outputs = append(res.Outputs, out)
	}

	return res, nil
}
