package assets

import (
	"context"
)

// Task is a named source to output transformation. Configuration is closed over
// at construction; every Run resolves its sources again.
type Task interface {
	Name() string
	Run(ctx context.Context) (*Result, error)
}

// Result lists the files written by one task invocation.
type Result struct {
	Task    string
	Outputs []string
}

// Pruner is implemented by tasks that map each source file to its own outputs.
// Stale returns the outputs a removed source file left behind.
type Pruner interface {
	Stale(source string) []string
}

// Notifier is told about files a task wrote, the dev server uses it to refresh
// connected browsers.
type Notifier interface {
	Reload(paths ...string)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) (*Result, error)
}

func (t TaskFunc) Name() string { return t.TaskName }

func (t TaskFunc) Run(ctx context.Context) (*Result, error) { return t.Fn(ctx) }

// Task names registered by the site.
const (
	TaskMarkup     = "markup"
	TaskStylesDev  = "styles:dev"
	TaskStylesProd = "styles:prod"
	TaskScripts    = "scripts"
	TaskFonts      = "fonts"
	TaskFavicon    = "favicon"
)
