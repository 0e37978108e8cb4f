package commands

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/assets"
)

type CleanCmd struct{}

func (c *CleanCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	return s.Clean()
}

type BuildMarkupCmd struct{}

func (c *BuildMarkupCmd) Run(ctx context.Context, globals *Globals) error {
	return runTask(ctx, globals, assets.TaskMarkup)
}

type BuildStylesCmd struct {
	Prod bool `help:"Build without source maps." default:"false"`
}

func (c *BuildStylesCmd) Run(ctx context.Context, globals *Globals) error {
	if c.Prod {
		return runTask(ctx, globals, assets.TaskStylesProd)
	}
	return runTask(ctx, globals, assets.TaskStylesDev)
}

type BuildScriptsCmd struct{}

func (c *BuildScriptsCmd) Run(ctx context.Context, globals *Globals) error {
	return runTask(ctx, globals, assets.TaskScripts)
}

type MoveFontsCmd struct{}

func (c *MoveFontsCmd) Run(ctx context.Context, globals *Globals) error {
	return runTask(ctx, globals, assets.TaskFonts)
}

type BuildCmd struct {
	SkipFavicon bool `help:"Do not generate favicons." default:"false" env:"SITEPIPE_SKIP_FAVICON"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	report, err := s.BuildPipeline(true, c.SkipFavicon).Run(ctx)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		return err
	}

	log.Info().Msg("Build complete")
	return nil
}
