package commands

import (
	"context"

	"github.com/wolfeidau/sitepipe/internal/assets"
)

type GenerateFaviconCmd struct{}

func (c *GenerateFaviconCmd) Run(ctx context.Context, globals *Globals) error {
	return runTask(ctx, globals, assets.TaskFavicon)
}

type InjectFaviconMarkupCmd struct{}

func (c *InjectFaviconMarkupCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	return s.Inject()
}

// CheckFaviconUpdateCmd fails when the favicon service has published changes
// since the icons were generated, so it can gate CI.
type CheckFaviconUpdateCmd struct{}

func (c *CheckFaviconUpdateCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	_, err = s.CheckFaviconUpdate(ctx)
	return err
}
