package commands

import (
	"context"

	"github.com/rs/zerolog/log"
)

type WatchCmd struct{}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	sup, err := s.Watch(ctx)
	if err != nil {
		return err
	}
	<-sup.Done()

	return nil
}

type ServeCmd struct{}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	return s.Serve(ctx)
}

// DefaultCmd cleans, builds everything, then watches and serves until
// interrupted. Task failures are logged and do not stop the dev server.
type DefaultCmd struct {
	SkipFavicon bool `help:"Do not generate favicons." default:"false" env:"SITEPIPE_SKIP_FAVICON"`
}

func (c *DefaultCmd) Run(ctx context.Context, globals *Globals) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	report, err := s.DefaultPipeline(c.SkipFavicon).Run(ctx)
	if err != nil {
		return err
	}
	for name, failure := range report.Failures {
		log.Warn().Err(failure).Str("stage", name).Msg("Stage failed during startup")
	}

	return nil
}
