package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/sitepipe/internal/config"
	"github.com/wolfeidau/sitepipe/internal/logger"
	"github.com/wolfeidau/sitepipe/internal/site"
	"github.com/wolfeidau/sitepipe/internal/telemetry"
)

type Globals struct {
	Debug         bool
	Version       string
	Config        string
	Root          string
	Telemetry     bool
	FaviconAPIKey string
}

// openSite sets up logging and telemetry, loads the project configuration and
// builds the site. The returned func releases everything it started.
func openSite(ctx context.Context, globals *Globals, opts ...site.Option) (*site.Site, func(), error) {
	logger.Setup(globals.Debug)

	shutdown := func(context.Context) error { return nil }
	if globals.Telemetry {
		fn, err := telemetry.Init(ctx, "sitepipe", globals.Version)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialise telemetry: %w", err)
		}
		shutdown = fn
	}

	cfg, err := config.Load(globals.Root, globals.Config)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, err
	}
	if globals.FaviconAPIKey != "" {
		cfg.Favicon.APIKey = globals.FaviconAPIKey
	}

	log.Debug().Str("root", cfg.Root).Str("output", cfg.Output).Msg("Configuration loaded")

	s, err := site.New(cfg, opts...)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, err
	}

	closer := func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close site")
		}
		if err := shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to shutdown telemetry")
		}
	}

	return s, closer, nil
}

// runTask opens the site and runs a single registered task.
func runTask(ctx context.Context, globals *Globals, task string) error {
	s, closer, err := openSite(ctx, globals)
	if err != nil {
		return err
	}
	defer closer()

	return s.Run(ctx, task)
}
