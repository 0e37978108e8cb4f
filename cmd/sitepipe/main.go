package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/sitepipe/cmd/sitepipe/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug         bool   `help:"Enable debug mode."`
		Config        string `help:"Project configuration file, optional unless set explicitly." default:"sitepipe.yaml" env:"SITEPIPE_CONFIG"`
		Root          string `help:"Project root directory." default:"." env:"SITEPIPE_ROOT"`
		Telemetry     bool   `help:"Export traces and metrics over OTLP." default:"false" env:"SITEPIPE_TELEMETRY"`
		FaviconAPIKey string `help:"RealFaviconGenerator API key." env:"SITEPIPE_FAVICON_API_KEY"`
		Version       kong.VersionFlag

		Default             commands.DefaultCmd             `cmd:"" default:"withargs" help:"Build, watch and serve the site"`
		Build               commands.BuildCmd               `cmd:"" help:"Clean and build the site for production"`
		Clean               commands.CleanCmd               `cmd:"" help:"Remove the output directory"`
		BuildMarkup         commands.BuildMarkupCmd         `cmd:"" help:"Minify the HTML pages"`
		BuildStyles         commands.BuildStylesCmd         `cmd:"" help:"Compile the stylesheets"`
		BuildScripts        commands.BuildScriptsCmd        `cmd:"" help:"Bundle the scripts"`
		MoveFonts           commands.MoveFontsCmd           `cmd:"" help:"Copy the web fonts"`
		GenerateFavicon     commands.GenerateFaviconCmd     `cmd:"" help:"Generate the favicon set"`
		InjectFaviconMarkup commands.InjectFaviconMarkupCmd `cmd:"" help:"Inject the favicon markup into the pages"`
		CheckFaviconUpdate  commands.CheckFaviconUpdateCmd  `cmd:"" help:"Check for favicon service updates"`
		Watch               commands.WatchCmd               `cmd:"" help:"Rebuild on source changes"`
		Serve               commands.ServeCmd               `cmd:"" help:"Serve the output with live reload"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("sitepipe"),
		kong.Description("Static site asset pipeline with a live reloading dev server."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:         cli.Debug,
		Version:       version,
		Config:        cli.Config,
		Root:          cli.Root,
		Telemetry:     cli.Telemetry,
		FaviconAPIKey: cli.FaviconAPIKey,
	})
	cmd.FatalIfErrorf(err)
}
