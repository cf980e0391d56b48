package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/buildkite/pkgsign/internal/commands"
	"github.com/buildkite/pkgsign/internal/console"
	"github.com/buildkite/pkgsign/internal/trace"
)

var (
	version           = "dev"
	defaultConfigPath = ".pkgsign.yml"

	cli struct {
		Version       kong.VersionFlag
		Debug         bool            `help:"Enable debug mode." default:"false" env:"PKGSIGN_DEBUG"`
		TraceExporter string          `flag:"trace-exporter" help:"The trace exporter to use. Defaults to 'noop'." default:"noop" enum:"noop,grpc" env:"PKGSIGN_TRACE_EXPORTER"`
		Config        kong.ConfigFlag `flag:"config" help:"The path to a configuration file. .pkgsign.yml is read when present." env:"PKGSIGN_CONFIG"`

		commands.CommonFlags

		Publish commands.PublishCmd `cmd:"" help:"Zip, upload and sign run-from-package artifacts."`
		Sign    commands.SignCmd    `cmd:"" help:"Print read-only URLs for existing blobs."`
		Verify  commands.VerifyCmd  `cmd:"" help:"Download a package through a signed URL and check it."`
	}
)

func main() {
	ctx := context.Background()

	parser, err := newParser(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	err = Run(ctx, cmd, os.Stdout)
	cmd.FatalIfErrorf(err)
}

func newParser(ctx context.Context, options ...kong.Option) (*kong.Kong, error) {
	vars := kong.Vars{"version": version, "default_config_path": defaultConfigPath}
	for k, v := range commands.Vars() {
		vars[k] = v
	}

	// Overloads `cli` with configuration file values, missing files are skipped.
	options = append([]kong.Option{
		vars,
		kong.Configuration(kongyaml.Loader, defaultConfigPath),
		kong.BindTo(ctx, (*context.Context)(nil)),
	}, options...)

	return kong.New(&cli, options...)
}

func Run(ctx context.Context, cmd *kong.Context, stdout io.Writer) error {
	start := time.Now()

	if cli.Debug {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(zerolog.WarnLevel)
	}

	tp, err := trace.NewProvider(ctx, cli.TraceExporter, "github.com/buildkite/pkgsign", version)
	if err != nil {
		return fmt.Errorf("failed to create trace provider: %w", err)
	}
	defer func() {
		_ = tp.Shutdown(ctx)
	}()

	globals := &commands.Globals{
		Debug:   cli.Debug,
		Version: version,
		Printer: console.NewPrinter(os.Stderr),
		Stdout:  stdout,
		Common:  cli.CommonFlags,
	}

	// verify only needs the URL it was given
	if !strings.HasPrefix(cmd.Command(), "verify") {
		globals.Authorizer, err = commands.NewAuthorizer(ctx, cli.CommonFlags, version)
		if err != nil {
			return fmt.Errorf("failed to create authorizer: %w", err)
		}
	}

	err = cmd.Run(globals)
	if err != nil {
		return fmt.Errorf("command %s failed: %w", cmd.Command(), err)
	}

	globals.Printer.Info("✅", "%s completed successfully in %s", cmd.Command(), time.Since(start).String())

	return nil
}
