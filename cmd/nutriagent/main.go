// Command nutriagent runs the nutrition analysis and chat pipelines from the terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/bububa/nutrition-agents/config"
)

type CLI struct {
	Analyze  AnalyzeCmd  `cmd:"" help:"Analyze a meal photo and stream the run events as JSON lines."`
	Chat     ChatCmd     `cmd:"" help:"Ask the nutrition assistant; reads messages from stdin when --message is empty."`
	Index    IndexCmd    `cmd:"" help:"Ingest knowledge files or URLs into the index."`
	Search   SearchCmd   `cmd:"" help:"Search the knowledge index."`
	Targets  TargetsCmd  `cmd:"" help:"Compute daily energy and macro targets for a profile."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path" env:"NUTRIAGENT_CONFIG"`
	LogLevel  string `help:"Log level (debug, info, warn, error); overrides the config file."`
	LogFormat string `help:"Log format (text, json); overrides the config file."`
}

// load reads the configuration and applies the logging flags
func (c *CLI) load() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Log.Format = c.LogFormat
	}
	return cfg, cfg.Validate()
}

// services builds the runtime services and serves metrics when enabled.
// The returned function releases them.
func (c *CLI) services(ctx context.Context) (*config.Services, func(), error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	svc, err := cfg.Build(ctx, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(svc.Logger)
	var srv *http.Server
	if svc.Metrics != nil {
		srv = &http.Server{Addr: cfg.Observability.Metrics.Addr, Handler: svc.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				svc.Logger.Error("metrics server stopped", slog.String("error", err.Error()))
			}
		}()
	}
	return svc, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
		if err := svc.Close(shutdownCtx); err != nil {
			svc.Logger.Warn("close services", slog.String("error", err.Error()))
		}
	}, nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("nutriagent %s\n", version)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nutriagent"),
		kong.Description("AI nutrition analysis and chat pipelines"),
		kong.UsageOnError(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
