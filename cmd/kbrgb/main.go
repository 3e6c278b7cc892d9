package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kbrgb-controller/internal/agent"
	"kbrgb-controller/internal/config"
	"kbrgb-controller/internal/core"
	"kbrgb-controller/internal/tui"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	hold := flag.Bool("hold", false, "keep an animated effect running until interrupted")
	headless := flag.Bool("headless", false, "run the daemon without the terminal UI")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 && args[0] == "version" {
		fmt.Printf("kbrgb %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	interactive := len(args) == 0 && !*headless
	closeLog, err := setupLogging(cfg.Log, interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.Open(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to start controller")
		closeLog()
		os.Exit(1)
	}

	switch {
	case len(args) > 0:
		err = runOnce(ctx, a, cfg, args, *hold)
	case *headless:
		log.Info().Str("version", version).Str("commit", commit).Msg("Starting kbrgb daemon")
		a.Serve()
		select {
		case <-ctx.Done():
		case <-a.Done():
		}
		log.Info().Msg("Shutting down...")
	default:
		err = runUI(ctx, a, cfg)
	}

	a.Shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: kbrgb [flags] [command]

Commands:
  brightness N                  set the brightness level
  speed N                       set the animation speed
  effect NAME [left|right] [SCRIPT]
  color ZONE|all COLOR          COLOR is #RRGGBB or r,g,b
  key ZONE                      feed a key press to the reactive effect
  save NAME                     store the current state as a profile
  load NAME                     apply a stored profile
  profiles                      list stored profiles
  scripts                       list effect scripts
  version

Without a command the terminal UI starts.

Flags:
`)
	flag.PrintDefaults()
}

// runOnce applies one command. The result becomes the default profile so the
// next start restores it.
func runOnce(ctx context.Context, a *agent.Agent, cfg *config.Config, args []string, hold bool) error {
	switch args[0] {
	case "profiles":
		names, err := a.ListProfiles()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(names, "\n"))
		return nil
	case "scripts":
		names, err := a.ListScripts()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(names, "\n"))
		return nil
	case "save", "load":
		if len(args) != 2 {
			return fmt.Errorf("%w: %s needs a profile name", core.ErrInvalidCommand, args[0])
		}
		if args[0] == "save" {
			return a.SaveProfile(ctx, args[1])
		}
		if err := a.LoadProfile(ctx, args[1], true); err != nil {
			return err
		}
		return holdEffect(ctx, a, hold)
	}

	cmd, err := core.ParseCommand(args)
	if err != nil {
		return err
	}
	if cmd.Type == core.CmdSetEffect {
		err = a.SetEffect(ctx, cmd.Effect, cmd.Direction, cmd.Script)
	} else {
		_, err = a.Call(ctx, cmd)
	}
	if err != nil {
		return err
	}

	if err := a.SaveProfile(ctx, cfg.Profiles.Default); err != nil {
		return fmt.Errorf("remember state: %w", err)
	}
	return holdEffect(ctx, a, hold)
}

// holdEffect restarts an animated effect halted by the profile save and runs
// it until the process is interrupted.
func holdEffect(ctx context.Context, a *agent.Agent, hold bool) error {
	if !hold {
		return nil
	}
	s, err := a.Call(ctx, core.SaveProfile())
	if err != nil || !s.Effect.Animated() {
		return err
	}
	if err := a.SetEffect(ctx, s.Effect, s.Direction, s.Script); err != nil {
		return err
	}
	log.Info().Str("effect", string(s.Effect)).Msg("Holding effect, press Ctrl-C to stop")
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	return nil
}

func runUI(ctx context.Context, a *agent.Agent, cfg *config.Config) error {
	a.Serve()
	ui, err := tui.New(a, cfg.Profiles.Default)
	if err != nil {
		return err
	}
	defer ui.Close()
	ui.Run(ctx)
	return nil
}

// setupLogging configures the global logger. The terminal UI owns the screen,
// so interactive runs log to the configured file instead.
func setupLogging(cfg config.LogConfig, interactive bool) (func(), error) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	closeLog := func() {}
	if interactive {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
		closeLog = func() { f.Close() }
	}

	if cfg.JSON {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors || interactive,
		})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return closeLog, nil
}
