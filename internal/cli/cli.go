package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/city-events/internal/config"
	"github.com/pfrederiksen/city-events/internal/logger"
)

const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitNewEvents = 2
)

// app holds the state shared by all subcommands
type app struct {
	configPath string
	envFile    string
	logLevel   string
	verbose    bool

	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	cfg      *config.Config
	log      *logger.Logger
	exitCode int
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, now: time.Now}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newApp(os.Stdout, os.Stderr).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "city-events",
		Short: "Scrape live events for Indian cities from BookMyShow",
		Long: `A CLI tool that scrapes BookMyShow event listings city by city.
Each run merges the scraped events into the city's dataset for the day,
classifies them as Active, Upcoming or Expired and reports what is new.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file (defaults are used when empty)")
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Dotenv file with credentials, ignored when missing")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	cmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Enable verbose output and debug logging")

	cmd.AddCommand(
		a.runCmd(),
		a.citiesCmd(),
		a.listCmd(),
		a.exportCmd(),
		a.scheduleCmd(),
	)
	return cmd
}

// setup loads credentials and config and builds the logger
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	levelName := cfg.LogLevel
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	if a.verbose {
		levelName = string(logger.LevelDebug)
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return err
	}

	a.log = logger.New(level, a.errOut)
	logger.SetDefault(a.log)
	return nil
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout, os.Stderr)
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitError
	}
	return a.exitCode
}
