package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ricardorosenberg/tikun/internal/api"
	"github.com/ricardorosenberg/tikun/internal/auth"
	"github.com/ricardorosenberg/tikun/internal/config"
	"github.com/ricardorosenberg/tikun/internal/metrics"
)

const (
	serviceName    = "tikun"
	serviceVersion = "1.0.0"
)

// errUsage marks a command line error; usage has already been printed
var errUsage = errors.New("invalid usage")

// app holds the components shared by every command
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	tokens     *auth.TokenStore
	client     *api.Client
	auth       *auth.Provider
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) error
}

var commands = []command{
	{"listen", "listen for trained sounds and raise alerts (default)", runListen},
	{"train", "record or upload a labeled training clip", runTrain},
	{"sounds", "manage sounds: list, add, set, rm", runSounds},
	{"detections", "show detection history", runDetections},
	{"signup", "create an account", runSignUp},
	{"login", "sign in and store the access token", runLogin},
	{"logout", "remove the stored access token", runLogout},
	{"forgot", "request a password reset email", runForgot},
	{"reset", "set a new password with a reset token", runReset},
	{"verify", "verify an email address", runVerify},
	{"clip", "print information about a WAV clip", runClip},
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (defaults plus TIKUN_* overrides when empty)")
	flag.Usage = usage
	flag.Parse()

	name := "listen"
	args := flag.Args()
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}

	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	if err := cmd.run(a, args); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		a.logger.Error("Command failed",
			slog.String("command", cmd.name),
			slog.String("error", err.Error()),
		)
		a.close()
		os.Exit(1)
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [-config file] <command> [flags]\n\nCommands:\n", serviceName)
	for _, c := range commands {
		fmt.Fprintf(out, "  %-11s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(out, "\nGlobal flags:")
	flag.PrintDefaults()
}

// newApp loads configuration and builds the logger, metrics and API client
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	tokens, err := auth.NewTokenStore(cfg.Auth.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	client, err := api.NewClient(api.Config{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       cfg.API.GetTimeoutDuration(),
		MaxRetries:    cfg.API.MaxRetries,
		MaxConcurrent: cfg.API.MaxConcurrent,
		UserAgent:     serviceName + "/" + serviceVersion,
	}, api.WithTokenSource(tokens), api.WithObserver(appMetrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return &app{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		registry:   registry,
		metrics:    appMetrics,
		tokens:     tokens,
		client:     client,
		auth:       auth.NewProvider(client, tokens, logger),
	}, nil
}

func (a *app) close() {
	if err := a.client.Close(); err != nil {
		a.logger.Warn("Error closing API client", slog.String("error", err.Error()))
	}
}

// newFlagSet creates a sub-command flag set that reports errors instead of exiting
func newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s %s %s\n", serviceName, name, args)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// required checks that every named flag was given a non-empty value
func required(fs *flag.FlagSet, names ...string) error {
	var missing []string
	for _, name := range names {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(fs.Output(), "Missing required flags: %s\n", strings.Join(missing, ", "))
		fs.Usage()
		return errUsage
	}
	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Command output goes to stdout, so logs default to stderr
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
