package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/0xdap/certsquat/pkg/config"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath     string
		patternFile    string
		seeds          []string
		output         string
		discordWebhook string
		slackWebhook   string
		sourceName     string
		certstreamURL  string
		ctlogListURL   string
		statusAddr     string
		dbPath         string
		mutationsDir   string
		resolve        bool
		quiet          bool
		logLevel       string
		showVersion    bool
		help           bool
	)

	flag.StringVarP(&patternFile, "file", "f", "", "File of domain patterns to watch, one per line")
	flag.StringArrayVarP(&seeds, "mutate", "m", nil, "Seed word to mutate into watch patterns (repeatable)")
	flag.StringVarP(&output, "output", "o", "", "Match log path")
	flag.StringVar(&discordWebhook, "discord-webhook", "", "Discord webhook URL for match notifications")
	flag.StringVar(&slackWebhook, "slack-webhook", "", "Slack webhook URL for match notifications")
	flag.StringVar(&sourceName, "source", "", "Certificate stream source (certstream or ctlog)")
	flag.StringVar(&certstreamURL, "certstream-url", "", "Certstream websocket URL")
	flag.StringVar(&ctlogListURL, "ctlog-list-url", "", "CT log list URL for the ctlog source")
	flag.StringVar(&statusAddr, "status-addr", "", "Listen address for the status API")
	flag.StringVar(&dbPath, "db", "", "SQLite database for match history")
	flag.StringVar(&mutationsDir, "mutations-dir", "", "Directory for per-seed mutation dump files")
	flag.BoolVar(&resolve, "resolve", false, "Resolve matched domains to A records")
	flag.BoolVar(&quiet, "quiet", false, "Disable console match output")
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.BoolVar(&help, "help", false, "Show help message")
	flag.Parse()

	if help {
		printUsage()
		return 0
	}

	if showVersion {
		fmt.Println("certsquat " + version)
		return 0
	}

	// An explicit config path must win before Load consults the
	// default locations.
	if configPath != "" {
		if err := os.Setenv("CERTSQUAT_CONFIG", configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting config path: %v\n", err)
			return 2
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 2
	}

	// Override config with command line flags. The watch list flags
	// replace their counterpart so a flag always wins over the file.
	if flag.CommandLine.Changed("file") {
		cfg.PatternFile = patternFile
		cfg.SeedWords = nil
	}
	if flag.CommandLine.Changed("mutate") {
		cfg.SeedWords = seeds
		cfg.PatternFile = ""
	}
	if flag.CommandLine.Changed("output") {
		cfg.Output = output
	}
	if flag.CommandLine.Changed("discord-webhook") {
		cfg.DiscordWebhook = discordWebhook
	}
	if flag.CommandLine.Changed("slack-webhook") {
		cfg.SlackWebhook = slackWebhook
	}
	if flag.CommandLine.Changed("source") {
		cfg.Source = sourceName
	}
	if flag.CommandLine.Changed("certstream-url") {
		cfg.CertstreamURL = certstreamURL
	}
	if flag.CommandLine.Changed("ctlog-list-url") {
		cfg.CTLogListURL = ctlogListURL
	}
	if flag.CommandLine.Changed("status-addr") {
		cfg.StatusAddr = statusAddr
	}
	if flag.CommandLine.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flag.CommandLine.Changed("mutations-dir") {
		cfg.MutationsDir = mutationsDir
	}
	if flag.CommandLine.Changed("resolve") {
		cfg.ResolveMatches = resolve
	}
	if flag.CommandLine.Changed("quiet") {
		cfg.Quiet = quiet
	}
	if flag.CommandLine.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 2
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Create dependencies
	deps, err := NewDependencies(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating dependencies: %v\n", err)
		return 2
	}
	defer deps.Close()

	// Create application
	app := NewApplication(deps)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	if err := app.Run(ctx); err != nil {
		logger.Error("certsquat failed", "error", err)
		code = 1
	}

	// Drain and flush before reading the final exit code so failures
	// during shutdown still count.
	deps.Close()
	if code == 0 {
		code = app.ExitCode()
	}
	return code
}

func printUsage() {
	fmt.Println("certsquat - watch certificate transparency streams for typosquats")
	fmt.Println()
	fmt.Println("Usage: certsquat [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  CERTSQUAT_PATTERN_FILE    File of domain patterns to watch")
	fmt.Println("  CERTSQUAT_SEED_WORDS      Seed words to mutate (comma-separated)")
	fmt.Println("  CERTSQUAT_OUTPUT          Match log path (default: matches.log)")
	fmt.Println("  CERTSQUAT_DB              SQLite database for match history")
	fmt.Println("  CERTSQUAT_SOURCE          Stream source: certstream or ctlog")
	fmt.Println("  CERTSQUAT_DISCORD_WEBHOOK Discord webhook URL")
	fmt.Println("  CERTSQUAT_SLACK_WEBHOOK   Slack webhook URL")
	fmt.Println("  CERTSQUAT_STATUS_ADDR     Listen address for the status API")
	fmt.Println("  CERTSQUAT_QUIET           Disable console match output (true/false)")
	fmt.Println("  CERTSQUAT_LOG_LEVEL       Log level (default: info)")
	fmt.Println("  CERTSQUAT_CONFIG          Path to config file")
	fmt.Println()
	fmt.Println("Configuration file: ~/.config/certsquat/config.yaml")
}
