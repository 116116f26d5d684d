package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hunchunmed/leadbot/internal/api"
	"github.com/hunchunmed/leadbot/internal/genai"
	"github.com/hunchunmed/leadbot/internal/lockfile"
	"github.com/hunchunmed/leadbot/internal/store"
	"github.com/hunchunmed/leadbot/internal/util"
	"github.com/hunchunmed/leadbot/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for leadbot state data
	DefaultStateDir = "/var/lib/leadbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadbot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory: the override set and pending
	// follow-ups live in process memory.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping leadbot with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "genai", len(genaiOpts), "api", len(apiOpts))
	if err := api.Run(waOpts, storeOpts, genaiOpts, apiOpts); err != nil {
		slog.Error("leadbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("leadbot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DBDSN       string
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	Operator    string
	Channel     string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
	operator  *string
	channel   *string
}

// initializeLogger sets up structured logging. LOG_LEVEL=debug enables
// verbose output.
func initializeLogger() {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DBDSN:       os.Getenv("LEADBOT_DB_DSN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("LEADBOT_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		Operator:    os.Getenv("OPERATOR_NUMBER"),
		Channel:     os.Getenv("CHANNEL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.DBDSN == "" {
		config.DBDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as LEADBOT_DB_DSN")
		}
	}
	if config.DBDSN == "" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}

	slog.Debug("environment variables loaded",
		"LEADBOT_DB_DSN_SET", config.DBDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADBOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"OPERATOR_NUMBER_SET", config.Operator != "",
		"CHANNEL", config.Channel)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", util.ParseBoolEnv("NUMERIC_CODE", false), "use numeric login code instead of QR code (overrides $NUMERIC_CODE)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for leadbot data (overrides $LEADBOT_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DBDSN, "database DSN for the lead store and WhatsApp session (overrides $LEADBOT_DB_DSN or $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		operator:  flag.String("operator", config.Operator, "operator identity for notifications and takeovers (overrides $OPERATOR_NUMBER)"),
		channel:   flag.String("channel", config.Channel, "transport channel: whatsmeow or twilio (overrides $CHANNEL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"operator_set", *flags.operator != "",
		"channel", *flags.channel)

	// Follow the state directory when the DSN was derived from the default.
	if *flags.dbDSN == config.DBDSN && config.DBDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		slog.Debug("Configuring store backend", "dsn_type", store.DetectDSNType(*flags.dbDSN))
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.operator != "" {
		apiOpts = append(apiOpts, api.WithOperator(*flags.operator))
	}
	if *flags.channel != "" {
		apiOpts = append(apiOpts, api.WithChannel(*flags.channel))
	}
	return apiOpts
}
