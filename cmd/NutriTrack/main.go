package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/BTreeMap/NutriTrack/internal/api"
	"github.com/BTreeMap/NutriTrack/internal/genai"
	"github.com/BTreeMap/NutriTrack/internal/lockfile"
	"github.com/BTreeMap/NutriTrack/internal/store"
	"github.com/BTreeMap/NutriTrack/internal/twiliowhatsapp"
	"github.com/BTreeMap/NutriTrack/internal/util"
	"github.com/BTreeMap/NutriTrack/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for NutriTrack state data
	DefaultStateDir = "/var/lib/nutritrack"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "nutritrack.db"
	// DefaultSessionDBFileName is the default whatsmeow session database filename
	DefaultSessionDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()

	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One instance per state directory: the SQLite database and whatsmeow
	// session cannot be shared.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	twilioOpts := buildTwilioOptions(config)
	waOpts := buildWhatsAppOptions(flags)
	apiOpts := buildAPIOptions(flags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping NutriTrack with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "twilio", len(twilioOpts), "whatsapp", len(waOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "transport", *flags.transport)
	if err := api.Run(ctx, storeOpts, genaiOpts, twilioOpts, waOpts, apiOpts); err != nil {
		slog.Error("NutriTrack failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("NutriTrack exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL      string
	SessionDSN       string
	StateDir         string
	OpenAIKey        string
	APIAddr          string
	Transport        string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   *string
	numeric    *bool
	stateDir   *string
	dbDSN      *string
	sessionDSN *string
	openaiKey  *string
	apiAddr    *string
	transport  *string
}

// initializeLogger sets up structured logging; NUTRITRACK_DEBUG enables debug level
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("NUTRITRACK_DEBUG", false) {
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
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SessionDSN:       os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:         os.Getenv("NUTRITRACK_STATE_DIR"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		Transport:        os.Getenv("NUTRITRACK_TRANSPORT"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No NUTRITRACK_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("NUTRITRACK_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// The whatsmeow session store gets its own database file
	if config.SessionDSN == "" {
		config.SessionDSN = filepath.Join(config.StateDir, DefaultSessionDBFileName)
	}

	if config.Transport == "" {
		config.Transport = api.TransportTwilio
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.SessionDSN != "",
		"NUTRITRACK_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"NUTRITRACK_TRANSPORT", config.Transport,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.TwilioAuthToken != "",
		"TWILIO_FROM_NUMBER_SET", config.TwilioFromNumber != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:   flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for NutriTrack data (overrides $NUTRITRACK_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the meal store (overrides $DATABASE_URL)"),
		sessionDSN: flag.String("session-db-dsn", config.SessionDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		transport:  flag.String("transport", config.Transport, "messaging transport: twilio or whatsapp (overrides $NUTRITRACK_TRANSPORT)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"sessionDSN_set", *flags.sessionDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"transport", *flags.transport)

	// Follow a moved state directory when the DSNs were derived from the default
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
			slog.Debug("Updated db-dsn based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.sessionDSN == filepath.Join(config.StateDir, DefaultSessionDBFileName) {
			*flags.sessionDSN = filepath.Join(*flags.stateDir, DefaultSessionDBFileName)
			slog.Debug("Updated session-db-dsn based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
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

// buildTwilioOptions constructs Twilio client configuration options
func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var twilioOpts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		twilioOpts = append(twilioOpts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return twilioOpts
}

// buildWhatsAppOptions constructs whatsmeow transport configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.sessionDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.sessionDSN))
	}
	return waOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.transport != "" {
		apiOpts = append(apiOpts, api.WithTransport(strings.ToLower(strings.TrimSpace(*flags.transport))))
	}
	return apiOpts
}
