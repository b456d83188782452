package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// ApprovalConfig holds approval gate settings.
type ApprovalConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	WebhookURL    string
}

// SchedulerConfig holds scheduler settings.
type SchedulerConfig struct {
	Retention      time.Duration
	ResyncInterval time.Duration
}

// CapabilityConfig holds capability backend settings. An empty URL puts the
// daemon in dry-run mode: actions are simulated and every tier check passes.
type CapabilityConfig struct {
	URL   string
	Token string
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Approval   ApprovalConfig
	Scheduler  SchedulerConfig
	Capability CapabilityConfig

	StateDir      string
	UseUTC        bool
	ShutdownGrace time.Duration
	Mode          string
}

const (
	defaultAddr           = "0.0.0.0:7080"
	defaultLogLevel       = "info"
	defaultShutdownGrace  = 5 * time.Second
	defaultApprovalTTL    = 24 * time.Hour
	defaultApprovalSweep  = 5 * time.Minute
	defaultRetention      = 30 * 24 * time.Hour
	defaultResyncInterval = 5 * time.Minute
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultVal
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	// Load .env file if exists (silent fail if not present)
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "agentcron", ".env"))
	}
	_ = godotenv.Load(envFiles...) // Ignore error - file is optional

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("AGENTCRON_ADDR", defaultAddr),
			AuthToken: getEnvString("AGENTCRON_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("AGENTCRON_LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("AGENTCRON_LOG_FORMAT", "text"),
		},
		Approval: ApprovalConfig{
			TTL:           getEnvDuration("AGENTCRON_APPROVAL_TTL", defaultApprovalTTL),
			SweepInterval: getEnvDuration("AGENTCRON_APPROVAL_SWEEP", defaultApprovalSweep),
			WebhookURL:    getEnvString("AGENTCRON_WEBHOOK_URL", ""),
		},
		Scheduler: SchedulerConfig{
			Retention:      getEnvDuration("AGENTCRON_EXECUTION_RETENTION", defaultRetention),
			ResyncInterval: getEnvDuration("AGENTCRON_RESYNC_INTERVAL", defaultResyncInterval),
		},
		Capability: CapabilityConfig{
			URL:   getEnvString("AGENTCRON_CAPABILITY_URL", ""),
			Token: getEnvString("AGENTCRON_CAPABILITY_TOKEN", ""),
		},
		StateDir:      getEnvString("AGENTCRON_STATE_DIR", ""),
		UseUTC:        getEnvBool("AGENTCRON_USE_UTC", true),
		ShutdownGrace: getEnvDuration("AGENTCRON_SHUTDOWN_GRACE", defaultShutdownGrace),
		Mode:          getEnvString("AGENTCRON_MODE", "http"),
	}

	// Define CLI flags (these will override environment variables)
	var addr, logLevel, stateDir, mode string
	var useUTC bool
	var shutdownGrace, approvalTTL, retention time.Duration

	flag.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	flag.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&mode, "mode", "", "Serving mode: http, mcp or both")
	flag.BoolVar(&useUTC, "use-utc", true, "Use UTC for schedule evaluation instead of system local time")
	flag.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	flag.DurationVar(&approvalTTL, "approval-ttl", 0, "How long a pending approval stays answerable")
	flag.DurationVar(&retention, "execution-retention", 0, "How long finished executions are kept")

	flag.Parse()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if approvalTTL > 0 {
		cfg.Approval.TTL = approvalTTL
	}
	if retention > 0 {
		cfg.Scheduler.Retention = retention
	}
	// For bool flags, check if explicitly set via flag.Visit
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.UseUTC = useUTC
		case "shutdown-grace":
			cfg.ShutdownGrace = shutdownGrace
		}
	})

	switch cfg.Mode {
	case "http", "mcp", "both":
	default:
		return nil, fmt.Errorf("invalid mode %q (valid: http, mcp, both)", cfg.Mode)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	return cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "agentcron")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
