package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the voxctl server.
// Precedence: CLI flags > env vars > .env files > defaults.
type Config struct {
	HTTPPort  int
	LogLevel  string
	LogFormat string

	// Telephony provider credentials. The webhook secret falls back to
	// the API secret when not set separately.
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	WebhookSecret    string
	CallerID         string

	MaxEvents        int
	ControlAuthToken string
	RateLimitPerMin  int

	// Conversational UX thresholds for the voice pipeline observer.
	ProcessingDelayAckMS   int
	UserSilenceRepromptMS  int
	UserSilenceCloseMS     int
	MaxCallDurationSeconds int

	// Base URL the observer uses to POST hangup requests back to the
	// control surface. Defaults to this process when empty.
	ControlPlaneURL string

	Scenario    string
	ScenarioDir string
}

// defaults
const (
	defaultHTTPPort              = 8000
	defaultLogLevel              = "info"
	defaultLogFormat             = "text"
	defaultCallerID              = "+3197010206472"
	defaultMaxEvents             = 10000
	defaultRateLimitPerMin       = 120
	defaultProcessingDelayAckMS  = 900
	defaultUserSilenceRepromptMS = 7000
	defaultUserSilenceCloseMS    = 14000
	defaultScenario              = "default"
	defaultScenarioDir           = "./scenarios"
)

// envPrefix is the prefix for voxctl-specific environment variables.
// Provider credentials and UX thresholds keep their unprefixed names for
// compatibility with existing deployments.
const envPrefix = "VOXCTL_"

// Load parses configuration from CLI flags, environment variables and
// optional .env files. Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	loadDotenv()

	cfg := &Config{}

	fs := flag.NewFlagSet("voxctl", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.LiveKitURL, "livekit-url", "", "LiveKit server URL (e.g. wss://example.livekit.cloud)")
	fs.StringVar(&cfg.LiveKitAPIKey, "livekit-api-key", "", "LiveKit API key")
	fs.StringVar(&cfg.LiveKitAPISecret, "livekit-api-secret", "", "LiveKit API secret")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", "", "secret for webhook signature verification (defaults to the API secret)")
	fs.StringVar(&cfg.CallerID, "caller-id", defaultCallerID, "caller id presented on outbound calls")
	fs.IntVar(&cfg.MaxEvents, "max-events", defaultMaxEvents, "capacity of the in-memory event store")
	fs.StringVar(&cfg.ControlAuthToken, "control-auth-token", "", "static bearer token for the control API (empty disables auth)")
	fs.IntVar(&cfg.RateLimitPerMin, "rate-limit-per-min", defaultRateLimitPerMin, "per-IP request limit per minute on the control API")
	fs.IntVar(&cfg.ProcessingDelayAckMS, "processing-delay-ack-ms", defaultProcessingDelayAckMS, "delay before acknowledging slow agent responses, in ms")
	fs.IntVar(&cfg.UserSilenceRepromptMS, "user-silence-reprompt-ms", defaultUserSilenceRepromptMS, "user silence before the agent reprompts, in ms")
	fs.IntVar(&cfg.UserSilenceCloseMS, "user-silence-close-ms", defaultUserSilenceCloseMS, "total user silence before the agent closes the call, in ms")
	fs.IntVar(&cfg.MaxCallDurationSeconds, "max-call-duration-s", 0, "maximum call duration in seconds (0 disables the guard)")
	fs.StringVar(&cfg.ControlPlaneURL, "control-plane-url", "", "base URL for observer hangup requests (defaults to this process)")
	fs.StringVar(&cfg.Scenario, "scenario", defaultScenario, "default conversation scenario name")
	fs.StringVar(&cfg.ScenarioDir, "scenario-dir", defaultScenarioDir, "directory holding scenario definition files")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// loadDotenv loads .env_local and .env when present. Values already in
// the environment are not overridden.
func loadDotenv() {
	for _, name := range []string{".env_local", ".env"} {
		if _, err := os.Stat(name); err == nil {
			_ = godotenv.Load(name)
		}
	}
}

// applyEnvOverrides checks environment variables for any flag that was
// not explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name. Provider and UX threshold names
	// are part of the deployment contract and carry no prefix.
	envMap := map[string]string{
		"http-port":                envPrefix + "HTTP_PORT",
		"log-level":                envPrefix + "LOG_LEVEL",
		"log-format":               envPrefix + "LOG_FORMAT",
		"livekit-url":              "LIVEKIT_URL",
		"livekit-api-key":          "LIVEKIT_API_KEY",
		"livekit-api-secret":       "LIVEKIT_API_SECRET",
		"webhook-secret":           "WEBHOOK_SECRET",
		"caller-id":                "CALLER_ID",
		"max-events":               envPrefix + "MAX_EVENTS",
		"control-auth-token":       envPrefix + "CONTROL_AUTH_TOKEN",
		"rate-limit-per-min":       envPrefix + "RATE_LIMIT_PER_MIN",
		"processing-delay-ack-ms":  "VP_PROCESSING_DELAY_ACK_MS",
		"user-silence-reprompt-ms": "VP_USER_SILENCE_REPROMPT_MS",
		"user-silence-close-ms":    "VP_USER_SILENCE_CLOSE_MS",
		"max-call-duration-s":      "MAX_CALL_DURATION_SECONDS",
		"control-plane-url":        "CONTROL_PLANE_URL",
		"scenario":                 "AGENT_SCENARIO",
		"scenario-dir":             envPrefix + "SCENARIO_DIR",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "livekit-url":
			cfg.LiveKitURL = val
		case "livekit-api-key":
			cfg.LiveKitAPIKey = val
		case "livekit-api-secret":
			cfg.LiveKitAPISecret = val
		case "webhook-secret":
			cfg.WebhookSecret = val
		case "caller-id":
			cfg.CallerID = val
		case "max-events":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxEvents = v
			}
		case "control-auth-token":
			cfg.ControlAuthToken = val
		case "rate-limit-per-min":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateLimitPerMin = v
			}
		case "processing-delay-ack-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ProcessingDelayAckMS = v
			}
		case "user-silence-reprompt-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.UserSilenceRepromptMS = v
			}
		case "user-silence-close-ms":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.UserSilenceCloseMS = v
			}
		case "max-call-duration-s":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxCallDurationSeconds = v
			}
		case "control-plane-url":
			cfg.ControlPlaneURL = val
		case "scenario":
			cfg.Scenario = val
		case "scenario-dir":
			cfg.ScenarioDir = val
		}
	}
}

// validate checks that the config values are sane and fills derived
// defaults.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	var missing []string
	if c.LiveKitURL == "" {
		missing = append(missing, "LIVEKIT_URL")
	}
	if c.LiveKitAPIKey == "" {
		missing = append(missing, "LIVEKIT_API_KEY")
	}
	if c.LiveKitAPISecret == "" {
		missing = append(missing, "LIVEKIT_API_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.WebhookSecret == "" {
		c.WebhookSecret = c.LiveKitAPISecret
	}

	if c.RateLimitPerMin < 1 {
		return fmt.Errorf("rate-limit-per-min must be at least 1, got %d", c.RateLimitPerMin)
	}
	if c.UserSilenceRepromptMS < 1 {
		return fmt.Errorf("user-silence-reprompt-ms must be positive, got %d", c.UserSilenceRepromptMS)
	}
	if c.UserSilenceCloseMS < 1 {
		return fmt.Errorf("user-silence-close-ms must be positive, got %d", c.UserSilenceCloseMS)
	}

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate
// format (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log
// level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
