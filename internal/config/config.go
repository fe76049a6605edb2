package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the signaling core.
type Config struct {
	// Required variables
	Port string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	// Redis (internal/bus) — cross-instance broadcast fan-out
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Auth (internal/auth) — optional bearer-token gate in front of /ws.
	// Disabled by default for local development; never used as peer identity.
	AuthEnabled  bool
	AuthIssuer   string
	AuthAudience string
	AuthJWKSURL  string

	AllowedOrigins string

	// Rate limits
	RateLimitWsIP          string
	RateLimitWsUser        string
	RateLimitSignalingUser string

	// Media worker facade (internal/mediaworker)
	MediaWorkerCount  int
	RTPPortMin        int
	RTPPortMax        int
	RouterCodecs      []string // e.g. "audio/opus", "video/VP8"
	WebRTCListenAddr  string
	WebRTCAnnounced   string
	WebRTCEnableUDP   bool
	WebRTCEnableTCP   bool
	WebRTCPreferUDP   bool
	WebRTCMinBitrate  int
	WebRTCMaxBitrate  int
	ICEServers        []string
	SignalingPingTTL  time.Duration
	SignalingPingTick time.Duration
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Conditional: AUTH_ISSUER/AUTH_AUDIENCE (required if AUTH_ENABLED=true)
	cfg.AuthEnabled = os.Getenv("AUTH_ENABLED") == "true"
	if cfg.AuthEnabled {
		cfg.AuthIssuer = os.Getenv("AUTH_ISSUER")
		cfg.AuthAudience = os.Getenv("AUTH_AUDIENCE")
		cfg.AuthJWKSURL = os.Getenv("AUTH_JWKS_URL") // empty = derived from issuer
		if cfg.AuthIssuer == "" {
			errs = append(errs, "AUTH_ISSUER is required when AUTH_ENABLED=true")
		}
		if cfg.AuthAudience == "" {
			errs = append(errs, "AUTH_AUDIENCE is required when AUTH_ENABLED=true")
		}
	}

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Rate limits
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")
	cfg.RateLimitSignalingUser = getEnvOrDefault("RATE_LIMIT_SIGNALING_PEER", "300-M")

	// Media worker facade config
	cfg.MediaWorkerCount = getEnvIntOrDefault("MEDIA_WORKER_COUNT", 1, &errs)
	cfg.RTPPortMin = getEnvIntOrDefault("RTP_PORT_MIN", 40000, &errs)
	cfg.RTPPortMax = getEnvIntOrDefault("RTP_PORT_MAX", 49999, &errs)
	if cfg.RTPPortMin > 0 && cfg.RTPPortMax > 0 && cfg.RTPPortMin >= cfg.RTPPortMax {
		errs = append(errs, fmt.Sprintf("RTP_PORT_MIN (%d) must be less than RTP_PORT_MAX (%d)", cfg.RTPPortMin, cfg.RTPPortMax))
	}
	cfg.RouterCodecs = splitOrDefault("ROUTER_CODECS", []string{"audio/opus", "video/VP8"})
	cfg.WebRTCListenAddr = getEnvOrDefault("WEBRTC_LISTEN_ADDR", "0.0.0.0")
	cfg.WebRTCAnnounced = os.Getenv("WEBRTC_ANNOUNCED_ADDR") // empty = same as listen
	cfg.WebRTCEnableUDP = os.Getenv("WEBRTC_ENABLE_UDP") != "false"
	cfg.WebRTCEnableTCP = os.Getenv("WEBRTC_ENABLE_TCP") == "true"
	cfg.WebRTCPreferUDP = os.Getenv("WEBRTC_PREFER_UDP") != "false"
	cfg.WebRTCMinBitrate = getEnvIntOrDefault("WEBRTC_MIN_BITRATE", 100_000, &errs)
	cfg.WebRTCMaxBitrate = getEnvIntOrDefault("WEBRTC_MAX_BITRATE", 2_500_000, &errs)
	cfg.ICEServers = splitOrDefault("ICE_SERVERS", []string{"stun:stun.l.google.com:19302"})

	pingTTL, err := time.ParseDuration(getEnvOrDefault("SIGNALING_PING_TIMEOUT", "20s"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("SIGNALING_PING_TIMEOUT must be a valid duration: %v", err))
	}
	cfg.SignalingPingTTL = pingTTL

	pingTick, err := time.ParseDuration(getEnvOrDefault("SIGNALING_PING_INTERVAL", "10s"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("SIGNALING_PING_INTERVAL must be a valid duration: %v", err))
	}
	cfg.SignalingPingTick = pingTick

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"auth_enabled", cfg.AuthEnabled,
		"auth_issuer", cfg.AuthIssuer,
		"media_worker_count", cfg.MediaWorkerCount,
		"rtp_port_range", fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax),
		"router_codecs", cfg.RouterCodecs,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, raw))
		return defaultValue
	}
	return val
}

func splitOrDefault(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
