// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Chat transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port               string
	FrontendURL        string
	DBPath             string
	AllowedOrigins     []string
	LocationParam      string
	HealthCheckTimeout time.Duration
	Chat               ChatConfig
	Summary            SummaryConfig
	Timing             TimingConfig
	Clarifications     map[string]string
	PolicyPath         string
	ConversationLog    ConversationLogConfig
}

// ChatConfig selects and configures the chat endpoint transport.
type ChatConfig struct {
	Transport string
	URL       string
	GrpcAddr  string
	Timeout   time.Duration
}

// SummaryConfig points at the role-scoped summary backend.
type SummaryConfig struct {
	BaseURL string
	Timeout time.Duration
}

// TimingConfig holds the suggestion lifecycle delays.
type TimingConfig struct {
	AckDelay           time.Duration `yaml:"ack_delay"`
	NavigateDelay      time.Duration `yaml:"navigate_delay"`
	FollowUpDelay      time.Duration `yaml:"follow_up_delay"`
	MountFollowUpDelay time.Duration `yaml:"mount_follow_up_delay"`
	SupportDelay       time.Duration `yaml:"support_delay"`
	StaleWindow        time.Duration `yaml:"stale_window"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Policy is the optional YAML overlay for product copy and timings.
type Policy struct {
	Timing         TimingConfig      `yaml:"timing"`
	Clarifications map[string]string `yaml:"clarifications"`
}

// Load reads configuration from environment variables, then applies the
// policy file named by ASSIST_POLICY_PATH when set.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		FrontendURL:        getEnv("FRONTEND_URL", ""),
		DBPath:             getEnv("DB_PATH", "./data/assistant.db"),
		AllowedOrigins:     getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		LocationParam:      getEnv("LOCATION_PARAM", "tab"),
		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		Chat: ChatConfig{
			Transport: strings.ToLower(getEnv("CHAT_TRANSPORT", TransportHTTP)),
			URL:       getEnv("CHAT_URL", "http://localhost:8000/api/chat"),
			GrpcAddr:  getEnv("CHAT_GRPC_ADDR", "localhost:50051"),
			Timeout:   getEnvDuration("CHAT_TIMEOUT", 30*time.Second),
		},
		Summary: SummaryConfig{
			BaseURL: getEnv("SUMMARY_BASE_URL", ""),
			Timeout: getEnvDuration("SUMMARY_TIMEOUT", 10*time.Second),
		},
		Timing: TimingConfig{
			AckDelay:           getEnvDuration("ACK_DELAY", 1500*time.Millisecond),
			NavigateDelay:      getEnvDuration("NAVIGATE_DELAY", time.Second),
			FollowUpDelay:      getEnvDuration("FOLLOW_UP_DELAY", 30*time.Second),
			MountFollowUpDelay: getEnvDuration("MOUNT_FOLLOW_UP_DELAY", 2*time.Second),
			SupportDelay:       getEnvDuration("SUPPORT_DELAY", 2*time.Second),
			StaleWindow:        getEnvDuration("CONTEXT_STALE_WINDOW", 24*time.Hour),
		},
		PolicyPath: getEnv("ASSIST_POLICY_PATH", ""),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if cfg.PolicyPath != "" {
		if err := cfg.ApplyPolicyFile(cfg.PolicyPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyPolicyFile overlays the YAML policy at path. Zero durations and
// empty strings in the file leave the current values untouched.
func (c *Config) ApplyPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}
	c.ApplyPolicy(p)
	return nil
}

// ApplyPolicy overlays p onto the configuration.
func (c *Config) ApplyPolicy(p Policy) {
	overlay := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	overlay(&c.Timing.AckDelay, p.Timing.AckDelay)
	overlay(&c.Timing.NavigateDelay, p.Timing.NavigateDelay)
	overlay(&c.Timing.FollowUpDelay, p.Timing.FollowUpDelay)
	overlay(&c.Timing.MountFollowUpDelay, p.Timing.MountFollowUpDelay)
	overlay(&c.Timing.SupportDelay, p.Timing.SupportDelay)
	overlay(&c.Timing.StaleWindow, p.Timing.StaleWindow)

	for reason, text := range p.Clarifications {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if c.Clarifications == nil {
			c.Clarifications = make(map[string]string)
		}
		c.Clarifications[reason] = text
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	switch c.Chat.Transport {
	case TransportHTTP:
		if c.Chat.URL == "" {
			return errors.New("CHAT_URL cannot be empty when CHAT_TRANSPORT=http")
		}
	case TransportGRPC:
		if c.Chat.GrpcAddr == "" {
			return errors.New("CHAT_GRPC_ADDR cannot be empty when CHAT_TRANSPORT=grpc")
		}
	default:
		return fmt.Errorf("CHAT_TRANSPORT must be %q or %q, got %q", TransportHTTP, TransportGRPC, c.Chat.Transport)
	}
	if c.Timing.FollowUpDelay <= 0 || c.Timing.StaleWindow <= 0 {
		return errors.New("FOLLOW_UP_DELAY and CONTEXT_STALE_WINDOW must be > 0")
	}
	if c.Timing.FollowUpDelay >= c.Timing.StaleWindow {
		return errors.New("FOLLOW_UP_DELAY must be shorter than CONTEXT_STALE_WINDOW")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
