// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	Port           string `koanf:"port" yaml:"port"`
	LogLevel       string `koanf:"log_level" yaml:"log_level"`
	GRPCHealthAddr string `koanf:"grpc_health_addr" yaml:"grpc_health_addr"`

	WhatsApp        WhatsAppConfig        `koanf:"whatsapp" yaml:"whatsapp"`
	AI              AIConfig              `koanf:"ai" yaml:"ai"`
	Store           StoreConfig           `koanf:"store" yaml:"store"`
	Relay           RelayConfig           `koanf:"relay" yaml:"relay"`
	ConversationLog ConversationLogConfig `koanf:"conversation_log" yaml:"conversation_log"`
	Admin           AdminConfig           `koanf:"admin" yaml:"admin"`
}

// WhatsAppConfig holds the messaging API credentials and webhook secrets.
type WhatsAppConfig struct {
	Token         string `koanf:"token" yaml:"token"`
	PhoneNumberID string `koanf:"phone_number_id" yaml:"phone_number_id"`
	APIVersion    string `koanf:"api_version" yaml:"api_version"`
	BaseURL       string `koanf:"base_url" yaml:"base_url"`
	VerifyToken   string `koanf:"verify_token" yaml:"verify_token"`
	AppSecret     string `koanf:"app_secret" yaml:"app_secret"`
}

// AIConfig selects and configures the answer engine provider.
type AIConfig struct {
	Provider      string        `koanf:"provider" yaml:"provider"`
	GeminiAPIKey  string        `koanf:"gemini_api_key" yaml:"gemini_api_key"`
	GeminiModel   string        `koanf:"gemini_model" yaml:"gemini_model"`
	OpenAIAPIKey  string        `koanf:"openai_api_key" yaml:"openai_api_key"`
	OpenAIModel   string        `koanf:"openai_model" yaml:"openai_model"`
	OpenAIBaseURL string        `koanf:"openai_base_url" yaml:"openai_base_url"`
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout"`
	RatePerMinute int           `koanf:"rate_per_minute" yaml:"rate_per_minute"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver       string        `koanf:"driver" yaml:"driver"`
	Path         string        `koanf:"path" yaml:"path"`
	LogRetention time.Duration `koanf:"log_retention" yaml:"log_retention"`
}

// RelayConfig controls dispatcher behavior.
type RelayConfig struct {
	LoginRequired bool   `koanf:"login_required" yaml:"login_required"`
	ChunkSize     int    `koanf:"chunk_size" yaml:"chunk_size"`
	Timezone      string `koanf:"timezone" yaml:"timezone"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool   `koanf:"enabled" yaml:"enabled"`
	Dir       string `koanf:"dir" yaml:"dir"`
	QueueSize int    `koanf:"queue_size" yaml:"queue_size"`
}

// AdminConfig protects the operator activity feed.
type AdminConfig struct {
	Token string `koanf:"token" yaml:"token"`
}

// Recognized AI_PROVIDER values.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Recognized STORE_DRIVER values.
const (
	StoreSQLite = "sqlite"
	StoreJSON   = "json"
)

// envKeys maps environment variable names onto configuration keys.
var envKeys = map[string]string{
	"PORT":                        "port",
	"LOG_LEVEL":                   "log_level",
	"GRPC_HEALTH_ADDR":            "grpc_health_addr",
	"WHATSAPP_TOKEN":              "whatsapp.token",
	"PHONE_NUMBER_ID":             "whatsapp.phone_number_id",
	"WHATSAPP_API_VERSION":        "whatsapp.api_version",
	"WHATSAPP_API_BASE_URL":       "whatsapp.base_url",
	"VERIFY_TOKEN":                "whatsapp.verify_token",
	"APP_SECRET":                  "whatsapp.app_secret",
	"AI_PROVIDER":                 "ai.provider",
	"GEMINI_API_KEY":              "ai.gemini_api_key",
	"GEMINI_MODEL":                "ai.gemini_model",
	"OPENAI_API_KEY":              "ai.openai_api_key",
	"OPENAI_MODEL":                "ai.openai_model",
	"OPENAI_BASE_URL":             "ai.openai_base_url",
	"AI_TIMEOUT":                  "ai.timeout",
	"AI_RATE_PER_MINUTE":          "ai.rate_per_minute",
	"STORE_DRIVER":                "store.driver",
	"DB_PATH":                     "store.path",
	"LOG_RETENTION":               "store.log_retention",
	"LOGIN_REQUIRED":              "relay.login_required",
	"CHUNK_SIZE":                  "relay.chunk_size",
	"SESSION_TZ":                  "relay.timezone",
	"CONVERSATION_LOG_ENABLED":    "conversation_log.enabled",
	"CONVERSATION_LOG_DIR":        "conversation_log.dir",
	"CONVERSATION_LOG_QUEUE_SIZE": "conversation_log.queue_size",
	"ADMIN_TOKEN":                 "admin.token",
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Port:     "10000",
		LogLevel: "info",
		WhatsApp: WhatsAppConfig{
			APIVersion:  "v19.0",
			BaseURL:     "https://graph.facebook.com",
			VerifyToken: "REVENUE_BOT_AI_VERIFY",
		},
		AI: AIConfig{
			Provider:      ProviderGemini,
			GeminiModel:   "gemini-2.0-flash",
			OpenAIModel:   "gpt-4o-mini",
			Timeout:       60 * time.Second,
			RatePerMinute: 6,
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
			Path:   "./data/studyrelay.db",
		},
		Relay: RelayConfig{
			ChunkSize: 1500,
			Timezone:  "Local",
		},
		ConversationLog: ConversationLogConfig{
			Dir:       "./data/logs/conversations",
			QueueSize: 1000,
		},
	}
}

// Load layers defaults, the optional YAML file at path and the environment.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("access config %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps a known variable onto its key. Unknown and empty variables
// are skipped.
func envKey(name, value string) (string, interface{}) {
	key, ok := envKeys[name]
	if !ok || strings.TrimSpace(value) == "" {
		return "", nil
	}
	return key, strings.TrimSpace(value)
}

// Validate checks that configuration values are structurally valid.
// Missing credentials are reported by MissingCredentials instead.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid AI_PROVIDER %q: must be one of gemini, openai", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be > 0")
	}
	if c.AI.RatePerMinute < 0 {
		return fmt.Errorf("AI_RATE_PER_MINUTE must be >= 0")
	}
	switch c.Store.Driver {
	case StoreSQLite, StoreJSON:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be one of sqlite, json", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Store.LogRetention < 0 {
		return fmt.Errorf("LOG_RETENTION must be >= 0")
	}
	if c.Relay.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// MissingCredentials lists the required secrets that are empty.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.WhatsApp.Token == "" {
		missing = append(missing, "WHATSAPP_TOKEN")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "PHONE_NUMBER_ID")
	}
	if c.WhatsApp.VerifyToken == "" {
		missing = append(missing, "VERIFY_TOKEN")
	}
	switch c.AI.Provider {
	case ProviderOpenAI:
		if c.AI.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	default:
		if c.AI.GeminiAPIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	}
	return missing
}

// Location resolves the timezone used for session expiry.
func (c *Config) Location() (*time.Location, error) {
	if c.Relay.Timezone == "" || c.Relay.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Relay.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TZ %q: %w", c.Relay.Timezone, err)
	}
	return loc, nil
}

// Redacted returns a copy with every secret masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.WhatsApp.Token = mask(c.WhatsApp.Token)
	out.WhatsApp.AppSecret = mask(c.WhatsApp.AppSecret)
	out.WhatsApp.VerifyToken = mask(c.WhatsApp.VerifyToken)
	out.AI.GeminiAPIKey = mask(c.AI.GeminiAPIKey)
	out.AI.OpenAIAPIKey = mask(c.AI.OpenAIAPIKey)
	out.Admin.Token = mask(c.Admin.Token)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
