package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Search   Search   `yaml:"search"`
	Scrape   Scrape   `yaml:"scrape"`
	Digest   Digest   `yaml:"digest"`
	LLM      LLM      `yaml:"llm"`
	Cache    Cache    `yaml:"cache"`
	Output   Output   `yaml:"output"`
	Logging  Logging  `yaml:"logging"`
}

type Server struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	APIKeyEnv           string `yaml:"api_key_env"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

type Database struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URLEnv string `yaml:"url_env"`
}

type Search struct {
	Provider          string   `yaml:"provider"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	EngineIDEnv       string   `yaml:"engine_id_env"`
	NewsAPIKeyEnv     string   `yaml:"newsapi_key_env"`
	FeedURL           string   `yaml:"feed_url"`
	TimeoutSeconds    int      `yaml:"timeout_seconds"`
	WindowDelayMillis int      `yaml:"window_delay_ms"`
	ResultsPerWindow  int      `yaml:"results_per_window"`
	PriorityPerWindow int      `yaml:"priority_per_window"`
	MaxSnippets       int      `yaml:"max_snippets"`
	MaxImages         int      `yaml:"max_images"`
	BlockedDomains    []string `yaml:"blocked_domains"`
	PaywallDomains    []string `yaml:"paywall_domains"`
}

type Scrape struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	Concurrency    int    `yaml:"concurrency"`
}

type Digest struct {
	MaxTokens          int `yaml:"max_tokens"`
	CharsPerToken      int `yaml:"chars_per_token"`
	MaxCharsPerSource  int `yaml:"max_chars_per_source"`
	MinSliceChars      int `yaml:"min_slice_chars"`
	UpdateContentChars int `yaml:"update_content_chars"`
}

type LLM struct {
	Provider        string  `yaml:"provider"`
	Model           string  `yaml:"model"`
	BaseURL         string  `yaml:"base_url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Temperature     float32 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	UpdateMaxTokens int     `yaml:"update_max_tokens"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

type Cache struct {
	RedisAddrEnv     string `yaml:"redis_addr_env"`
	RedisPasswordEnv string `yaml:"redis_password_env"`
	RedisDB          int    `yaml:"redis_db"`
	TTLSeconds       int    `yaml:"ttl_seconds"`
	TitleTTLSeconds  int    `yaml:"title_ttl_seconds"`
	Channel          string `yaml:"channel"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for deadline.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "deadline")
}

// DataDir returns the XDG data directory for deadline.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "deadline")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/deadline/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'deadline init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, _ := parse(nil)
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Host:                "127.0.0.1",
			Port:                8000,
			APIKeyEnv:           "DEADLINE_API_KEY",
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 180,
		},
		Database: Database{
			Driver: "sqlite",
			URLEnv: "DATABASE_URL",
		},
		Search: Search{
			Provider:          "google",
			APIKeyEnv:         "GOOGLE_API_KEY",
			EngineIDEnv:       "GOOGLE_SEARCH_ENGINE_ID",
			NewsAPIKeyEnv:     "NEWSAPI_KEY",
			FeedURL:           "https://news.google.com/rss/search",
			TimeoutSeconds:    10,
			WindowDelayMillis: 500,
			ResultsPerWindow:  10,
			PriorityPerWindow: 8,
			MaxSnippets:       20,
			MaxImages:         8,
			BlockedDomains: []string{
				"tiktok.com", "pinterest.com", "facebook.com", "twitter.com",
				"instagram.com", "youtube.com", "reddit.com",
			},
			PaywallDomains: []string{"nytimes.com", "wsj.com", "ft.com"},
		},
		Scrape: Scrape{
			TimeoutSeconds: 12,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			MaxBodyBytes:   5 << 20,
			Concurrency:    8,
		},
		Digest: Digest{
			MaxTokens:          12000,
			CharsPerToken:      4,
			MaxCharsPerSource:  3000,
			MinSliceChars:      100,
			UpdateContentChars: 3000,
		},
		LLM: LLM{
			Provider:        "groq",
			Model:           "llama-3.3-70b-versatile",
			APIKeyEnv:       "GROQ_API_KEY",
			Temperature:     0.1,
			MaxTokens:       8000,
			UpdateMaxTokens: 4000,
			TimeoutSeconds:  15,
		},
		Cache: Cache{
			RedisAddrEnv:     "REDIS_ADDR",
			RedisPasswordEnv: "REDIS_PASSWORD",
			TTLSeconds:       3600,
			TitleTTLSeconds:  86400,
			Channel:          "deadline:revalidate",
		},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite file path, defaulting into the data directory.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.GetDataDir(), "deadline.db")
}

// APIKey returns the shared secret required by protected endpoints.
func (c *Config) APIKey() string {
	return os.Getenv(c.Server.APIKeyEnv)
}

func (s Search) Timeout() time.Duration { return seconds(s.TimeoutSeconds, 10) }
func (s Search) WindowDelay() time.Duration { return time.Duration(s.WindowDelayMillis) * time.Millisecond }
func (s Scrape) Timeout() time.Duration { return seconds(s.TimeoutSeconds, 12) }
func (l LLM) Timeout() time.Duration { return seconds(l.TimeoutSeconds, 15) }
func (c Cache) TTL() time.Duration { return seconds(c.TTLSeconds, 3600) }
func (c Cache) TitleTTL() time.Duration { return seconds(c.TitleTTLSeconds, 86400) }
func (s Server) ReadTimeout() time.Duration { return seconds(s.ReadTimeoutSeconds, 15) }
func (s Server) WriteTimeout() time.Duration { return seconds(s.WriteTimeoutSeconds, 180) }

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
