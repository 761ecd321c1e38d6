// Package config handles configuration loading and validation for issuebot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Engine   EngineConfig   `yaml:"engine"`
	Retry    RetryConfig    `yaml:"retry"`
	Bot      BotConfig      `yaml:"bot"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// GitHubConfig selects the repository and credentials.
type GitHubConfig struct {
	Token   string        `yaml:"token"`
	Owner   string        `yaml:"owner"`
	Repo    string        `yaml:"repo"`
	Branch  string        `yaml:"branch"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// GeminiConfig configures the planning model.
type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EngineConfig holds the plan execution limits.
type EngineConfig struct {
	MaxActions       int           `yaml:"max_actions"`
	MaxFileSizeBytes int           `yaml:"max_file_size_bytes"`
	ActionDelay      time.Duration `yaml:"action_delay"`
	DryRun           bool          `yaml:"dry_run"`
	UsePullRequest   bool          `yaml:"use_pull_request"`
	BranchPrefix     string        `yaml:"branch_prefix"`
	ProtectedPaths   []string      `yaml:"protected_paths"`
	CommitTemplate   string        `yaml:"commit_template"`
}

// RetryConfig configures the shared outbound retry policy. MaxAttempts counts
// the first attempt.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// BotConfig controls polling and prompt construction.
type BotConfig struct {
	CheckInterval     time.Duration  `yaml:"check_interval"`
	ItemTimeout       time.Duration  `yaml:"item_timeout"`
	MaxMentionedFiles int            `yaml:"max_mentioned_files"`
	SystemPrompt      string         `yaml:"system_prompt"` // template, see bot.PromptData
	Vars              map[string]any `yaml:"vars"`
	VarsFiles         []string       `yaml:"vars_files"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// DatabaseConfig locates the run history database.
type DatabaseConfig struct {
	Path string `yaml:"path"` // defaults to <data_dir>/issuebot.db
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GitHub: GitHubConfig{
			Branch:  "main",
			APIURL:  "https://api.github.com",
			Timeout: 30 * time.Second,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			BaseURL:     "https://generativelanguage.googleapis.com",
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
		Engine: EngineConfig{
			MaxActions:       20,
			MaxFileSizeBytes: 200000,
			ActionDelay:      time.Second,
			BranchPrefix:     "ai-bot/",
			ProtectedPaths:   []string{".git/**"},
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   800 * time.Millisecond,
		},
		Bot: BotConfig{
			CheckInterval:     5 * time.Minute,
			ItemTimeout:       10 * time.Minute,
			MaxMentionedFiles: 15,
		},
		Server: ServerConfig{
			Port: 10000,
		},
	}
}

// Load reads configuration from the given path, applies environment
// overrides and sets the data directory. A missing file yields defaults.
func Load(configPath, dataDir string) (*Config, error) {
	return load(configPath, dataDir, os.LookupEnv)
}

func load(configPath, dataDir string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	if len(cfg.Bot.VarsFiles) > 0 {
		vars, err := loadVarsFiles(filepath.Dir(configPath), cfg.Bot.VarsFiles)
		if err != nil {
			return nil, err
		}
		if cfg.Bot.Vars == nil {
			cfg.Bot.Vars = map[string]any{}
		}
		// inline vars win over file vars
		mergeMaps(vars, cfg.Bot.Vars)
		cfg.Bot.Vars = vars
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = defaults.GitHub.Branch
	}
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = defaults.GitHub.APIURL
	}
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = defaults.GitHub.Timeout
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaults.Gemini.Model
	}
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = defaults.Gemini.BaseURL
	}
	if c.Gemini.Timeout == 0 {
		c.Gemini.Timeout = defaults.Gemini.Timeout
	}
	if c.Engine.MaxActions == 0 {
		c.Engine.MaxActions = defaults.Engine.MaxActions
	}
	if c.Engine.MaxFileSizeBytes == 0 {
		c.Engine.MaxFileSizeBytes = defaults.Engine.MaxFileSizeBytes
	}
	if c.Engine.BranchPrefix == "" {
		c.Engine.BranchPrefix = defaults.Engine.BranchPrefix
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if c.Bot.CheckInterval == 0 {
		c.Bot.CheckInterval = defaults.Bot.CheckInterval
	}
	if c.Bot.ItemTimeout == 0 {
		c.Bot.ItemTimeout = defaults.Bot.ItemTimeout
	}
	if c.Bot.MaxMentionedFiles == 0 {
		c.Bot.MaxMentionedFiles = defaults.Bot.MaxMentionedFiles
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Database.Path == "" && c.DataDir != "" {
		c.Database.Path = filepath.Join(c.DataDir, "issuebot.db")
	}
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Repository returns "owner/repo".
func (c *Config) Repository() string {
	return c.GitHub.Owner + "/" + c.GitHub.Repo
}
