package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/pkg/tmpl"
)

// CommitTemplateData mirrors the fields available to engine.commit_template.
type CommitTemplateData struct {
	Verb        string
	Kind        string
	Path        string
	Description string
	Issue       int
	Degraded    bool
}

// Validate checks the structural validity of the configuration. It does not
// require credentials so that offline commands can run.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("github.branch", c.GitHub.Branch, required),
		criterio.Run("github.api_url", c.GitHub.APIURL, required),
		criterio.Run("gemini.model", c.Gemini.Model, required),
		criterio.Run("engine.max_actions", c.Engine.MaxActions, atLeast(1)),
		criterio.Run("engine.max_file_size_bytes", c.Engine.MaxFileSizeBytes, atLeast(1)),
		criterio.Run("engine.action_delay", c.Engine.ActionDelay, nonNegative),
		criterio.Run("engine.protected_paths", c.Engine.ProtectedPaths, plan.ValidatePatterns),
		criterio.Run("engine.commit_template", c.Engine.CommitTemplate, validateCommitTemplate),
		criterio.Run("retry.max_attempts", c.Retry.MaxAttempts, atLeast(1)),
		criterio.Run("retry.base_delay", c.Retry.BaseDelay, nonNegative),
		criterio.Run("bot.check_interval", c.Bot.CheckInterval, atLeastDuration(time.Second)),
		criterio.Run("bot.item_timeout", c.Bot.ItemTimeout, nonNegative),
		criterio.Run("bot.max_mentioned_files", c.Bot.MaxMentionedFiles, atLeast(0)),
		criterio.Run("bot.system_prompt", c.Bot.SystemPrompt, validateSyntax),
		criterio.Run("server.port", c.Server.Port, portRange),
	)
}

// ValidateCredentials checks the values required before any work item can be
// processed against GitHub.
func (c *Config) ValidateCredentials() error {
	return criterio.ValidateStruct(
		c.ValidateGitHub(),
		criterio.Run("gemini.api_key", c.Gemini.APIKey, requiredEnv(EnvGeminiAPIKey)),
	)
}

// ValidateGitHub checks only the repository credentials, for commands that
// never call the planner.
func (c *Config) ValidateGitHub() error {
	return criterio.ValidateStruct(
		criterio.Run("github.token", c.GitHub.Token, requiredEnv(EnvGitHubToken)),
		criterio.Run("github.owner", c.GitHub.Owner, requiredEnv(EnvRepoOwner)),
		criterio.Run("github.repo", c.GitHub.Repo, requiredEnv(EnvRepoName)),
	)
}

// ValidateDeep performs Validate plus file system checks on the config file,
// data directory and vars files.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
		c.validateVarsFiles(configPath),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

func (c *Config) validateVarsFiles(configPath string) error {
	var errs criterio.FieldErrorsBuilder
	for i, file := range c.Bot.VarsFiles {
		if _, err := os.Stat(resolvePath(filepath.Dir(configPath), file)); err != nil {
			errs = errs.Append(fmt.Sprintf("bot.vars_files[%d]", i), fmt.Errorf("file not found: %s", file))
		}
	}
	return errs.ToError()
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return errors.New("exists but is not a directory")
	}
	return nil
}

func required(v string) error {
	if v == "" {
		return errors.New("is required")
	}
	return nil
}

func requiredEnv(env string) func(string) error {
	return func(v string) error {
		if v == "" {
			return fmt.Errorf("is required (set %s)", env)
		}
		return nil
	}
}

func atLeast(n int) func(int) error {
	return func(v int) error {
		if v < n {
			return fmt.Errorf("must be at least %d", n)
		}
		return nil
	}
}

func atLeastDuration(min time.Duration) func(time.Duration) error {
	return func(v time.Duration) error {
		if v < min {
			return fmt.Errorf("must be at least %s", min)
		}
		return nil
	}
}

func nonNegative(v time.Duration) error {
	if v < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func portRange(v int) error {
	if v < 1 || v > 65535 {
		return errors.New("must be between 1 and 65535")
	}
	return nil
}

func validateSyntax(s string) error {
	if s == "" {
		return nil
	}
	if _, err := tmpl.Parse(s); err != nil {
		return fmt.Errorf("template error: %w", err)
	}
	return nil
}

func validateCommitTemplate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := tmpl.Render(s, CommitTemplateData{Verb: "Create", Kind: "create_file", Path: "a.txt", Issue: 1}); err != nil {
		return fmt.Errorf("template error: %w", err)
	}
	return nil
}
