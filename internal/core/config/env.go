package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Environment variables understood by Load. CHECK_INTERVAL is in
// milliseconds; the other durations accept Go duration syntax.
const (
	EnvGitHubToken      = "GITHUB_TOKEN"
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvRepoOwner        = "REPO_OWNER"
	EnvRepoName         = "REPO_NAME"
	EnvBranch           = "BRANCH"
	EnvCheckInterval    = "CHECK_INTERVAL"
	EnvDryRun           = "DRY_RUN"
	EnvMaxActions       = "MAX_ACTIONS"
	EnvMaxFileSizeBytes = "MAX_FILE_SIZE_BYTES"
	EnvUsePullRequest   = "USE_PULL_REQUEST"
	EnvPort             = "PORT"
	EnvGeminiModel      = "GEMINI_MODEL"
	EnvWebhookSecret    = "WEBHOOK_SECRET"
	EnvActionDelay      = "ACTION_DELAY"
)

// applyEnv overrides file values with any set environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str(EnvGitHubToken, &c.GitHub.Token)
	str(EnvGeminiAPIKey, &c.Gemini.APIKey)
	str(EnvRepoOwner, &c.GitHub.Owner)
	str(EnvRepoName, &c.GitHub.Repo)
	str(EnvBranch, &c.GitHub.Branch)
	str(EnvGeminiModel, &c.Gemini.Model)
	str(EnvWebhookSecret, &c.Server.WebhookSecret)

	var errs []string
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	num(EnvMaxActions, &c.Engine.MaxActions)
	num(EnvMaxFileSizeBytes, &c.Engine.MaxFileSizeBytes)
	num(EnvPort, &c.Server.Port)

	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			// only the literal "true" enables a flag
			*dst = strings.EqualFold(strings.TrimSpace(v), "true")
		}
	}
	flag(EnvDryRun, &c.Engine.DryRun)
	flag(EnvUsePullRequest, &c.Engine.UsePullRequest)

	if v, ok := lookup(EnvCheckInterval); ok && v != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %q is not a millisecond count", EnvCheckInterval, v))
		} else {
			c.Bot.CheckInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := lookup(EnvActionDelay); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", EnvActionDelay, err))
		} else {
			c.Engine.ActionDelay = d
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}
