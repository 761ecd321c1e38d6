package commands

import (
	"context"
	"errors"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/issuebot/pkg/iojson"
)

type ConfigValidateCmd struct {
	flags       *Flags
	format      string
	credentials bool
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "issuebot config validate [options]",
				Description: "Validates the configuration file, checking limits, templates, protected path globs and file paths.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
					&cli.BoolFlag{
						Name:        "credentials",
						Usage:       "also require the GitHub and Gemini credentials",
						Value:       true,
						Destination: &cmd.credentials,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

var errInvalidConfig = errors.New("config is invalid")

type validateOutput struct {
	Valid  bool         `json:"valid"`
	Config string       `json:"config"`
	Errors []fieldError `json:"errors,omitempty"`
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	err := cfg.ValidateDeep(cmd.flags.ConfigPath)
	if cmd.credentials {
		err = errors.Join(err, cfg.ValidateCredentials())
	}

	result := validateOutput{Valid: err == nil, Config: cmd.flags.ConfigPath}
	if err != nil {
		result.Errors = collectFieldErrors(err)
	}

	if cmd.format == "json" {
		if werr := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, result); werr != nil {
			return werr
		}
		if err != nil {
			return errInvalidConfig
		}
		return nil
	}

	out := newPrinter(c.Root().Writer)
	if err == nil {
		out.Success("%s is valid", cmd.flags.ConfigPath)
		out.KV("repository", cfg.Repository())
		out.KV("branch", cfg.GitHub.Branch)
		out.KV("model", cfg.Gemini.Model)
		out.KV("dry run", cfg.Engine.DryRun)
		out.KV("pull request", cfg.Engine.UsePullRequest)
		out.KV("history", cfg.Database.Path)
		return nil
	}

	out.Error("%s has %d problem(s)", cmd.flags.ConfigPath, len(result.Errors))
	for _, f := range result.Errors {
		out.KV(f.Field, f.Message)
	}
	return errInvalidConfig
}

// collectFieldErrors flattens joined criterio errors into field/message
// pairs. Errors without field information are reported under "config".
func collectFieldErrors(err error) []fieldError {
	var out []fieldError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		var fe criterio.FieldErrors
		if errors.As(err, &fe) && !isJoined(err) {
			out = append(out, fieldErrors(fe)...)
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		out = append(out, fieldError{Field: "config", Message: err.Error()})
	}
	walk(err)
	return out
}

func isJoined(err error) bool {
	_, ok := err.(interface{ Unwrap() []error })
	return ok
}
