package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/rolodex/internal/config"
)

// DefaultConfigPath is where init writes when no path is given.
const DefaultConfigPath = "rolodex.yaml"

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force bool
}

// initResult describes what init created.
type initResult struct {
	Config       string `json:"config"`
	Database     string `json:"database"`
	DatabaseUUID string `json:"database_uuid"`
}

func (r initResult) String() string {
	return fmt.Sprintf("wrote %s\ndatabase %s (%s)", r.Config, r.Database, r.DatabaseUUID)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init [config-path]",
		Short: "Write a default config file and create the database",
		Long: `Write a config file holding the default settings and create the
database it names.

Example:
  rolodex init
  rolodex init --db ./contacts.db ./rolodex.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DefaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runInit(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

func runInit(opts *InitOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	if _, err := os.Stat(path); err == nil && !opts.Force {
		msg := fmt.Sprintf("%s already exists (use --force to overwrite)", path)
		_ = out.Error(ErrCodeWriteFailed, msg, nil)
		return NewExitError(ExitCommandError, msg)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		_ = out.Error(ErrCodeWriteFailed, err.Error(), path)
		return WrapExitError(ExitCommandError, "failed to stat config file", err)
	}

	cfg := config.Defaults()
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	data, err := cfg.YAML()
	if err != nil {
		_ = out.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to render config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		_ = out.Error(ErrCodeWriteFailed, err.Error(), path)
		return WrapExitError(ExitCommandError, "failed to write config", err)
	}
	out.VerboseLog("wrote %s", path)

	// Open through the file just written so the result matches later runs.
	sessionOpts := *opts.RootOptions
	sessionOpts.ConfigPath = path
	return withSession(cmd, &sessionOpts, func(ctx context.Context, s *session) error {
		id, err := s.mgr.DatabaseUUID(ctx)
		if err != nil {
			return s.out.Fail("failed to read database uuid", err)
		}
		return s.out.Success(initResult{
			Config:       path,
			Database:     s.cfg.Database,
			DatabaseUUID: id,
		})
	})
}
