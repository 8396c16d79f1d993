package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/loykin/mulyo/internal/config"
)

func createInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default mulyo.toml",
		Args:  cobra.NoArgs,
		// the file named by --config usually does not exist yet
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.flags.ConfigPath
			if path == "" {
				path = config.FileName
			}
			err := config.WriteDefault(path, force)
			switch {
			case err == nil:
				a.printf("wrote %s\n", path)
			case errors.Is(err, config.ErrExists):
				a.printf("%s already exists (use --force to overwrite)\n", path)
			default:
				a.printf("could not write %s: %v\n", path, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
