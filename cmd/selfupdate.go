package cmd

import (
	"errors"
	"fmt"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

// githubRepoSlug is the repository releases are downloaded from.
const githubRepoSlug = "giantswarm/kubefs"

// newSelfUpdateCmd creates the Cobra command for updating the binary in place.
func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update kubefs to the latest version",
		Long: `Check GitHub for the latest kubefs release and, if it is newer
than the running binary, replace the binary with it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			currentVersion := rootCmd.Version
			if currentVersion == "" || currentVersion == "dev" {
				return errors.New("cannot self-update a development version")
			}

			ctx := cmd.Context()
			latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(githubRepoSlug))
			if err != nil {
				return fmt.Errorf("error detecting latest version: %w", err)
			}
			if !found {
				return fmt.Errorf("no release found for %s", githubRepoSlug)
			}

			if latest.LessOrEqual(currentVersion) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "kubefs is up to date (%s)\n", currentVersion)
				return nil
			}

			exe, err := selfupdate.ExecutablePath()
			if err != nil {
				return fmt.Errorf("could not locate executable path: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Updating kubefs from %s to %s...\n", currentVersion, latest.Version())
			if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
				return fmt.Errorf("error updating binary: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Successfully updated to %s\n", latest.Version())
			return nil
		},
	}
}
