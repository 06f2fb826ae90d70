package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datalad/datalad-dataverse/gitcfg"
	"github.com/datalad/datalad-dataverse/sibling"
)

func newAddCommand(repoDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <landing-page-url>",
		Short: "Install a url.insteadOf rule rewriting a Dataverse landing page into a clone-able URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(*repoDir, args[0])
		},
	}
	return cmd
}

func runAdd(dir, landingURL string) error {
	key, value, err := sibling.InsteadOf(landingURL)
	if err != nil {
		return fmt.Errorf("not a recognizable dataverse dataset URL: %w", err)
	}
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	if err := gitcfg.Add(dir, key, value); err != nil {
		return fmt.Errorf("writing git config: %w", err)
	}
	fmt.Printf("added %s = %s\n", key, value)
	return nil
}
