package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datalad/datalad-dataverse/sibling"
)

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <landing-page-url>",
		Short: "Print the clone-able URL a landing page would rewrite to, without touching git config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cloneURL, err := sibling.CloneURL(args[0])
			if err != nil {
				return fmt.Errorf("not a recognizable dataverse dataset URL: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cloneURL)
			return nil
		},
	}
	return cmd
}
