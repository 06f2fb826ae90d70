// Command dataverse-sibling is the sibling-registration collaborator
// (spec.md §6.4): it persists the clone-URL substitution rule into a
// repository's git configuration so that `git clone <landing page URL>`
// transparently resolves through git-annex-remote-dataverse.
//
// Grounded on the teacher's cmd/namespaces command tree, rebuilt on cobra
// (carried in the teacher's own go.mod, never wired by the registry
// binaries themselves) rather than codegangsta/cli.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datalad/datalad-dataverse/version"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var repoDir string

	root := &cobra.Command{
		Use:     "dataverse-sibling",
		Short:   "Register a git-annex-remote-dataverse clone-URL substitution",
		Version: version.Version(),
	}
	root.PersistentFlags().StringVar(&repoDir, "git-dir", "", "repository to configure (default: current directory)")

	root.AddCommand(newAddCommand(&repoDir))
	root.AddCommand(newShowCommand())
	return root
}
