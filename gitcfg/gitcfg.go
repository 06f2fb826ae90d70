// Package gitcfg shells out to git config. The dataverse-sibling CLI uses
// Add to write the clone-URL substitution rule (spec.md §6.4); Get reads a
// single value back and is not called by the CLI. Deliberately thin: the
// core never touches repository configuration.
package gitcfg

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/datalad/datalad-dataverse/errcode"
)

// Get runs `git config --get <key>` in dir and returns its trimmed value.
func Get(dir, key string) (string, error) {
	cmd := exec.Command("git", "config", "--get", key)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", errcode.Wrapf(errcode.Transport, err, "git config --get %s", key)
	}
	return strings.TrimSpace(out.String()), nil
}

// Add runs `git config --add <key> <value>` in dir.
func Add(dir, key, value string) error {
	cmd := exec.Command("git", "config", "--add", key, value)
	cmd.Dir = dir
	if err := cmd.Run(); err != nil {
		return errcode.Wrapf(errcode.Transport, err, "git config --add %s %s", key, value)
	}
	return nil
}
