// Package credential obtains the bearer token used to authenticate against
// a Dataverse instance. It is a minimal standalone stand-in for the
// external credential-acquisition collaborator described as out of scope
// for the core (spec.md §1): a realm-scoped environment variable lookup
// with an interactive-prompt fallback, adapted from
// datalad_dataverse/utils.py:get_api's realm-based discovery (named
// credential, then realm-sorted query, then interactive prompt), without
// the DataLad credential manager this is adapted away from.
package credential

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/datalad/datalad-dataverse/errcode"
)

// Source obtains a token for the given realm (typically the Dataverse
// base URL). Name, if non-empty, requests a specific named credential.
type Source interface {
	Token(realm, name string) (string, error)
}

// EnvPromptSource looks up a name-derived env var, then
// DATAVERSE_API_TOKEN_FILE (a path to a file holding the token), then
// DATAVERSE_API_TOKEN, and falls back to an interactive prompt on the
// controlling terminal when running attached.
//
// The prompt deliberately never reads os.Stdin: when this runs as the
// git-annex special remote process, stdin is already the annexproto wire
// channel, so a fallback prompt opens /dev/tty directly instead.
type EnvPromptSource struct {
	// In, if set, overrides the /dev/tty open for tests. Out defaults to
	// os.Stderr.
	In  io.Reader
	Out io.Writer
}

// Token implements Source.
func (s EnvPromptSource) Token(realm, name string) (string, error) {
	if name != "" {
		envVar := "DATAVERSE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_TOKEN"
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	if path := os.Getenv("DATAVERSE_API_TOKEN_FILE"); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return "", errcode.Wrapf(errcode.Auth, err, "read token from %s", path)
		}
		if token := strings.TrimSpace(string(contents)); token != "" {
			return token, nil
		}
	}
	if v := os.Getenv("DATAVERSE_API_TOKEN"); v != "" {
		return v, nil
	}

	in := s.In
	if in == nil {
		tty, err := os.Open("/dev/tty")
		if err != nil {
			return "", errcode.New(errcode.Auth, "no credential found in environment and no controlling terminal to prompt on")
		}
		defer tty.Close()
		in = tty
	}
	out := s.Out
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "A Dataverse API token is required for access to %s: ", realm)
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return "", errcode.New(errcode.Auth, "no credential found and no token entered")
	}
	token := strings.TrimSpace(scanner.Text())
	if token == "" {
		return "", errcode.New(errcode.Auth, "no credential found and no token entered")
	}
	return token, nil
}
