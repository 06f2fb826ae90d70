// Package sibling implements the clone-URL substitution rule described in
// spec.md §6.4: rewriting a Dataverse dataset landing-page URL into a
// synthetic clone-able URL that the git-annex-remote-dataverse special
// remote understands, plus the url.<base>.insteadOf key/value pair that
// expresses the rewrite as a git config rule. This package does not write
// git config; cmd/dataverse-sibling installs the pair via gitcfg. Pure
// string transformation; no runtime behavior of the core.
package sibling

import (
	"fmt"
	"regexp"

	"github.com/datalad/datalad-dataverse/config"
	"github.com/datalad/datalad-dataverse/errcode"
)

var landingPagePattern = regexp.MustCompile(`^(https?://.+)/dataset\.xhtml\?persistentId=(doi:[^&]+)(.*)$`)

// CloneURL rewrites a Dataverse dataset landing-page URL into the
// synthetic form this remote's PREPARE understands
// ("<scheme>?type=external&externaltype=...&url=...&doi=...&encryption=none").
func CloneURL(landingURL string) (string, error) {
	m := landingPagePattern.FindStringSubmatch(landingURL)
	if m == nil {
		return "", errcode.Newf(errcode.Validation, "not a dataverse dataset landing-page URL: %q", landingURL)
	}
	base, doi := m[1], m[2]
	return fmt.Sprintf("datalad-annex::?type=external&externaltype=%s&url=%s&doi=%s&encryption=none",
		config.ExternalType, base, doi), nil
}

// InsteadOf builds the git config key/value pair that would make `git
// clone <landingURL>` transparently use the rewritten clone URL, following
// git's url.<base>.insteadOf convention.
func InsteadOf(landingURL string) (key, value string, err error) {
	cloneURL, err := CloneURL(landingURL)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("url.%s.insteadOf", cloneURL), landingURL, nil
}
