// Package dvdoi normalizes the several shapes a Dataverse persistent
// identifier may be typed in (bare DOI, doi: URI, https://doi.org/ URL) into
// the single doi:-prefixed form the Dataverse API requires.
package dvdoi

import (
	"regexp"
	"strings"

	"github.com/datalad/datalad-dataverse/errcode"
)

var urlPattern = regexp.MustCompile(`^https?://doi\.org/`)

// Normalize converts doi into the "doi:..." form Dataverse expects. It
// accepts an already-prefixed "doi:..." string unchanged, rewrites a
// https://doi.org/... URL, and prefixes a bare identifier.
func Normalize(doi string) (string, error) {
	if doi == "" {
		return "", errcode.New(errcode.Validation, "doi must not be empty")
	}
	if strings.HasPrefix(doi, "doi:") {
		return doi, nil
	}
	if urlPattern.MatchString(doi) {
		return urlPattern.ReplaceAllString(doi, "doi:"), nil
	}
	return "doi:" + doi, nil
}
