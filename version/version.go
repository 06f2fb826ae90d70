// Package version reports the module path and build version of the
// running binary, for inclusion in --version output and log lines.
package version

import (
	"fmt"
	"io"
	"os"
)

// mainpkg is the canonical import path this binary was built from.
var mainpkg = "github.com/datalad/datalad-dataverse"

// version is replaced at link time via -ldflags; defaults to +unknown
// for a plain "go build" / "go install".
var version = "v0.0.0+unknown"

// revision is filled with the VCS revision at link time.
var revision = ""

// Package returns the canonical import path the binary was built from.
func Package() string {
	return mainpkg
}

// Version returns the module version the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision used to build the binary.
func Revision() string {
	return revision
}

// FprintVersion writes "<cmd> <package> <version>" followed by a newline.
func FprintVersion(w io.Writer) {
	fmt.Fprintln(w, os.Args[0], Package(), Version())
}

// PrintVersion writes version information to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
