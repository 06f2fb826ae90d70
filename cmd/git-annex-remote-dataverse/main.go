// Command git-annex-remote-dataverse is the external special remote
// process git-annex execs and speaks the stdio protocol to (spec.md §6.1).
// It wires together dvlog, credential, annexproto, and remote, following
// the teacher's flag-parse-then-run shape (cmd/registry/main.go), stripped
// of everything that assumes an HTTP server: there is no listen address
// here, only stdin/stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/datalad/datalad-dataverse/annexproto"
	"github.com/datalad/datalad-dataverse/credential"
	"github.com/datalad/datalad-dataverse/dvlog"
	"github.com/datalad/datalad-dataverse/remote"
	"github.com/datalad/datalad-dataverse/version"
)

var (
	showVersion bool
	logLevel    string
	jsonLog     bool
)

func init() {
	flag.BoolVar(&showVersion, "version", false, "show the version and exit")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&jsonLog, "log-json", false, "emit JSON-formatted log lines on stderr")
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		version.PrintVersion()
		return
	}

	logger := dvlog.New(logLevel, jsonLog)
	ctx := dvlog.WithLogger(context.Background(), logger)

	h := remote.New(credential.EnvPromptSource{})
	if err := annexproto.Run(ctx, os.Stdin, os.Stdout, h); err != nil {
		logger.Fatalf("protocol loop terminated: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:", os.Args[0], "(no arguments; driven by git-annex over stdio)")
	flag.PrintDefaults()
}
