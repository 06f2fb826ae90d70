// Package annexproto implements the line-oriented stdio protocol git-annex
// speaks to an external special remote: reading dispatched request verbs
// from the host and writing typed responses, plus the sub-protocol the
// remote uses to query the host mid-request (GETCONFIG, GETSTATE,
// GETGITDIR, DIRHASH-LOWER, MESSAGE, ERROR).
//
// Grounded conceptually on the teacher's central request-dispatch loop
// (registry/handlers/app.go routes an incoming HTTP request to the
// handler for its resource); here the "routing key" is a verb parsed off
// a text line instead of an HTTP method+path.
package annexproto

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/datalad/datalad-dataverse/errcode"
)

// Conn is the bidirectional line channel to the host annex process.
type Conn struct {
	mu sync.Mutex // serializes writes; reads only ever happen from the dispatch goroutine
	r  *bufio.Reader
	w  io.Writer
}

// NewConn wraps r/w as the protocol channel (typically os.Stdin/os.Stdout).
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{r: bufio.NewReader(r), w: w}
}

func (c *Conn) writeLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *Conn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// query writes req and reads back one response line, used for every
// remote-initiated sub-request (GETCONFIG, GETSTATE, GETGITDIR,
// DIRHASH-LOWER).
func (c *Conn) query(req string) (string, error) {
	if err := c.writeLine(req); err != nil {
		return "", errcode.Wrap(errcode.Transport, err, "write protocol request")
	}
	resp, err := c.readLine()
	if err != nil {
		return "", errcode.Wrap(errcode.Transport, err, "read protocol response")
	}
	return resp, nil
}

func valueOf(line string) string {
	return strings.TrimPrefix(line, "VALUE ")
}

// GetConfig asks the host for a configuration value.
func (c *Conn) GetConfig(key string) (string, error) {
	resp, err := c.query("GETCONFIG " + key)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// SetConfig stores a configuration value via the host; no reply expected.
func (c *Conn) SetConfig(key, value string) error {
	return c.writeLine(fmt.Sprintf("SETCONFIG %s %s", key, value))
}

// GetState reads the host-stored per-key state for key.
func (c *Conn) GetState(key string) (string, error) {
	resp, err := c.query("GETSTATE " + key)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// SetState stores the host per-key state for key; no reply expected.
func (c *Conn) SetState(key, value string) error {
	return c.writeLine(fmt.Sprintf("SETSTATE %s %s", key, value))
}

// GetGitDir returns the absolute path of the hosting repository.
func (c *Conn) GetGitDir() (string, error) {
	resp, err := c.query("GETGITDIR")
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// DirHashLower returns the platform-native hashed subdirectory component
// for key.
func (c *Conn) DirHashLower(key string) (string, error) {
	resp, err := c.query("DIRHASH-LOWER " + key)
	if err != nil {
		return "", err
	}
	return valueOf(resp), nil
}

// Message sends a diagnostic informational line to the host.
func (c *Conn) Message(text string) error {
	return c.writeLine("MESSAGE " + text)
}

// Error sends a diagnostic error line to the host.
func (c *Conn) Error(text string) error {
	return c.writeLine("ERROR " + text)
}
