package annexproto

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/datalad/datalad-dataverse/dvlog"
	"github.com/datalad/datalad-dataverse/errcode"
)

// Presence is the tri-state result of a CHECKPRESENT(-EXPORT) query.
type Presence int

const (
	Unknown Presence = iota
	Present
	NotPresent
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "Present"
	case NotPresent:
		return "NotPresent"
	default:
		return "Unknown"
	}
}

// Handler implements the special-remote verbs git-annex dispatches to an
// external special remote process. remote.Remote is the sole production
// implementation; tests supply fakes.
type Handler interface {
	Prepare(ctx context.Context, conn *Conn) error
	InitRemote(ctx context.Context, conn *Conn) error
	CheckPresent(ctx context.Context, conn *Conn, key string) (Presence, error)
	TransferStore(ctx context.Context, conn *Conn, key, file string) error
	TransferRetrieve(ctx context.Context, conn *Conn, key, file string) error
	Remove(ctx context.Context, conn *Conn, key string) error

	CheckPresentExport(ctx context.Context, conn *Conn, key, rpath string) (Presence, error)
	TransferStoreExport(ctx context.Context, conn *Conn, key, file, rpath string) error
	TransferRetrieveExport(ctx context.Context, conn *Conn, key, file, rpath string) error
	RemoveExport(ctx context.Context, conn *Conn, key, rpath string) error
	RenameExport(ctx context.Context, conn *Conn, key, oldRpath, newRpath string) error
}

// request is one parsed line from the host.
type request struct {
	verb string
	args []string
}

// parseRequest splits a line on whitespace into the verb and its
// arguments. A final argument that may itself contain spaces (a File or
// ExportLocation) is not rejoined here; the dispatchers recover it from the
// raw line with rest.
func parseRequest(line string) request {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return request{}
	}
	return request{verb: fields[0], args: fields[1:]}
}

// rest returns the remainder of line after skipping n leading
// whitespace-separated fields, preserving internal spaces in what's left.
func rest(line string, n int) string {
	fields := strings.SplitN(strings.TrimLeft(line, " \t"), " ", n+1)
	if len(fields) <= n {
		return ""
	}
	return fields[n]
}

// Run reads dispatch lines from conn until EOF, routing each to h. It never
// returns a non-nil error for a single failed request — those are reported
// to the host as a FAILURE or UNSUPPORTED-REQUEST response on the wire —
// only for a transport-level read failure.
//
// A panic raised from within h is recovered here and reported to the host
// as an ERROR line carrying the panic value, rather than crashing the
// process: no panic crosses a verb boundary, and the loop goes on to the
// next request.
func Run(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	conn := NewConn(r, w)

	for {
		line, err := conn.readLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errcode.Wrap(errcode.Transport, err, "read request line")
		}
		if line == "" {
			continue
		}
		dispatchOne(ctx, conn, h, line)
	}
}

func dispatchOne(ctx context.Context, conn *Conn, h Handler, line string) {
	defer func() {
		if r := recover(); r != nil {
			_ = conn.writeLine(fmt.Sprintf("ERROR internal error handling %q: %v", line, r))
		}
	}()

	req := parseRequest(line)
	switch req.verb {
	case "PREPARE":
		respond(conn, "PREPARE", h.Prepare(ctx, conn))
	case "INITREMOTE":
		respond(conn, "INITREMOTE", h.InitRemote(ctx, conn))
	case "CHECKPRESENT":
		p, err := checkPresent(req, h, ctx, conn)
		respondPresence(conn, "CHECKPRESENT", p, err)
	case "TRANSFER":
		dispatchTransfer(ctx, conn, h, req, line)
	case "REMOVE":
		respond(conn, "REMOVE", withKey(req, func(key string) error {
			return h.Remove(ctx, conn, key)
		}))
	case "CHECKPRESENTEXPORT":
		p, err := checkPresentExport(req, h, ctx, conn, line)
		respondPresence(conn, "CHECKPRESENTEXPORT", p, err)
	case "TRANSFEREXPORT":
		dispatchTransferExport(ctx, conn, h, req, line)
	case "REMOVEEXPORT":
		respond(conn, "REMOVEEXPORT", withKeyAndRest(req, line, func(key, rpath string) error {
			return h.RemoveExport(ctx, conn, key, rpath)
		}))
	case "RENAMEEXPORT":
		dispatchRenameExport(ctx, conn, h, req, line)
	default:
		_ = conn.writeLine("UNSUPPORTED-REQUEST")
		return
	}
	dvlog.GetLoggerWithField(ctx, "verb", req.verb).Debug("handled request")
}

func withKey(req request, fn func(key string) error) error {
	if len(req.args) < 1 {
		return errcode.New(errcode.Validation, "missing Key argument")
	}
	return fn(req.args[0])
}

func withKeyAndRest(req request, line string, fn func(key, rest string) error) error {
	if len(req.args) < 1 {
		return errcode.New(errcode.Validation, "missing Key argument")
	}
	return fn(req.args[0], rest(line, 2))
}

func checkPresent(req request, h Handler, ctx context.Context, conn *Conn) (Presence, error) {
	if len(req.args) < 1 {
		return Unknown, errcode.New(errcode.Validation, "missing Key argument")
	}
	return h.CheckPresent(ctx, conn, req.args[0])
}

func checkPresentExport(req request, h Handler, ctx context.Context, conn *Conn, line string) (Presence, error) {
	if len(req.args) < 1 {
		return Unknown, errcode.New(errcode.Validation, "missing Key argument")
	}
	return h.CheckPresentExport(ctx, conn, req.args[0], rest(line, 2))
}

func dispatchTransfer(ctx context.Context, conn *Conn, h Handler, req request, line string) {
	if len(req.args) < 2 {
		_ = conn.writeLine("TRANSFER-FAILURE missing arguments")
		return
	}
	direction, key := req.args[0], req.args[1]
	file := rest(line, 3)
	var err error
	switch direction {
	case "STORE":
		err = h.TransferStore(ctx, conn, key, file)
	case "RETRIEVE":
		err = h.TransferRetrieve(ctx, conn, key, file)
	default:
		_ = conn.writeLine("TRANSFER-FAILURE " + direction + " " + key + " unknown direction")
		return
	}
	if err != nil {
		_ = conn.writeLine(fmt.Sprintf("TRANSFER-FAILURE %s %s %s", direction, key, errMessage(err)))
		return
	}
	_ = conn.writeLine(fmt.Sprintf("TRANSFER-SUCCESS %s %s", direction, key))
}

func dispatchTransferExport(ctx context.Context, conn *Conn, h Handler, req request, line string) {
	if len(req.args) < 2 {
		_ = conn.writeLine("TRANSFER-FAILURE missing arguments")
		return
	}
	direction, key := req.args[0], req.args[1]
	// TRANSFEREXPORT STORE Key File ExportLocation / RETRIEVE Key File ExportLocation
	remainder := rest(line, 3)
	parts := strings.SplitN(remainder, " ", 2)
	var file, rpath string
	if len(parts) == 2 {
		file, rpath = parts[0], parts[1]
	} else if len(parts) == 1 {
		file = parts[0]
	}
	var err error
	switch direction {
	case "STORE":
		err = h.TransferStoreExport(ctx, conn, key, file, rpath)
	case "RETRIEVE":
		err = h.TransferRetrieveExport(ctx, conn, key, file, rpath)
	default:
		_ = conn.writeLine("TRANSFER-FAILURE " + direction + " " + key + " unknown direction")
		return
	}
	if err != nil {
		_ = conn.writeLine(fmt.Sprintf("TRANSFER-FAILURE %s %s %s", direction, key, errMessage(err)))
		return
	}
	_ = conn.writeLine(fmt.Sprintf("TRANSFER-SUCCESS %s %s", direction, key))
}

func dispatchRenameExport(ctx context.Context, conn *Conn, h Handler, req request, line string) {
	if len(req.args) < 1 {
		_ = conn.writeLine("RENAMEEXPORT-FAILURE missing arguments")
		return
	}
	key := req.args[0]
	remainder := rest(line, 2)
	parts := strings.SplitN(remainder, " ", 2)
	if len(parts) != 2 {
		_ = conn.writeLine("RENAMEEXPORT-FAILURE " + key + " missing ExportLocation arguments")
		return
	}
	oldPath, newPath := parts[0], parts[1]
	if err := h.RenameExport(ctx, conn, key, oldPath, newPath); err != nil {
		// A rename whose id cannot be resolved is reported as unsupported
		// rather than a hard failure, so the host falls back to remove+store.
		if errcode.Is(err, errcode.NotRenameable) {
			_ = conn.writeLine("UNSUPPORTED-REQUEST")
			return
		}
		_ = conn.writeLine(fmt.Sprintf("RENAMEEXPORT-FAILURE %s %s", key, errMessage(err)))
		return
	}
	_ = conn.writeLine("RENAMEEXPORT-SUCCESS " + key)
}

func respond(conn *Conn, verb string, err error) {
	if err != nil {
		_ = conn.writeLine(fmt.Sprintf("%s-FAILURE %s", verb, errMessage(err)))
		return
	}
	_ = conn.writeLine(verb + "-SUCCESS")
}

func respondPresence(conn *Conn, verb string, p Presence, err error) {
	if err != nil {
		_ = conn.writeLine(fmt.Sprintf("%s-FAILURE %s", verb, errMessage(err)))
		return
	}
	switch p {
	case Present:
		_ = conn.writeLine(verb + "-SUCCESS")
	case NotPresent:
		_ = conn.writeLine(verb + "-FAILURE")
	default:
		_ = conn.writeLine(verb + "-UNKNOWN cannot determine presence")
	}
}

func errMessage(err error) string {
	if k, ok := errcode.KindOf(err); ok {
		return fmt.Sprintf("[%s] %s", k, err.Error())
	}
	return err.Error()
}
