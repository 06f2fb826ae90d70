package dataverseapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/datalad/datalad-dataverse/errcode"
)

// classify turns a non-2xx HTTP response into a typed *errcode.Error,
// following the same "inspect status first, then body" discipline as the
// teacher's HandleHTTPResponseError: a bad status code alone is enough to
// pick Auth/Transport; the body is only consulted to recognize the
// duplicate-content special case.
//
// notFoundKind is the Kind a 404 maps to; callers other than the initial
// get-dataset lookup pass errcode.Transport, since DatasetNotFound is
// scoped to "get_dataset of the configured DOI at init" (spec.md §4.2) —
// a 404 from any other call (delete, metadata update, datafile download,
// ...) means the targeted object vanished mid-run, not that the dataset
// itself is gone.
func classify(resp *http.Response, body []byte, notFoundKind errcode.Kind) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errcode.Newf(errcode.Auth, "dataverse returned %s", resp.Status).WithStatus(resp.StatusCode)
	case http.StatusNotFound:
		return errcode.Newf(notFoundKind, "dataverse returned %s", resp.Status).WithStatus(resp.StatusCode)
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Status == "ERROR" {
		if strings.Contains(strings.ToLower(env.Message), "duplicate content") {
			return errcode.New(errcode.DuplicateContent, env.Message).WithStatus(resp.StatusCode)
		}
		return errcode.Newf(errcode.Transport, "dataverse error: %s", env.Message).WithStatus(resp.StatusCode)
	}

	return errcode.Newf(errcode.Transport, "unexpected status %s", resp.Status).WithStatus(resp.StatusCode)
}

func wrapTransportErr(err error, format string, args ...interface{}) error {
	return errcode.Wrapf(errcode.Transport, err, format, args...)
}

func unexpectedBody(resp *http.Response, context string) error {
	return errcode.Newf(errcode.Transport, "%s: could not parse response body (status %s)", context, resp.Status)
}
