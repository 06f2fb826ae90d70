// Package dataverseapi wraps the Dataverse REST API endpoints the remote
// needs — info/version, dataset and version listing, upload, replace,
// metadata-update (rename), delete, and datafile download — behind a small
// typed Client, modeled on the teacher's internal/client repository wrapper:
// one struct holding a shared HTTP client and base URL, with one method per
// semantic operation, and error classification centralized in one place.
package dataverseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/datalad/datalad-dataverse/errcode"
)

// Client is a thin, typed wrapper around a Dataverse instance's REST API.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
}

// New builds a Client against baseURL (already stripped of a trailing
// slash), authenticating with token via the X-Dataverse-key header.
// Idempotent GETs are retried a small, bounded number of times by the
// underlying retryablehttp transport; non-idempotent calls (upload,
// replace, delete, metadata update) are issued through the plain
// *http.Client so a retry can never duplicate a side effect.
func New(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    rc,
	}
}

func (c *Client) plainClient() *http.Client {
	return c.http.HTTPClient
}

func (c *Client) authHeader(req *http.Request) {
	req.Header.Set("X-Dataverse-key", c.token)
}

// InfoVersion performs a cheap liveness and token check.
func (c *Client) InfoVersion(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/info/version", nil)
	if err != nil {
		return wrapTransportErr(err, "build info/version request")
	}
	c.authHeader(req.Request)

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapTransportErr(err, "info/version request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp, body, errcode.Transport)
	}
	return nil
}

// GetDataset fetches the latest version of the dataset identified by doi.
func (c *Client) GetDataset(ctx context.Context, doi string) (*DatasetVersion, error) {
	u := fmt.Sprintf("%s/api/datasets/:persistentId/?persistentId=%s", c.baseURL, url.QueryEscape(doi))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, wrapTransportErr(err, "build get-dataset request")
	}
	c.authHeader(req.Request)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransportErr(err, "get-dataset request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// DatasetNotFound is scoped to this get_dataset lookup only
		// (spec.md §4.2); every other call site maps 404 to Transport.
		return nil, classify(resp, body, errcode.DatasetNotFound)
	}

	var env datasetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, unexpectedBody(resp, "get-dataset")
	}
	return &env.Data.LatestVersion, nil
}

// GetDatasetVersions fetches every version of the dataset, in whatever
// order Dataverse returns them (callers sort as needed).
func (c *Client) GetDatasetVersions(ctx context.Context, doi string) ([]DatasetVersion, error) {
	u := fmt.Sprintf("%s/api/datasets/:persistentId/versions?persistentId=%s", c.baseURL, url.QueryEscape(doi))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, wrapTransportErr(err, "build get-dataset-versions request")
	}
	c.authHeader(req.Request)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapTransportErr(err, "get-dataset-versions request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp, body, errcode.Transport)
	}

	var env versionsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, unexpectedBody(resp, "get-dataset-versions")
	}
	return env.Data, nil
}

// Upload deposits local content as a new datafile in doi's draft version.
func (c *Client) Upload(ctx context.Context, doi string, local io.Reader, filename string, meta Metadata) (*VersionFile, error) {
	u := fmt.Sprintf("%s/api/datasets/:persistentId/add?persistentId=%s", c.baseURL, url.QueryEscape(doi))
	return c.postMultipart(ctx, u, local, filename, meta)
}

// Replace uploads new content in place of oldFid, producing a new file id.
func (c *Client) Replace(ctx context.Context, oldFid int, local io.Reader, filename string, meta Metadata) (*VersionFile, error) {
	u := fmt.Sprintf("%s/api/files/%d/replace", c.baseURL, oldFid)
	return c.postMultipart(ctx, u, local, filename, meta)
}

func (c *Client) postMultipart(ctx context.Context, u string, local io.Reader, filename string, meta Metadata) (*VersionFile, error) {
	jsonData, err := json.Marshal(meta)
	if err != nil {
		return nil, errcode.Wrap(errcode.Validation, err, "encode datafile metadata")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("jsonData", string(jsonData)); err != nil {
		return nil, errcode.Wrap(errcode.Transport, err, "encode jsonData field")
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, errcode.Wrap(errcode.Transport, err, "create multipart file part")
	}
	if _, err := io.Copy(part, local); err != nil {
		return nil, errcode.Wrap(errcode.Transport, err, "read local file content")
	}
	if err := w.Close(); err != nil {
		return nil, errcode.Wrap(errcode.Transport, err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, wrapTransportErr(err, "build upload request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authHeader(req)

	resp, err := c.plainClient().Do(req)
	if err != nil {
		return nil, wrapTransportErr(err, "upload request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp, body, errcode.Transport)
	}

	var env filesEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Data.Files) == 0 {
		return nil, unexpectedBody(resp, "upload")
	}
	return &env.Data.Files[0], nil
}

var metadataUpdateResponse = regexp.MustCompile(`(?s)\{.*\}`)

// UpdateFileMetadata updates a datafile's label/directoryLabel (used to
// implement rename). Dataverse's response is a plain-text sentence with a
// trailing JSON object ("File Metadata update has been completed: {...}");
// this extracts and parses that suffix.
func (c *Client) UpdateFileMetadata(ctx context.Context, fid int, meta Metadata) (*VersionFile, error) {
	jsonData, err := json.Marshal(meta)
	if err != nil {
		return nil, errcode.Wrap(errcode.Validation, err, "encode datafile metadata")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("jsonData", string(jsonData)); err != nil {
		return nil, errcode.Wrap(errcode.Transport, err, "encode jsonData field")
	}
	if err := w.Close(); err != nil {
		return nil, errcode.Wrap(errcode.Transport, err, "close multipart writer")
	}

	u := fmt.Sprintf("%s/api/files/%d/metadata", c.baseURL, fid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return nil, wrapTransportErr(err, "build metadata-update request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authHeader(req)

	resp, err := c.plainClient().Do(req)
	if err != nil {
		return nil, wrapTransportErr(err, "metadata-update request")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp, body, errcode.Transport)
	}

	match := metadataUpdateResponse.FindString(string(body))
	if match == "" {
		return nil, unexpectedBody(resp, "metadata-update")
	}
	var vf VersionFile
	if err := json.Unmarshal([]byte(match), &vf); err != nil {
		return nil, unexpectedBody(resp, "metadata-update")
	}
	return &vf, nil
}

// Delete removes a datafile via the SWORD-style edit-media endpoint, which
// authenticates via HTTP Basic with the token as username and an empty
// password.
func (c *Client) Delete(ctx context.Context, fid int) error {
	u := fmt.Sprintf("%s/dvn/api/data-deposit/v1.1/swordv2/edit-media/file/%d", c.baseURL, fid)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return wrapTransportErr(err, "build delete request")
	}
	req.SetBasicAuth(c.token, "")

	resp, err := c.plainClient().Do(req)
	if err != nil {
		return wrapTransportErr(err, "delete request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return classify(resp, body, errcode.Transport)
	}
	return nil
}

// GetDatafile streams a datafile's original content. The caller must Close
// the returned reader.
func (c *Client) GetDatafile(ctx context.Context, fid int) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/api/access/datafile/%s?format=original", c.baseURL, strconv.Itoa(fid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, wrapTransportErr(err, "build datafile-download request")
	}
	c.authHeader(req)

	resp, err := c.http.StandardClient().Do(req)
	if err != nil {
		return nil, wrapTransportErr(err, "datafile-download request")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, classify(resp, body, errcode.Transport)
	}
	return resp.Body, nil
}
