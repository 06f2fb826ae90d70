package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalad/datalad-dataverse/annexproto"
	"github.com/datalad/datalad-dataverse/dataverseapi"
	"github.com/datalad/datalad-dataverse/dvdataset"
	"github.com/datalad/datalad-dataverse/errcode"
)

// scriptedConn builds an annexproto.Conn whose reads are satisfied, in
// order, by responses — mirroring exactly the sequence of GETCONFIG/
// GETSTATE/SETSTATE/DIRHASH-LOWER calls the code under test is expected to
// issue. sent captures every line written to the conn for assertions.
func scriptedConn(responses []string) (*annexproto.Conn, *[]string) {
	sent := &[]string{}
	r := &recordingReader{lines: responses}
	w := &recordingWriter{sent: sent}
	return annexproto.NewConn(r, w), sent
}

type recordingReader struct {
	lines []string
	i     int
}

func (r *recordingReader) Read(p []byte) (int, error) {
	if r.i >= len(r.lines) {
		return 0, fmt.Errorf("script exhausted")
	}
	line := r.lines[r.i] + "\n"
	r.i++
	n := copy(p, line)
	return n, nil
}

type recordingWriter struct {
	sent *[]string
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	*w.sent = append(*w.sent, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// --- fake Dataverse server, grounded on dvdataset_test's fakeServer ---

type fakeServer struct {
	latest  dataverseapi.DatasetVersion
	nextFid int
	deleted map[int]bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{nextFid: 100, deleted: map[int]bool{}}
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/info/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","data":{"version":"5.13"}}`)
	})
	mux.HandleFunc("/api/datasets/:persistentId/", func(w http.ResponseWriter, r *http.Request) {
		b, _ := json.Marshal(struct {
			Status string `json:"status"`
			Data   struct {
				LatestVersion dataverseapi.DatasetVersion `json:"latestVersion"`
			} `json:"data"`
		}{Status: "OK", Data: struct {
			LatestVersion dataverseapi.DatasetVersion `json:"latestVersion"`
		}{LatestVersion: f.latest}})
		w.Write(b)
	})
	mux.HandleFunc("/api/datasets/:persistentId/versions", func(w http.ResponseWriter, r *http.Request) {
		b, _ := json.Marshal(struct {
			Status string                        `json:"status"`
			Data   []dataverseapi.DatasetVersion `json:"data"`
		}{Status: "OK", Data: []dataverseapi.DatasetVersion{f.latest}})
		w.Write(b)
	})
	mux.HandleFunc("/api/datasets/:persistentId/add", func(w http.ResponseWriter, r *http.Request) {
		f.handleUpload(w, r)
	})
	mux.HandleFunc("/api/files/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
		parts := strings.SplitN(rest, "/", 2)
		fid, _ := strconv.Atoi(parts[0])
		if len(parts) == 2 && parts[1] == "replace" {
			f.handleUpload(w, r)
			return
		}
		if len(parts) == 2 && parts[1] == "metadata" {
			f.handleMetadata(w, r, fid)
			return
		}
	})
	mux.HandleFunc("/dvn/api/data-deposit/v1.1/swordv2/edit-media/file/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/dvn/api/data-deposit/v1.1/swordv2/edit-media/file/")
		fid, _ := strconv.Atoi(rest)
		f.deleted[fid] = true
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/access/datafile/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello\n"))
	})
	return mux
}

func (f *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	jsonData := r.MultipartForm.Value["jsonData"][0]
	var meta dataverseapi.Metadata
	_ = json.Unmarshal([]byte(jsonData), &meta)

	f.nextFid++
	vf := dataverseapi.VersionFile{
		Label:          meta.Label,
		DirectoryLabel: meta.DirectoryLabel,
		DataFile:       dataverseapi.DataFile{ID: f.nextFid, Filename: meta.Label},
	}
	b, _ := json.Marshal(struct {
		Status string `json:"status"`
		Data   struct {
			Files []dataverseapi.VersionFile `json:"files"`
		} `json:"data"`
	}{Status: "OK", Data: struct {
		Files []dataverseapi.VersionFile `json:"files"`
	}{Files: []dataverseapi.VersionFile{vf}}})
	w.Write(b)
}

func (f *fakeServer) handleMetadata(w http.ResponseWriter, r *http.Request, fid int) {
	_ = r.ParseMultipartForm(1 << 20)
	jsonData := r.MultipartForm.Value["jsonData"][0]
	var meta dataverseapi.Metadata
	_ = json.Unmarshal([]byte(jsonData), &meta)
	vf := dataverseapi.VersionFile{
		Label:          meta.Label,
		DirectoryLabel: meta.DirectoryLabel,
		DataFile:       dataverseapi.DataFile{ID: fid, Filename: meta.Label},
	}
	b, _ := json.Marshal(vf)
	fmt.Fprintf(w, "File Metadata update has been completed: %s", b)
}

func newTestRemote(t *testing.T, f *fakeServer) (*Remote, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	client := dataverseapi.New(srv.URL, "tok")
	ds, err := dvdataset.New(context.Background(), client, "doi:10.5072/FK2/X", "")
	require.NoError(t, err)
	return &Remote{client: client, dataset: ds}, srv
}

func TestPrepareParsesConfigAndBuildsDataset(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	conn, _ := scriptedConn([]string{
		"VALUE " + srv.URL,
		"VALUE doi:10.5072/FK2/X",
		"VALUE ",
		"VALUE ",
		"VALUE ",
		"VALUE ",
		"VALUE ",
	})

	r := New(fakeCredSource{token: "tok"})
	err := r.Prepare(context.Background(), conn)
	require.NoError(t, err)
	require.NotNil(t, r.dataset)
	assert.Equal(t, "doi:10.5072/FK2/X", r.opts.DOI)
}

type fakeCredSource struct {
	token string
	err   error
}

func (f fakeCredSource) Token(realm, name string) (string, error) {
	return f.token, f.err
}

func TestCheckPresentFallsBackToPathLookup(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{
		VersionState: "DRAFT",
		Files: []dataverseapi.VersionFile{
			{Label: "K", DirectoryLabel: "annex/xx", DataFile: dataverseapi.DataFile{ID: 1}},
		},
	}
	r, srv := newTestRemote(t, f)
	defer srv.Close()

	conn, sent := scriptedConn([]string{
		"VALUE ",   // GETSTATE K -> empty binding
		"VALUE xx", // DIRHASH-LOWER K
		"VALUE ",   // GETSTATE K, re-read by keyfids.Add when binding the found id
	})

	presence, err := r.CheckPresent(context.Background(), conn, "K")
	require.NoError(t, err)
	assert.Equal(t, annexproto.Present, presence)
	assert.Contains(t, (*sent)[0], "GETSTATE K")
	assert.Contains(t, (*sent)[1], "DIRHASH-LOWER K")
}

func TestTransferStoreBindsNewFid(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	r, srv := newTestRemote(t, f)
	defer srv.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "content.txt")
	require.NoError(t, os.WriteFile(local, []byte("hello\n"), 0o644))

	conn, sent := scriptedConn([]string{
		"VALUE xx", // DIRHASH-LOWER K
		"VALUE ",   // GETSTATE K (no binding yet)
	})

	err := r.TransferStore(context.Background(), conn, "K", local)
	require.NoError(t, err)
	assert.Contains(t, (*sent)[len(*sent)-1], "SETSTATE K ")
}

func TestRetrieveFailsUnavailableWithNoBinding(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	r, srv := newTestRemote(t, f)
	defer srv.Close()

	conn, _ := scriptedConn([]string{
		"VALUE xx", // DIRHASH-LOWER K
		"VALUE ",   // GETSTATE K
	})

	err := r.TransferRetrieve(context.Background(), conn, "K", filepath.Join(t.TempDir(), "out.txt"))
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.Unavailable))
}

func TestRenameExportUnresolvableIsNotRenameable(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	r, srv := newTestRemote(t, f)
	defer srv.Close()

	conn, _ := scriptedConn(nil)
	err := r.RenameExport(context.Background(), conn, "K", "missing.txt", "new.txt")
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.NotRenameable))
}

func TestCheckPresentExportUsesHasPathWhenUnbound(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{
		VersionState: "DRAFT",
		Files: []dataverseapi.VersionFile{
			{Label: "c.txt", DirectoryLabel: "a", DataFile: dataverseapi.DataFile{ID: 1}},
		},
	}
	r, srv := newTestRemote(t, f)
	defer srv.Close()

	conn, _ := scriptedConn([]string{"VALUE "}) // GETSTATE K -> empty binding

	presence, err := r.CheckPresentExport(context.Background(), conn, "K", "a/c.txt")
	require.NoError(t, err)
	assert.Equal(t, annexproto.Present, presence)
}
