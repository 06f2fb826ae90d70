package dvdataset

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

	"github.com/datalad/datalad-dataverse/dataverseapi"
	"github.com/datalad/datalad-dataverse/errcode"
)

// fakeServer is a minimal in-memory Dataverse stand-in: it keeps one
// "latest version" file list and one "all versions" file list that tests
// seed directly, and serves just enough of the real API surface for
// dvdataset to drive against via the real dataverseapi.Client.
type fakeServer struct {
	latest     dataverseapi.DatasetVersion
	versions   []dataverseapi.DatasetVersion
	nextFid    int
	deleted    map[int]bool
	lastUpload dataverseapi.Metadata
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
			Status string                          `json:"status"`
			Data   []dataverseapi.DatasetVersion `json:"data"`
		}{Status: "OK", Data: f.versions})
		w.Write(b)
	})
	mux.HandleFunc("/api/datasets/:persistentId/add", func(w http.ResponseWriter, r *http.Request) {
		f.handleUpload(w, r, "")
	})
	mux.HandleFunc("/api/files/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
		parts := strings.SplitN(rest, "/", 2)
		fid, _ := strconv.Atoi(parts[0])
		if len(parts) == 2 && parts[1] == "replace" {
			f.handleUpload(w, r, "")
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
		w.Write([]byte("downloaded content"))
	})
	return mux
}

func (f *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request, _ string) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	jsonData := r.MultipartForm.Value["jsonData"][0]
	var meta dataverseapi.Metadata
	_ = json.Unmarshal([]byte(jsonData), &meta)
	f.lastUpload = meta

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

func newTestDataset(t *testing.T, f *fakeServer) (*Dataset, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	client := dataverseapi.New(srv.URL, "tok")
	ds, err := New(context.Background(), client, "doi:10.5072/FK2/X", "")
	require.NoError(t, err)
	return ds, srv
}

func TestGetFileIDFromPathLatestOnly(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{
		VersionState: "DRAFT",
		Files: []dataverseapi.VersionFile{
			{Label: "a.txt", DataFile: dataverseapi.DataFile{ID: 1}},
		},
	}
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	fid, ok, err := ds.GetFileIDFromPath(context.Background(), "a.txt", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, fid)

	_, ok, err = ds.GetFileIDFromPath(context.Background(), "missing.txt", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllVersionsExpansionOrdersDraftLast(t *testing.T) {
	f := newFakeServer()
	one, two, zero := 1, 2, 0
	f.versions = []dataverseapi.DatasetVersion{
		{VersionState: "DRAFT", Files: []dataverseapi.VersionFile{
			{Label: "a.txt", DataFile: dataverseapi.DataFile{ID: 1}},
		}},
		{VersionNumber: &one, VersionMinorNumber: &zero, VersionState: "RELEASED", Files: []dataverseapi.VersionFile{
			{Label: "a.txt", DataFile: dataverseapi.DataFile{ID: 1}},
		}},
		{VersionNumber: &two, VersionMinorNumber: &zero, VersionState: "RELEASED", Files: []dataverseapi.VersionFile{
			{Label: "b.txt", DataFile: dataverseapi.DataFile{ID: 2}},
		}},
	}
	f.latest = f.versions[0]
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	released, err := ds.IsReleasedFile(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, released, "fid 1 must end up unreleased: draft is sorted last and overwrites")

	released, err = ds.IsReleasedFile(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestUploadThenReplaceEvictsUnreleased(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "content.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	fid1, err := ds.UploadFile(context.Background(), localPath, "a.txt", nil)
	require.NoError(t, err)

	present, err := ds.HasFileIDInLatestVersion(context.Background(), fid1)
	require.NoError(t, err)
	assert.True(t, present)

	fid2, err := ds.UploadFile(context.Background(), localPath, "a.txt", &fid1)
	require.NoError(t, err)
	assert.NotEqual(t, fid1, fid2)

	present, err = ds.HasFileID(context.Background(), fid1)
	require.NoError(t, err)
	assert.False(t, present, "unreleased replaced id must be evicted")
}

func TestUploadFileSendsFilenameAndPid(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "content.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello"), 0o644))

	_, err := ds.UploadFile(context.Background(), localPath, "a.txt", nil)
	require.NoError(t, err)

	assert.Equal(t, "a.txt", f.lastUpload.Label)
	assert.Equal(t, "a.txt", f.lastUpload.Filename)
	assert.Equal(t, "doi:10.5072/FK2/X", f.lastUpload.Pid)
}

func TestRenameRequiresResolvableID(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	_, err := ds.RenameFile(context.Background(), "new.txt", 0, "missing.txt")
	require.Error(t, err)
	assert.True(t, errcode.Is(err, errcode.NotRenameable))
}

func TestDownloadFileWritesLocalContent(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	dir := t.TempDir()
	dst := filepath.Join(dir, "out.txt")
	require.NoError(t, ds.DownloadFile(context.Background(), 1, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "downloaded content", string(data))
}

func TestRemoveFileDeletesViaClient(t *testing.T) {
	f := newFakeServer()
	f.latest = dataverseapi.DatasetVersion{VersionState: "DRAFT"}
	ds, srv := newTestDataset(t, f)
	defer srv.Close()

	require.NoError(t, ds.RemoveFile(context.Background(), 42))
	assert.True(t, f.deleted[42])
}
