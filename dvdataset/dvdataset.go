// Package dvdataset implements the remote-state model for a single
// Dataverse dataset: a cache of file records keyed by Dataverse file id,
// lazily expanded from a cheap "latest version only" view to a full
// "all versions" view, plus the mutating operations (upload, replace,
// rename, remove) that keep the cache consistent with the server.
//
// Grounded on datalad_dataverse/dataset.py's OnlineDataverseDataset, with
// the cache-provider shape (population on first touch, an explicit
// expansion step) modeled after the teacher's storage/cache layer.
package dvdataset

import (
	"context"
	"io"
	"math"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/datalad/datalad-dataverse/dataverseapi"
	"github.com/datalad/datalad-dataverse/errcode"
	"github.com/datalad/datalad-dataverse/mangle"
)

type expansionState int

const (
	unexpanded expansionState = iota
	expanded
	failed
)

// record is the cached view of a single Dataverse file id.
type record struct {
	path            string
	isReleased      bool
	isLatestVersion bool
}

// Dataset is the online, cached view of one Dataverse dataset.
type Dataset struct {
	client   *dataverseapi.Client
	doi      string
	rootPath string

	latestPopulated bool
	expansion       expansionState

	records map[int]record
}

// New validates that doi is reachable (info/version + a dataset fetch) and
// returns a Dataset with an empty cache; the cache is populated lazily on
// first use.
func New(ctx context.Context, client *dataverseapi.Client, doi, rootPath string) (*Dataset, error) {
	if err := client.InfoVersion(ctx); err != nil {
		return nil, err
	}
	if _, err := client.GetDataset(ctx, doi); err != nil {
		return nil, err
	}
	return &Dataset{
		client:   client,
		doi:      doi,
		rootPath: rootPath,
		records:  make(map[int]record),
	}, nil
}

func (d *Dataset) fullPath(p string) string {
	if d.rootPath == "" {
		return p
	}
	return strings.TrimRight(d.rootPath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (d *Dataset) mangledPath(p string) string {
	return mangle.Mangle(d.fullPath(p))
}

func (d *Dataset) ensureLatestPopulated(ctx context.Context) error {
	if d.latestPopulated {
		return nil
	}
	v, err := d.client.GetDataset(ctx, d.doi)
	if err != nil {
		return err
	}
	released := v.Released()
	for _, f := range v.Files {
		d.records[f.DataFile.ID] = record{
			path:            vfPath(f),
			isReleased:      released,
			isLatestVersion: true,
		}
	}
	d.latestPopulated = true
	return nil
}

func vfPath(f dataverseapi.VersionFile) string {
	if f.DirectoryLabel == "" {
		return f.Label
	}
	return f.DirectoryLabel + "/" + f.Label
}

// ensureExpanded populates the all-versions view, guarded by a tri-state
// flag (not sync.Once, since a failed expansion must be retryable).
func (d *Dataset) ensureExpanded(ctx context.Context) error {
	if d.expansion == expanded {
		return nil
	}

	versions, err := d.client.GetDatasetVersions(ctx, d.doi)
	if err != nil {
		d.expansion = failed
		return err
	}

	sort.SliceStable(versions, func(i, j int) bool {
		return versionKey(versions[i]) < versionKey(versions[j])
	})

	for i, v := range versions {
		isLatest := i == len(versions)-1
		released := v.Released()
		for _, f := range v.Files {
			d.records[f.DataFile.ID] = record{
				path:            vfPath(f),
				isReleased:      released,
				isLatestVersion: isLatest,
			}
		}
	}

	d.expansion = expanded
	d.latestPopulated = true
	return nil
}

// versionKey sorts ascending by (versionNumber, versionMinorNumber), with an
// unset number (nil, i.e. DRAFT) sorting after every released version.
func versionKey(v dataverseapi.DatasetVersion) float64 {
	major := math.MaxInt32
	minor := math.MaxInt32
	if v.VersionNumber != nil {
		major = *v.VersionNumber
	}
	if v.VersionMinorNumber != nil {
		minor = *v.VersionMinorNumber
	}
	return float64(major)*1e6 + float64(minor)
}

// GetFileIDFromPath mangles p (after the configured root-path prefix) and
// looks it up. If latestOnly, only latest-version records are searched;
// otherwise the all-versions cache is expanded first. Tie-breaking among
// multiple ids sharing a path is unspecified (map iteration order).
func (d *Dataset) GetFileIDFromPath(ctx context.Context, p string, latestOnly bool) (int, bool, error) {
	if err := d.ensureLatestPopulated(ctx); err != nil {
		return 0, false, err
	}
	if !latestOnly {
		if err := d.ensureExpanded(ctx); err != nil {
			return 0, false, err
		}
	}

	mp := d.mangledPath(p)
	for fid, r := range d.records {
		if r.path != mp {
			continue
		}
		if latestOnly && !r.isLatestVersion {
			continue
		}
		return fid, true, nil
	}
	return 0, false, nil
}

// HasFileID reports whether fid appears anywhere in the dataset's history.
func (d *Dataset) HasFileID(ctx context.Context, fid int) (bool, error) {
	if err := d.ensureExpanded(ctx); err != nil {
		return false, err
	}
	_, ok := d.records[fid]
	return ok, nil
}

// HasFileIDInLatestVersion reports whether fid is present in the latest
// (possibly draft) version.
func (d *Dataset) HasFileIDInLatestVersion(ctx context.Context, fid int) (bool, error) {
	if err := d.ensureLatestPopulated(ctx); err != nil {
		return false, err
	}
	r, ok := d.records[fid]
	return ok && r.isLatestVersion, nil
}

// HasPath reports whether p (mangled) matches any record in the dataset's
// history.
func (d *Dataset) HasPath(ctx context.Context, p string) (bool, error) {
	_, ok, err := d.GetFileIDFromPath(ctx, p, false)
	return ok, err
}

// HasPathInLatestVersion reports whether p (mangled) matches a
// latest-version record.
func (d *Dataset) HasPathInLatestVersion(ctx context.Context, p string) (bool, error) {
	_, ok, err := d.GetFileIDFromPath(ctx, p, true)
	return ok, err
}

// IsReleasedFile reports whether fid's cached record is released.
func (d *Dataset) IsReleasedFile(ctx context.Context, fid int) (bool, error) {
	if err := d.ensureExpanded(ctx); err != nil {
		return false, err
	}
	r, ok := d.records[fid]
	return ok && r.isReleased, nil
}

// DownloadFile streams fid's content to localPath, creating or truncating
// it, without buffering the whole file in memory.
func (d *Dataset) DownloadFile(ctx context.Context, fid int, localPath string) error {
	rc, err := d.client.GetDatafile(ctx, fid)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return errcode.Wrap(errcode.Transport, err, "create local download target")
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return errcode.Wrap(errcode.Transport, err, "stream datafile content")
	}
	return nil
}

// UploadFile uploads localPath's content as remotePath. If replace is
// non-nil, the upload replaces that file id instead of creating a new one.
// On success the cache is updated per the cache invariants; on
// DuplicateContent the typed error is returned unchanged so the caller may
// elect a no-op.
func (d *Dataset) UploadFile(ctx context.Context, localPath, remotePath string, replace *int) (int, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, errcode.Wrap(errcode.Transport, err, "open local file for upload")
	}
	defer f.Close()

	mp := d.mangledPath(remotePath)
	meta := dataverseapi.Metadata{
		Label:          path.Base(mp),
		Filename:       path.Base(mp),
		DirectoryLabel: path.Dir(mp),
		Pid:            d.doi,
	}
	if meta.DirectoryLabel == "." {
		meta.DirectoryLabel = ""
	}

	var vf *dataverseapi.VersionFile
	if replace != nil {
		vf, err = d.client.Replace(ctx, *replace, f, path.Base(mp), meta)
	} else {
		vf, err = d.client.Upload(ctx, d.doi, f, path.Base(mp), meta)
	}
	if err != nil {
		return 0, err
	}

	newFid := vf.DataFile.ID
	if replace != nil {
		old, ok := d.records[*replace]
		if ok && !old.isReleased {
			delete(d.records, *replace)
		} else if ok {
			old.isLatestVersion = false
			d.records[*replace] = old
		}
	}
	d.records[newFid] = record{path: mp, isReleased: false, isLatestVersion: true}
	return newFid, nil
}

// RenameFile updates a file's path metadata. Exactly one of renameID or
// renamePath resolves the target; if renameID is zero, it is resolved via
// GetFileIDFromPath(renamePath, latestOnly=true). Fails with NotRenameable
// if the id cannot be resolved.
func (d *Dataset) RenameFile(ctx context.Context, newPath string, renameID int, renamePath string) (int, error) {
	fid := renameID
	if fid == 0 {
		resolved, ok, err := d.GetFileIDFromPath(ctx, renamePath, true)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errcode.Newf(errcode.NotRenameable, "no file id found for path %q", renamePath)
		}
		fid = resolved
	}

	mp := d.mangledPath(newPath)
	meta := dataverseapi.Metadata{
		Label:          path.Base(mp),
		Filename:       path.Base(mp),
		DirectoryLabel: path.Dir(mp),
		Pid:            d.doi,
	}
	if meta.DirectoryLabel == "." {
		meta.DirectoryLabel = ""
	}

	if _, err := d.client.UpdateFileMetadata(ctx, fid, meta); err != nil {
		return 0, err
	}

	d.records[fid] = record{path: mp, isReleased: false, isLatestVersion: true}
	return fid, nil
}

// RemoveFile deletes fid via the Dataverse API and evicts it from the cache
// if it was not part of a released version.
func (d *Dataset) RemoveFile(ctx context.Context, fid int) error {
	if err := d.client.Delete(ctx, fid); err != nil {
		return err
	}
	if r, ok := d.records[fid]; ok {
		if r.isReleased {
			r.isLatestVersion = false
			d.records[fid] = r
		} else {
			delete(d.records, fid)
		}
	}
	return nil
}
