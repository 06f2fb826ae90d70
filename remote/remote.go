// Package remote implements the special-remote state machine (spec.md
// §4.6): the annexproto.Handler that turns dispatched annex verbs into
// calls against a dvdataset.Dataset, consulting and maintaining the
// keyfids binding store along the way. Regular-mode and export-mode verbs
// share a single "path → file-id + upload/replace/download/remove" kernel,
// differing only in how the remote path is derived — from the key's
// dirhash in regular mode, supplied directly by the host in export mode —
// matching the sum-type-over-subclassing guidance in spec.md §9.
//
// Grounded on datalad_dataverse/baseremote.py:DataverseRemote, with export
// mode (absent from the original, which only implements the regular-mode
// verbs) added per SPEC_FULL.md's supplemental scope.
package remote

import (
	"context"
	"time"

	"github.com/datalad/datalad-dataverse/annexproto"
	"github.com/datalad/datalad-dataverse/config"
	"github.com/datalad/datalad-dataverse/credential"
	"github.com/datalad/datalad-dataverse/dataverseapi"
	"github.com/datalad/datalad-dataverse/dvdataset"
	"github.com/datalad/datalad-dataverse/dvlog"
	"github.com/datalad/datalad-dataverse/errcode"
	"github.com/datalad/datalad-dataverse/keyfids"
)

// configKeys is every GETCONFIG key this remote recognizes (spec.md §6.2).
var configKeys = []string{"url", "doi", "rootpath", "credential", "exporttree", "encryption", "externaltype"}

// Remote is the annexproto.Handler implementation backing
// git-annex-remote-dataverse. It holds no state before PREPARE/INITREMOTE
// succeeds; after that it owns exactly one dvdataset.Dataset for the
// process lifetime, per spec.md §9's "no singleton, no process-global
// cache" guidance.
type Remote struct {
	credSource credential.Source

	opts    *config.Options
	client  *dataverseapi.Client
	dataset *dvdataset.Dataset
}

// New builds a Remote that obtains tokens via credSource.
func New(credSource credential.Source) *Remote {
	return &Remote{credSource: credSource}
}

func (r *Remote) store(conn *annexproto.Conn) keyfids.Store {
	return connStateStore{conn: conn}
}

// setup runs the shared PREPARE/INITREMOTE sequence: read configuration,
// obtain a token, construct the HTTP client and the dataset model.
func (r *Remote) setup(ctx context.Context, conn *annexproto.Conn) error {
	raw := make(map[string]string, len(configKeys))
	for _, k := range configKeys {
		v, err := conn.GetConfig(k)
		if err != nil {
			return errcode.Wrap(errcode.Transport, err, "read remote configuration")
		}
		if v != "" {
			raw[k] = v
		}
	}

	opts, err := config.Parse(raw)
	if err != nil {
		return err
	}

	token, err := r.credSource.Token(opts.URL, opts.Credential)
	if err != nil {
		return errcode.Wrap(errcode.Auth, err, "obtain Dataverse API token")
	}

	client := dataverseapi.New(opts.URL, token)
	dataset, err := dvdataset.New(ctx, client, opts.DOI, opts.RootPath)
	if err != nil {
		return err
	}

	r.opts = opts
	r.client = client
	r.dataset = dataset

	// Marks successful credential use, per spec.md §4.6 PREPARE: "Persist
	// the credential with a last-used marker on success."
	_ = conn.SetState("credential-last-used", time.Now().UTC().Format(time.RFC3339))
	return nil
}

// Prepare implements annexproto.Handler.
func (r *Remote) Prepare(ctx context.Context, conn *annexproto.Conn) error {
	return r.setup(ctx, conn)
}

// InitRemote implements annexproto.Handler. It runs the identical setup
// sequence as Prepare: INITREMOTE's only job beyond PREPARE's is to prove
// the given configuration is usable once, at `git annex initremote` time.
func (r *Remote) InitRemote(ctx context.Context, conn *annexproto.Conn) error {
	return r.setup(ctx, conn)
}

func annexPath(conn *annexproto.Conn, key string) (string, error) {
	dirhash, err := conn.DirHashLower(key)
	if err != nil {
		return "", err
	}
	return "annex/" + dirhash + "/" + key, nil
}

func anyKey(s map[int]struct{}) (int, bool) {
	for k := range s {
		return k, true
	}
	return 0, false
}

// CheckPresent implements annexproto.Handler (spec.md §4.6 CHECKPRESENT).
func (r *Remote) CheckPresent(ctx context.Context, conn *annexproto.Conn, key string) (annexproto.Presence, error) {
	store := r.store(conn)
	bound, err := keyfids.Get(ctx, store, key)
	if err != nil {
		return annexproto.Unknown, err
	}

	if len(bound) > 0 {
		for fid := range bound {
			ok, err := r.dataset.HasFileID(ctx, fid)
			if err != nil {
				return annexproto.Unknown, err
			}
			if ok {
				return annexproto.Present, nil
			}
		}
		return annexproto.NotPresent, nil
	}

	p, err := annexPath(conn, key)
	if err != nil {
		return annexproto.Unknown, err
	}
	fid, ok, err := r.dataset.GetFileIDFromPath(ctx, p, false)
	if err != nil {
		return annexproto.Unknown, err
	}
	if !ok {
		return annexproto.NotPresent, nil
	}
	if err := keyfids.Add(ctx, store, key, fid); err != nil {
		return annexproto.Unknown, err
	}
	return annexproto.Present, nil
}

// TransferStore implements annexproto.Handler (spec.md §4.6 TRANSFER STORE).
func (r *Remote) TransferStore(ctx context.Context, conn *annexproto.Conn, key, file string) error {
	p, err := annexPath(conn, key)
	if err != nil {
		return err
	}
	return r.storeKernel(ctx, conn, key, file, p, true)
}

// TransferStoreExport implements annexproto.Handler (TRANSFEREXPORT STORE).
func (r *Remote) TransferStoreExport(ctx context.Context, conn *annexproto.Conn, key, file, rpath string) error {
	return r.storeKernel(ctx, conn, key, file, rpath, true)
}

// storeKernel is the shared STORE kernel for regular and export mode, which
// differ only in how remotePath was derived by the caller.
func (r *Remote) storeKernel(ctx context.Context, conn *annexproto.Conn, key, file, remotePath string, latestOnly bool) error {
	store := r.store(conn)

	rid, hadReplace, err := r.dataset.GetFileIDFromPath(ctx, remotePath, latestOnly)
	if err != nil {
		return err
	}

	var wasReleased bool
	if hadReplace {
		wasReleased, err = r.dataset.IsReleasedFile(ctx, rid)
		if err != nil {
			return err
		}
	}

	var replace *int
	if hadReplace {
		replace = &rid
	}
	newFid, err := r.dataset.UploadFile(ctx, file, remotePath, replace)
	if err != nil {
		if errcode.Is(err, errcode.DuplicateContent) {
			dvlog.GetLogger(ctx).Debugf("duplicate content for key %s, treating STORE as no-op success", key)
			return nil
		}
		return err
	}

	if hadReplace && !wasReleased {
		if err := keyfids.Remove(ctx, store, key, rid); err != nil {
			return err
		}
	}
	return keyfids.Add(ctx, store, key, newFid)
}

// TransferRetrieve implements annexproto.Handler (TRANSFER RETRIEVE).
func (r *Remote) TransferRetrieve(ctx context.Context, conn *annexproto.Conn, key, file string) error {
	p, err := annexPath(conn, key)
	if err != nil {
		return err
	}
	return r.retrieve(ctx, conn, key, file, p, false)
}

// TransferRetrieveExport implements annexproto.Handler (TRANSFEREXPORT
// RETRIEVE).
func (r *Remote) TransferRetrieveExport(ctx context.Context, conn *annexproto.Conn, key, file, rpath string) error {
	return r.retrieve(ctx, conn, key, file, rpath, true)
}

func (r *Remote) retrieve(ctx context.Context, conn *annexproto.Conn, key, file, remotePath string, latestOnly bool) error {
	store := r.store(conn)
	bound, err := keyfids.Get(ctx, store, key)
	if err != nil {
		return err
	}

	fid, found := anyKey(bound)
	if !found {
		resolved, ok, err := r.dataset.GetFileIDFromPath(ctx, remotePath, latestOnly)
		if err != nil {
			return err
		}
		if !ok {
			return errcode.Newf(errcode.Unavailable, "no file id bound or resolvable for key %q", key)
		}
		fid = resolved
	}
	return r.dataset.DownloadFile(ctx, fid, file)
}

// Remove implements annexproto.Handler (spec.md §4.6 REMOVE).
func (r *Remote) Remove(ctx context.Context, conn *annexproto.Conn, key string) error {
	p, err := annexPath(conn, key)
	if err != nil {
		return err
	}
	return r.remove(ctx, conn, key, p)
}

// RemoveExport implements annexproto.Handler (REMOVEEXPORT).
func (r *Remote) RemoveExport(ctx context.Context, conn *annexproto.Conn, key, rpath string) error {
	rid, ok, err := r.dataset.GetFileIDFromPath(ctx, rpath, true)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return r.removeOne(ctx, conn, key, rid)
}

func (r *Remote) remove(ctx context.Context, conn *annexproto.Conn, key, remotePath string) error {
	store := r.store(conn)
	bound, err := keyfids.Get(ctx, store, key)
	if err != nil {
		return err
	}

	targets := make(map[int]struct{}, len(bound)+1)
	for fid := range bound {
		targets[fid] = struct{}{}
	}
	if pathFid, ok, err := r.dataset.GetFileIDFromPath(ctx, remotePath, true); err != nil {
		return err
	} else if ok {
		targets[pathFid] = struct{}{}
	}

	for fid := range targets {
		if err := r.removeOne(ctx, conn, key, fid); err != nil {
			return err
		}
	}
	return nil
}

// removeOne removes fid if (and only if) it's present in the latest
// version, then unbinds it from key unless it survives in a released
// version — ids outside the latest version are a silent success per
// spec.md §4.6 REMOVE.
func (r *Remote) removeOne(ctx context.Context, conn *annexproto.Conn, key string, fid int) error {
	inLatest, err := r.dataset.HasFileIDInLatestVersion(ctx, fid)
	if err != nil {
		return err
	}
	if !inLatest {
		return nil
	}
	if err := r.dataset.RemoveFile(ctx, fid); err != nil {
		return err
	}
	released, err := r.dataset.IsReleasedFile(ctx, fid)
	if err != nil {
		return err
	}
	if released {
		return nil
	}
	return keyfids.Remove(ctx, r.store(conn), key, fid)
}

// CheckPresentExport implements annexproto.Handler (CHECKPRESENTEXPORT).
func (r *Remote) CheckPresentExport(ctx context.Context, conn *annexproto.Conn, key, rpath string) (annexproto.Presence, error) {
	bound, err := keyfids.Get(ctx, r.store(conn), key)
	if err != nil {
		return annexproto.Unknown, err
	}

	if len(bound) > 0 {
		fid, ok, err := r.dataset.GetFileIDFromPath(ctx, rpath, true)
		if err != nil {
			return annexproto.Unknown, err
		}
		if ok {
			if _, inSet := bound[fid]; inSet {
				return annexproto.Present, nil
			}
		}
		return annexproto.NotPresent, nil
	}

	ok, err := r.dataset.HasPathInLatestVersion(ctx, rpath)
	if err != nil {
		return annexproto.Unknown, err
	}
	if ok {
		return annexproto.Present, nil
	}
	return annexproto.NotPresent, nil
}

// RenameExport implements annexproto.Handler (RENAMEEXPORT). A NotRenameable
// failure here is surfaced by annexproto as UNSUPPORTED-REQUEST so the host
// falls back to remove+store.
func (r *Remote) RenameExport(ctx context.Context, conn *annexproto.Conn, key, oldRpath, newRpath string) error {
	rid, ok, err := r.dataset.GetFileIDFromPath(ctx, oldRpath, true)
	if err != nil {
		return err
	}
	if !ok {
		return errcode.Newf(errcode.NotRenameable, "no file id found for path %q", oldRpath)
	}
	_, err = r.dataset.RenameFile(ctx, newRpath, rid, oldRpath)
	return err
}
