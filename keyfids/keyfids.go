// Package keyfids persists, for each annex key, the set of Dataverse file
// ids that have ever represented it, using the host protocol's per-key
// getstate/setstate facility as the backing store. The encoding is a
// comma-separated decimal list; whitespace around entries is tolerated on
// read, and an empty state means the empty set.
//
// Grounded on baseremote.py's _get_annex_fileid_record/_set_annex_fileid_record,
// generalized from a single optional id to a set (spec.md §4.5).
package keyfids

import (
	"context"
	"sort"
	"strconv"
	"strings"
)

// Store is the host protocol's per-key state channel, as consumed here.
type Store interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// Get returns the set of file ids currently bound to key.
func Get(ctx context.Context, s Store, key string) (map[int]struct{}, error) {
	raw, err := s.GetState(ctx, key)
	if err != nil {
		return nil, err
	}
	return parse(raw), nil
}

// Set overwrites the binding for key with exactly ids. Set is idempotent.
func Set(ctx context.Context, s Store, key string, ids map[int]struct{}) error {
	return s.SetState(ctx, key, encode(ids))
}

// Add binds fid to key in addition to whatever is already bound.
func Add(ctx context.Context, s Store, key string, fid int) error {
	ids, err := Get(ctx, s, key)
	if err != nil {
		return err
	}
	ids[fid] = struct{}{}
	return Set(ctx, s, key, ids)
}

// Remove unbinds fid from key, if present. A no-op if fid was not bound.
func Remove(ctx context.Context, s Store, key string, fid int) error {
	ids, err := Get(ctx, s, key)
	if err != nil {
		return err
	}
	if _, ok := ids[fid]; !ok {
		return nil
	}
	delete(ids, fid)
	return Set(ctx, s, key, ids)
}

func parse(raw string) map[int]struct{} {
	ids := make(map[int]struct{})
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		ids[n] = struct{}{}
	}
	return ids
}

func encode(ids map[int]struct{}) string {
	list := make([]int, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Ints(list)

	parts := make([]string, len(list))
	for i, id := range list {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
