package remote

import (
	"context"

	"github.com/datalad/datalad-dataverse/annexproto"
)

// connStateStore adapts *annexproto.Conn's per-key state calls (which carry
// no context, since the underlying stdio channel cannot be cancelled mid
// read/write — see spec.md §5) to the ctx-taking keyfids.Store interface.
type connStateStore struct {
	conn *annexproto.Conn
}

func (s connStateStore) GetState(_ context.Context, key string) (string, error) {
	return s.conn.GetState(key)
}

func (s connStateStore) SetState(_ context.Context, key, value string) error {
	return s.conn.SetState(key, value)
}
