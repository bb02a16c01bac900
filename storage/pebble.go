package storage

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hboutemy/jackrabbit/utils"
)

const storeDir = "store"

var writeOptions = &pebble.WriteOptions{Sync: true}

// pebbleManager keeps one cbor bundle per node under an "n/" key prefix.
// A ChangeLog becomes a single pebble batch, which is what makes the
// change set all-or-nothing for readers.
type pebbleManager struct {
	db     *pebble.DB
	log    utils.Logger
	closed atomic.Bool
}

func openPebble(cfg Config, mem bool) (*pebbleManager, error) {
	var fs vfs.FS
	var path string
	if mem {
		fs = vfs.NewMem()
		path = storeDir
	} else {
		fs = cfg.Area.FS()
		path = cfg.Area.Path(storeDir)
	}
	db, err := pebble.Open(path, &pebble.Options{FS: fs})
	if err != nil {
		return nil, errors.Wrap(err, "storage: cannot open item store")
	}
	p := &pebbleManager{db: db, log: cfg.Logger}
	if cfg.RootID != uuid.Nil {
		ok, err := p.Exists(cfg.RootID)
		if err != nil {
			p.Close()
			return nil, err
		}
		if !ok {
			root := &NodeState{ID: cfg.RootID, Type: "rep:root"}
			if err := p.Apply((&ChangeLog{}).AddNode(root)); err != nil {
				p.Close()
				return nil, err
			}
		}
	}
	return p, nil
}

func nodeKey(id uuid.UUID) []byte {
	return append([]byte("n/"), id[:]...)
}

func (p *pebbleManager) Load(id uuid.UUID) (*NodeState, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	val, closer, err := p.db.Get(nodeKey(id))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: load")
	}
	defer closer.Close()
	state := &NodeState{}
	if err := cbor.Unmarshal(val, state); err != nil {
		return nil, errors.Wrap(err, "storage: undecodable bundle")
	}
	return state, nil
}

func (p *pebbleManager) Exists(id uuid.UUID) (bool, error) {
	if p.closed.Load() {
		return false, ErrClosed
	}
	_, closer, err := p.db.Get(nodeKey(id))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "storage: exists")
	}
	closer.Close()
	return true, nil
}

func (p *pebbleManager) Apply(cl *ChangeLog) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if cl.Empty() {
		return nil
	}
	b := p.db.NewBatch()
	defer b.Close()
	for _, s := range cl.Added {
		data, err := cbor.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "storage: encode")
		}
		if err := b.Set(nodeKey(s.ID), data, nil); err != nil {
			return err
		}
	}
	for _, s := range cl.Modified {
		data, err := cbor.Marshal(s)
		if err != nil {
			return errors.Wrap(err, "storage: encode")
		}
		if err := b.Set(nodeKey(s.ID), data, nil); err != nil {
			return err
		}
	}
	for _, id := range cl.Deleted {
		if err := b.Delete(nodeKey(id), nil); err != nil {
			return err
		}
	}
	return errors.Wrap(p.db.Apply(b, writeOptions), "storage: apply")
}

// Close is idempotent; a second call is a no-op.
func (p *pebbleManager) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Wrap(p.db.Close(), "storage: close item store")
}

// Metrics exposes the underlying store metrics for the collector.
func (p *pebbleManager) Metrics() *pebble.Metrics {
	return p.db.Metrics()
}
