package table

import (
	"github.com/pkg/errors"

	"github.com/wt-db/wt/space"
)

// Open builds a Table backed by a persistent space and, if the space
// already held data, reconstructs the primary and secondary indexes by
// streaming the pages the space recovered from disk. cfg.Pager must be
// a *space.Space (cfg.Engine is normally the same value, so it also
// drives the persistence task).
//
// The primary index file's (key, link) pairs are the durable record of
// which byte ranges are live rows: a data page carries no slot
// directory of its own (page/datapage.go). Every recovered link is read
// and decoded once; that row rebuilds every secondary index directly,
// which is cheaper than streaming each secondary index's own file and
// arrives at the same result, since a secondary index's content is a
// pure function of the rows plus their links. The generator state is
// restored first and then fast-forwarded past every recovered key, so
// a stale info page can never make it reissue a key the index already
// holds.
func Open(cfg Config) (*Table, error) {
	t := New(cfg)

	sp, ok := cfg.Pager.(*space.Space)
	if !ok {
		return t, nil
	}

	t.gen.Restore(sp.Info().PKGenState)

	entries, err := sp.IndexEntries(space.PrimaryIndexFileName)
	if err != nil {
		return nil, errors.Wrap(err, "table: recover primary index")
	}
	for _, e := range entries {
		row, err := t.readRow(e.Link)
		if err != nil {
			return nil, errors.Wrapf(err, "table: recover row at %+v", e.Link)
		}
		if _, existed := t.primary.Insert(e.Key, e.Link); existed {
			return nil, errors.Errorf("table: duplicate primary key %v in index file", e.Key)
		}
		if err := t.secondary.SaveRow(row, e.Link); err != nil {
			return nil, errors.Wrapf(err, "table: recover secondary indexes for %v", e.Key)
		}
		t.gen.Observe(e.Key)
	}

	return t, nil
}
