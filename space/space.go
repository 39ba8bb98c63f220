package space

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/wt-db/wt/index"
	"github.com/wt-db/wt/oplog"
	"github.com/wt-db/wt/page"
	"github.com/wt-db/wt/wterrors"
)

// Config describes one persistent table's on-disk layout.
type Config struct {
	Dir                 string
	Name                string
	PageSize            int
	SecondaryIndexNames []string
	BufferPoolSize      int
}

// Space is the on-disk half of a persistent table: the data heap, one
// TOC-fronted index file per declared index, the space info page, and an
// LRU buffer pool in front of the data heap. It implements
// oplog.PersistenceEngine so a Task can drive it directly, and
// CheckpointEngine so an oplog.Scheduler can drive periodic maintenance.
type Space struct {
	mu       sync.Mutex
	files    *FileSet
	pool     *BufferPool
	info     *Info
	indexes  map[string]*SpaceIndex
	pageSize int
}

// Open opens or creates the space described by cfg. An existing space
// has its info page and every index file's TOC and pages streamed back
// in before any new work is accepted.
func Open(cfg Config) (*Space, error) {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = page.DefaultPageSize
	}
	fs, err := OpenFileSet(cfg.Dir, cfg.Name, pageSize, cfg.SecondaryIndexNames)
	if err != nil {
		return nil, err
	}
	isNew, err := fs.IsNew()
	if err != nil {
		fs.Close()
		return nil, err
	}

	var info *Info
	if isNew {
		info = New(1, cfg.Name)
		if err := fs.WriteInfo(Marshal(info, pageSize)); err != nil {
			fs.Close()
			return nil, err
		}
	} else {
		buf, err := fs.ReadInfo()
		if err != nil {
			fs.Close()
			return nil, err
		}
		info, err = Unmarshal(buf)
		if err != nil {
			fs.Close()
			return nil, errors.Wrap(err, "space: recover info page")
		}
	}

	indexes := make(map[string]*SpaceIndex, 1+len(cfg.SecondaryIndexNames))
	for _, name := range append([]string{PrimaryIndexFileName}, cfg.SecondaryIndexNames...) {
		si := newSpaceIndex(name, pageSize)
		if err := si.Load(fs); err != nil {
			fs.Close()
			return nil, errors.Wrapf(err, "space: recover index %q", name)
		}
		indexes[name] = si
	}

	return &Space{
		files:    fs,
		pool:     NewBufferPool(cfg.BufferPoolSize),
		info:     info,
		indexes:  indexes,
		pageSize: pageSize,
	}, nil
}

// Info returns the space's current info-page snapshot.
func (s *Space) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.info
}

// AllocatePageID reserves and returns a data page id, reusing a page
// freed by Reclaim before growing the space's recorded page count.
func (s *Space) AllocatePageID() page.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.info.FreePages); n > 0 {
		id := s.info.FreePages[n-1]
		s.info.FreePages = s.info.FreePages[:n-1]
		return id
	}
	id := page.ID(s.info.PageCount)
	s.info.PageCount++
	return id
}

// ReadDataPage returns the data page for id, from the buffer pool if
// resident, otherwise from disk.
func (s *Space) ReadDataPage(id page.ID) (*page.DataPage, error) {
	if f, ok := s.pool.Get(id); ok {
		return page.WrapDataPage(f.Buf()), nil
	}
	buf, err := s.files.ReadPage(id)
	if err != nil {
		return nil, err
	}
	if !page.VerifyCRC(buf) {
		return nil, wterrors.NewPagesError(wterrors.PagesErrorCorrupt, "data page CRC mismatch", nil)
	}
	s.pool.Put(NewFrame(id, buf))
	return page.WrapDataPage(buf), nil
}

// InitDataPage allocates a fresh page id, initializes it as an empty
// data page, and caches it dirty.
func (s *Space) InitDataPage() (*page.DataPage, page.ID) {
	id := s.AllocatePageID()
	buf := make([]byte, s.pageSize)
	dp := page.InitDataPage(buf, id, s.info.ID)
	s.pool.Put(NewFrame(id, buf))
	s.pool.MarkDirty(id)
	return dp, id
}

// WriteDataPage marks id's cached page dirty so Checkpoint flushes it,
// falling back to an immediate write if it is not cache-resident.
func (s *Space) WriteDataPage(dp *page.DataPage, id page.ID) error {
	page.SetCRC(dp.Bytes())
	if _, ok := s.pool.Get(id); ok {
		s.pool.MarkDirty(id)
		return nil
	}
	return s.files.WritePage(id, dp.Bytes())
}

// IndexEntries returns every (key, link) pair currently held by the
// named index file (or PrimaryIndexFileName), in ascending key order,
// used by the table layer to rebuild an in-memory index on Open.
func (s *Space) IndexEntries(name string) ([]IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si, ok := s.indexes[name]
	if !ok {
		return nil, errors.Errorf("space: unknown index %q", name)
	}
	return si.Entries(), nil
}

// ApplyOperation implements oplog.PersistenceEngine: it writes the
// row's encoded bytes (or ghosts its old link, for a delete), streams
// every CDC event the mutation produced through the relevant index
// file, and keeps the info page's generator state and empty-links list
// current.
func (s *Space) ApplyOperation(op oplog.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op.Kind {
	case oplog.KindInsert, oplog.KindUpdate:
		dp, err := s.ReadDataPage(op.Link.PageID)
		if err != nil {
			return errors.Wrap(err, "space: apply operation: read data page")
		}
		if err := dp.Write(op.Link, op.Encoded); err != nil {
			return errors.Wrap(err, "space: apply operation: write row")
		}
		if err := s.WriteDataPage(dp, op.Link.PageID); err != nil {
			return err
		}
		s.removeEmptyLink(op.Link)
		if op.Kind == oplog.KindUpdate && !op.OldLink.Zero() && op.OldLink != op.Link {
			oldDP, err := s.ReadDataPage(op.OldLink.PageID)
			if err == nil && !oldDP.IsGhosted(op.OldLink) {
				oldDP.Ghost(op.OldLink)
				s.WriteDataPage(oldDP, op.OldLink.PageID)
			}
			s.addEmptyLink(op.OldLink)
		}
	case oplog.KindDelete:
		dp, err := s.ReadDataPage(op.OldLink.PageID)
		if err != nil {
			return errors.Wrap(err, "space: apply operation: read data page for delete")
		}
		if !dp.IsGhosted(op.OldLink) {
			if err := dp.Ghost(op.OldLink); err != nil {
				return errors.Wrap(err, "space: apply operation: ghost row")
			}
		}
		if err := s.WriteDataPage(dp, op.OldLink.PageID); err != nil {
			return err
		}
		s.addEmptyLink(op.OldLink)
	}

	if err := s.processEvents(PrimaryIndexFileName, op.PrimaryEvents); err != nil {
		return err
	}
	for name, evs := range op.SecondaryEvents {
		if err := s.processEvents(name, evs); err != nil {
			return err
		}
	}

	if op.Kind == oplog.KindInsert && op.PKGenState != nil {
		s.info.PKGenState = op.PKGenState
	}
	return nil
}

func (s *Space) processEvents(name string, evs []index.ChangeEvent) error {
	si, ok := s.indexes[name]
	if !ok {
		return errors.Errorf("space: events for undeclared index %q", name)
	}
	for _, e := range evs {
		if err := si.ProcessChangeEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// addEmptyLink records l as ghosted in the info page's empty-links list.
func (s *Space) addEmptyLink(l page.Link) {
	for _, e := range s.info.EmptyLinks {
		if e == l {
			return
		}
	}
	s.info.EmptyLinks = append(s.info.EmptyLinks, l)
}

// removeEmptyLink forgets l once a write reuses its slot.
func (s *Space) removeEmptyLink(l page.Link) {
	for i, e := range s.info.EmptyLinks {
		if e == l {
			s.info.EmptyLinks = append(s.info.EmptyLinks[:i], s.info.EmptyLinks[i+1:]...)
			return
		}
	}
}

// Checkpoint flushes every dirty cached data page, every index file's
// TOC and pages, and the info page to stable storage.
func (s *Space) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := s.pool.DirtyFrames()
	for _, f := range dirty {
		page.SetCRC(f.Buf())
		if err := s.files.WritePage(f.ID(), f.Buf()); err != nil {
			return errors.Wrap(err, "space: checkpoint flush page")
		}
	}
	s.pool.ClearDirty(dirty)

	for _, si := range s.indexes {
		if err := si.Flush(s.files, s.info.ID); err != nil {
			return errors.Wrapf(err, "space: checkpoint index %q", si.Name())
		}
	}

	if err := s.files.WriteInfo(Marshal(s.info, s.pageSize)); err != nil {
		return errors.Wrap(err, "space: checkpoint write info")
	}
	return s.files.Sync()
}

// GCResult reports the outcome of a Reclaim pass.
type GCResult struct {
	TotalPages     int
	ReachablePages int
	Reclaimed      int
}

// Reclaim performs reachability-based garbage collection: every data
// page not present in reachable is folded onto the info page's
// free-page list, dropped from the buffer pool so its stale content can
// never be flushed, and stripped of its ghosted links in EmptyLinks.
// AllocatePageID reuses freed pages before growing the file, and the
// list persists through the info page across restarts. The caller
// supplies reachable because only the table layer, which owns the
// primary and secondary indexes, knows which page ids any live entry
// still points at.
func (s *Space) Reclaim(reachable map[page.ID]bool) GCResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := int(s.info.PageCount)
	result := GCResult{TotalPages: total, ReachablePages: len(reachable)}

	free := make(map[page.ID]bool, len(s.info.FreePages))
	for _, id := range s.info.FreePages {
		free[id] = true
	}

	for id := page.ID(1); id < page.ID(total); id++ {
		if reachable[id] || free[id] {
			continue
		}
		if !s.pool.Remove(id) {
			continue // pinned; try again on a later pass
		}
		s.info.FreePages = append(s.info.FreePages, id)
		kept := s.info.EmptyLinks[:0]
		for _, l := range s.info.EmptyLinks {
			if l.PageID != id {
				kept = append(kept, l)
			}
		}
		s.info.EmptyLinks = kept
		result.Reclaimed++
	}
	return result
}

// Close flushes and closes every underlying file.
func (s *Space) Close() error {
	if err := s.Checkpoint(); err != nil {
		return err
	}
	return s.files.Close()
}
