package table

import (
	"fmt"
	"sync"

	"github.com/wt-db/wt/page"
	"github.com/wt-db/wt/wterrors"
)

func errNoPage(id page.ID) error {
	return wterrors.NewPagesError(wterrors.PagesErrorOutOfBounds, fmt.Sprintf("unknown page id %d", id), nil)
}

// pager is the minimal page-allocation contract Table needs; space.Space
// satisfies it for persistent tables, memPager satisfies it for
// in-memory-only ones, so the insert/update/delete/select algorithms
// never need to know which mode they're running in.
type pager interface {
	InitDataPage() (*page.DataPage, page.ID)
	ReadDataPage(id page.ID) (*page.DataPage, error)
	WriteDataPage(dp *page.DataPage, id page.ID) error
}

// memPager is the non-persistent pager: pages live only in a Go map and
// never touch disk. No CRC is maintained; the check only earns its cost
// once bytes cross the process boundary.
type memPager struct {
	mu       sync.RWMutex
	pageSize int
	spaceID  uint32
	nextID   uint32
	pages    map[page.ID]*page.DataPage
}

func newMemPager(pageSize int) *memPager {
	return &memPager{pageSize: pageSize, nextID: 1, pages: make(map[page.ID]*page.DataPage)}
}

func (m *memPager) InitDataPage() (*page.DataPage, page.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := page.ID(m.nextID)
	m.nextID++
	dp := page.InitDataPage(make([]byte, m.pageSize), id, m.spaceID)
	m.pages[id] = dp
	return dp, id
}

func (m *memPager) ReadDataPage(id page.ID) (*page.DataPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dp, ok := m.pages[id]
	if !ok {
		return nil, errNoPage(id)
	}
	return dp, nil
}

func (m *memPager) WriteDataPage(dp *page.DataPage, id page.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[id] = dp
	return nil
}
