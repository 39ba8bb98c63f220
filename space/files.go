package space

import (
	"os"

	"github.com/pkg/errors"

	"github.com/wt-db/wt/page"
)

// Fixed file extensions a persistent table keeps on disk.
const (
	ExtData = ".wt.data"
	ExtIdx  = ".wt.idx"
	ExtInfo = ".wt.info"
)

// PrimaryIndexFileName is the fixed base name for the primary index's
// file, distinguishing it from secondary indexes which are named after
// their declared index name.
const PrimaryIndexFileName = "primary"

// FileSet owns the open file handles for one persistent table: the
// data heap, one index file per index, and the single info page.
type FileSet struct {
	dir      string
	name     string
	pageSize int

	data *os.File
	idx  map[string]*os.File
	info *os.File
}

// OpenFileSet opens (creating if needed) every file for table name under
// dir. indexNames lists every secondary index; the primary index's log
// is always present.
func OpenFileSet(dir, name string, pageSize int, indexNames []string) (*FileSet, error) {
	fs := &FileSet{dir: dir, name: name, pageSize: pageSize, idx: make(map[string]*os.File)}

	var err error
	fs.data, err = openRW(dir + "/" + name + ExtData)
	if err != nil {
		return nil, errors.Wrap(err, "space: open data file")
	}
	fs.info, err = openRW(dir + "/" + name + ExtInfo)
	if err != nil {
		fs.data.Close()
		return nil, errors.Wrap(err, "space: open info file")
	}
	allIdx := append([]string{PrimaryIndexFileName}, indexNames...)
	for _, idxName := range allIdx {
		f, err := openRW(dir + "/" + idxName + ExtIdx)
		if err != nil {
			fs.Close()
			return nil, errors.Wrapf(err, "space: open index file %q", idxName)
		}
		fs.idx[idxName] = f
	}
	return fs, nil
}

func openRW(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
}

// ReadPage reads one fixed-size page from the data file.
func (fs *FileSet) ReadPage(id page.ID) ([]byte, error) {
	buf := make([]byte, fs.pageSize)
	off := int64(id) * int64(fs.pageSize)
	if _, err := fs.data.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(err, "space: read page %d", id)
	}
	return buf, nil
}

// WritePage writes one fixed-size page to the data file at id's slot,
// growing the file as needed.
func (fs *FileSet) WritePage(id page.ID, buf []byte) error {
	off := int64(id) * int64(fs.pageSize)
	if _, err := fs.data.WriteAt(buf, off); err != nil {
		return errors.Wrapf(err, "space: write page %d", id)
	}
	return nil
}

// ReadIndexPage reads one fixed-size page from the named index's file
// (or the primary file, if name == PrimaryIndexFileName).
func (fs *FileSet) ReadIndexPage(name string, id page.ID) ([]byte, error) {
	f, ok := fs.idx[name]
	if !ok {
		return nil, errors.Errorf("space: unknown index file %q", name)
	}
	buf := make([]byte, fs.pageSize)
	off := int64(id) * int64(fs.pageSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, errors.Wrapf(err, "space: read index page %s/%d", name, id)
	}
	return buf, nil
}

// WriteIndexPage writes one fixed-size page to the named index's file at
// id's slot, growing the file as needed.
func (fs *FileSet) WriteIndexPage(name string, id page.ID, buf []byte) error {
	f, ok := fs.idx[name]
	if !ok {
		return errors.Errorf("space: unknown index file %q", name)
	}
	off := int64(id) * int64(fs.pageSize)
	if _, err := f.WriteAt(buf, off); err != nil {
		return errors.Wrapf(err, "space: write index page %s/%d", name, id)
	}
	return nil
}

// IndexFileEmpty reports whether the named index's file holds no pages
// yet (a brand-new space, or an index that never saw a checkpoint).
func (fs *FileSet) IndexFileEmpty(name string) (bool, error) {
	f, ok := fs.idx[name]
	if !ok {
		return false, errors.Errorf("space: unknown index file %q", name)
	}
	info, err := f.Stat()
	if err != nil {
		return false, errors.Wrap(err, "space: stat index file")
	}
	return info.Size() == 0, nil
}

// ReadInfo reads the single SpaceInfo page from the info file.
func (fs *FileSet) ReadInfo() ([]byte, error) {
	buf := make([]byte, fs.pageSize)
	if _, err := fs.info.ReadAt(buf, 0); err != nil {
		return nil, errors.Wrap(err, "space: read info page")
	}
	return buf, nil
}

// WriteInfo writes the SpaceInfo page to the info file.
func (fs *FileSet) WriteInfo(buf []byte) error {
	if _, err := fs.info.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "space: write info page")
	}
	return fs.info.Sync()
}

// IsNew reports whether the info file was empty before this FileSet was
// opened (i.e. this is a brand-new space, not a reopen).
func (fs *FileSet) IsNew() (bool, error) {
	info, err := fs.info.Stat()
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

// Sync flushes every open file to stable storage.
func (fs *FileSet) Sync() error {
	if err := fs.data.Sync(); err != nil {
		return err
	}
	for _, f := range fs.idx {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return fs.info.Sync()
}

// Close closes every open file handle.
func (fs *FileSet) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if fs.data != nil {
		record(fs.data.Close())
	}
	for _, f := range fs.idx {
		record(f.Close())
	}
	if fs.info != nil {
		record(fs.info.Close())
	}
	return firstErr
}
