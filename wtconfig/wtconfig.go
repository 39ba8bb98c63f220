// Package wtconfig holds the small set of knobs a bootstrap needs before
// any table is opened: page size bounds and where persistent tables keep
// their files.
package wtconfig

import (
	"github.com/pkg/errors"

	"github.com/wt-db/wt/page"
)

// PersistenceConfig locates a database's on-disk artifacts: the
// declarative schema file and the directory holding every persistent
// table's .wt.data/.wt.idx/.wt.info files.
type PersistenceConfig struct {
	ConfigPath string `yaml:"config_path"`
	TablesPath string `yaml:"tables_path"`
}

// DefaultPersistenceConfig points at the conventional layout: a
// wt.yaml schema file alongside a tables/ directory.
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{ConfigPath: "wt.yaml", TablesPath: "tables"}
}

// Validate rejects an obviously unusable configuration.
func (c PersistenceConfig) Validate() error {
	if c.ConfigPath == "" {
		return errors.New("wtconfig: config_path must not be empty")
	}
	if c.TablesPath == "" {
		return errors.New("wtconfig: tables_path must not be empty")
	}
	return nil
}

// ValidatePageSize checks ps against the page package's hard bounds and
// that it is a power of two, so page-offset arithmetic stays exact.
func ValidatePageSize(ps int) error {
	if ps < page.MinPageSize || ps > page.MaxPageSize {
		return errors.Errorf("wtconfig: page size %d out of range [%d..%d]", ps, page.MinPageSize, page.MaxPageSize)
	}
	if ps&(ps-1) != 0 {
		return errors.Errorf("wtconfig: page size %d is not a power of two", ps)
	}
	return nil
}
