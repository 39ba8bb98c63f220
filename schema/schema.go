// Package schema parses the declarative table definitions a database
// bootstraps from: table names, columns with their primary-key/index
// qualifiers, named indexes, and per-table queries, expressed as YAML -
// a small tagged struct handed straight to yaml.Unmarshal.
package schema

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/wt-db/wt/page"
)

// PKGenMode selects how a table's primary key is produced.
type PKGenMode string

const (
	PKGenNone          PKGenMode = "none"
	PKGenAutoincrement PKGenMode = "autoincrement"
	PKGenCustom        PKGenMode = "custom"
)

// ColumnType names a column's storage representation. The generated row
// codec picks a Key implementation per type.
type ColumnType string

const (
	TypeInt64  ColumnType = "int64"
	TypeUint64 ColumnType = "uint64"
	TypeString ColumnType = "string"
	TypeBytes  ColumnType = "bytes"
	TypeBool   ColumnType = "bool"
	TypeFloat  ColumnType = "float64"
)

// Column describes one table column and its qualifiers.
type Column struct {
	Name          string     `yaml:"name"`
	Type          ColumnType `yaml:"type"`
	PrimaryKey    bool       `yaml:"primary_key,omitempty"`
	Autoincrement bool       `yaml:"autoincrement,omitempty"`
	Custom        bool       `yaml:"custom,omitempty"`
	Optional      bool       `yaml:"optional,omitempty"`
	Index         bool       `yaml:"index,omitempty"`
	Unique        bool       `yaml:"unique,omitempty"`
}

// IndexDef declares one secondary index, either a single-column
// shorthand (set on the Column itself) or an explicit multi-column
// TreeIndex.
type IndexDef struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

// QueryKind distinguishes the declarative query shapes a schema can
// pre-register for a table.
type QueryKind string

const (
	QueryUpdate  QueryKind = "update"
	QueryDelete  QueryKind = "delete"
	QueryInPlace QueryKind = "in_place"
)

// Query is one declared, named operation against a table.
type Query struct {
	Name   string    `yaml:"name"`
	Kind   QueryKind `yaml:"kind"`
	Column string    `yaml:"column"`
}

// Table is one table's full declaration.
type Table struct {
	Name    string     `yaml:"name"`
	Persist bool       `yaml:"persist"`
	Columns []Column   `yaml:"columns"`
	Indexes []IndexDef `yaml:"indexes,omitempty"`
	Queries []Query    `yaml:"queries,omitempty"`
}

// Config is the page-size and row-derivation knobs shared by every
// table in one database.
type Config struct {
	PageSize   int  `yaml:"page_size"`
	RowDerives bool `yaml:"row_derives,omitempty"`
}

// Database is the root of a declarative schema file.
type Database struct {
	Config Config  `yaml:"config"`
	Tables []Table `yaml:"tables"`
}

// Load reads and parses a schema file at path.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "schema: read config file")
	}
	var db Database
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, errors.Wrap(err, "schema: parse config file")
	}
	if err := db.Validate(); err != nil {
		return nil, err
	}
	return &db, nil
}

// Validate checks structural invariants: at least one PK qualifier per
// table (several declare a compound key), page size bounds, and no
// duplicate table/column/index names.
func (db *Database) Validate() error {
	if db.Config.PageSize == 0 {
		db.Config.PageSize = page.DefaultPageSize
	}
	if db.Config.PageSize < page.MinPageSize || db.Config.PageSize > page.MaxPageSize {
		return errors.Errorf("schema: page_size %d out of range [%d..%d]", db.Config.PageSize, page.MinPageSize, page.MaxPageSize)
	}
	seenTables := map[string]bool{}
	for _, t := range db.Tables {
		if seenTables[t.Name] {
			return errors.Errorf("schema: duplicate table %q", t.Name)
		}
		seenTables[t.Name] = true
		if err := t.validate(); err != nil {
			return errors.Wrapf(err, "schema: table %q", t.Name)
		}
	}
	return nil
}

func (t Table) validate() error {
	pkCount := 0
	seenCols := map[string]bool{}
	for _, c := range t.Columns {
		if seenCols[c.Name] {
			return errors.Errorf("duplicate column %q", c.Name)
		}
		seenCols[c.Name] = true
		if c.PrimaryKey {
			pkCount++
		}
		if c.Autoincrement && !c.PrimaryKey {
			return errors.Errorf("column %q: autoincrement requires primary_key", c.Name)
		}
	}
	if pkCount == 0 {
		return errors.Errorf("no primary_key column declared")
	}
	// Multiple primary_key columns declare a compound key, encoded with
	// index.Composite: not an error.
	seenIdx := map[string]bool{}
	for _, idx := range t.Indexes {
		if seenIdx[idx.Name] {
			return errors.Errorf("duplicate index %q", idx.Name)
		}
		seenIdx[idx.Name] = true
		for _, col := range idx.Columns {
			if !seenCols[col] {
				return errors.Errorf("index %q references unknown column %q", idx.Name, col)
			}
		}
	}
	return nil
}

// PKColumn returns the table's first declared primary-key column, if
// any. For a compound key, prefer PKColumns.
func (t Table) PKColumn() (Column, bool) {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c, true
		}
	}
	return Column{}, false
}

// PKColumns returns every column qualified primary_key, in declaration
// order: a single-element slice for a simple key, multiple for a
// compound one.
func (t Table) PKColumns() []Column {
	var cols []Column
	for _, c := range t.Columns {
		if c.PrimaryKey {
			cols = append(cols, c)
		}
	}
	return cols
}

// PKMode derives the generator mode implied by the PK column's
// qualifiers.
func (t Table) PKMode() PKGenMode {
	col, ok := t.PKColumn()
	if !ok {
		return PKGenNone
	}
	switch {
	case col.Autoincrement:
		return PKGenAutoincrement
	case col.Custom:
		return PKGenCustom
	default:
		return PKGenNone
	}
}
