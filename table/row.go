// Package table implements the generic table runtime:
// insert/update/delete/select wired together over the primary index,
// the secondary index set, the row lock map, a primary-key generator,
// and (for persistent tables) the operation log.
package table

import "github.com/wt-db/wt/index"

// Row is what a generated row type must supply so one Table
// implementation works for any declared schema, without generics: its
// own primary key, every indexed column by name, and a byte encoding
// for heap storage.
type Row interface {
	// PrimaryKey returns this row's primary-key value. For
	// Autoincrement/Custom tables the caller must have already called
	// Table.NextPK and embedded the result before constructing the row.
	PrimaryKey() index.Key

	// IndexKey returns the ordered key for a named indexed column,
	// also used by secidx.Set.
	IndexKey(column string) index.Key

	// Encode serializes the row to its heap representation.
	Encode() ([]byte, error)

	// ChangedColumns reports which indexed columns differ between this
	// row and other, used by Update to only touch affected secondary
	// indexes.
	ChangedColumns(other Row) map[string]bool
}

// Decoder turns heap bytes back into a Row: supplied by generated code,
// one per table.
type Decoder func([]byte) (Row, error)
