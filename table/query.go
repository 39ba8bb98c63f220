package table

import (
	"sort"

	"github.com/wt-db/wt/index"
)

// QueryBuilder composes post-filtering over the rows an index lookup
// already produced. Queries in this engine are per-table index lookups
// plus post-filtering: there is no cross-row join or predicate
// language: so the builder stays a small fluent wrapper over a slice.
type QueryBuilder struct {
	rows   []Row
	where  func(Row) bool
	less   func(a, b Row) bool
	offset int
	limit  int
	hasLim bool
}

// NewQuery wraps rows for further composition. SelectByIndex returns a
// plain []Row that can seed a builder, as can rows collected from
// SelectAll's callback.
func NewQuery(rows []Row) *QueryBuilder {
	return &QueryBuilder{rows: rows}
}

// WhereBy keeps only rows for which pred returns true.
func (q *QueryBuilder) WhereBy(pred func(Row) bool) *QueryBuilder {
	q.where = pred
	return q
}

// OrderBy sorts the result using less, applied after WhereBy and before
// Limit/Offset so pagination is computed against the ordered set.
func (q *QueryBuilder) OrderBy(less func(a, b Row) bool) *QueryBuilder {
	q.less = less
	return q
}

// Limit caps the number of rows Execute returns.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	q.hasLim = true
	return q
}

// Offset skips the first n rows of the (filtered, ordered) result.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Execute applies WhereBy, OrderBy, Offset, and Limit in that order and
// returns the materialized result.
func (q *QueryBuilder) Execute() []Row {
	out := q.rows
	if q.where != nil {
		filtered := make([]Row, 0, len(out))
		for _, r := range out {
			if q.where(r) {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	} else {
		out = append([]Row(nil), out...)
	}

	if q.less != nil {
		sort.SliceStable(out, func(i, j int) bool { return q.less(out[i], out[j]) })
	}

	if q.offset > 0 {
		if q.offset >= len(out) {
			return nil
		}
		out = out[q.offset:]
	}
	if q.hasLim && q.limit < len(out) {
		out = out[:q.limit]
	}
	return out
}

// Len reports how many rows Execute would currently return without
// materializing the slice twice when a caller only needs a count.
func (q *QueryBuilder) Len() int { return len(q.Execute()) }

// SelectByIndexQuery is SelectByIndex composed with a QueryBuilder, the
// entry point for chained where/order/limit/offset reads over a
// non-unique index.
func (t *Table) SelectByIndexQuery(indexName string, key index.Key) (*QueryBuilder, error) {
	rows, err := t.SelectByIndex(indexName, key)
	if err != nil {
		return nil, err
	}
	return NewQuery(rows), nil
}
