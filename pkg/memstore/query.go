package memstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MgenGlder/docbind/pkg/store"
)

// Comparison operators accepted by Query.Where.
const (
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpLess         = "<"
	OpLessOrEqual  = "<="
	OpGreater      = ">"
	OpGreaterEqual = ">="
)

type whereClause struct {
	field string
	op    string
	value any
}

type orderClause struct {
	field string
	desc  bool
}

// Query is a filtered, ordered view over a collection. The zero
// filter set matches every document; the zero order is ascending
// document ID, which is also the final tiebreaker for any explicit
// ordering, so result order is always total and deterministic.
//
// Builder methods derive a new Query and never mutate the receiver,
// so a partially built query can be shared and extended in different
// directions.
type Query struct {
	col     *Collection
	clauses []whereClause
	orders  []orderClause
	limit   int
	err     error
}

// Where derives a query additionally filtered by "field op value".
// Supported operators: ==, !=, <, <=, >, >=. An unknown operator is
// reported through the subscription's error callback rather than
// here, keeping the builder chainable.
func (q *Query) Where(field, op string, value any) *Query {
	next := q.clone()
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterEqual:
		next.clauses = append(next.clauses, whereClause{field: field, op: op, value: value})
	default:
		if next.err == nil {
			next.err = fmt.Errorf("%w: %q", ErrUnknownOperator, op)
		}
	}
	return next
}

// OrderBy derives a query ordered by the given field. Repeated calls
// append secondary sort keys. Documents missing the field sort before
// documents that have it.
func (q *Query) OrderBy(field string, desc bool) *Query {
	next := q.clone()
	next.orders = append(next.orders, orderClause{field: field, desc: desc})
	return next
}

// Limit derives a query truncated to the first n results. n <= 0
// means unlimited.
func (q *Query) Limit(n int) *Query {
	next := q.clone()
	next.limit = n
	return next
}

// Path returns the queried collection's name.
func (q *Query) Path() string {
	return q.col.name
}

// Subscribe registers listeners for the query's change stream. The
// first batch reports every matching document as Added in result
// order; each store mutation that alters the result set produces one
// further diff batch.
func (q *Query) Subscribe(onChanges func([]store.Change), onError func(error)) store.Unsubscribe {
	frozen := q.clone()
	return q.col.store.subscribeQuery(frozen, onChanges, onError)
}

func (q *Query) clone() *Query {
	return &Query{
		col:     q.col,
		clauses: append([]whereClause(nil), q.clauses...),
		orders:  append([]orderClause(nil), q.orders...),
		limit:   q.limit,
		err:     q.err,
	}
}

// evaluate computes the query's current result list. Caller holds the
// store lock. Snapshots carry cloned data.
func (q *Query) evaluate(docs map[string]map[string]any) []store.Snapshot {
	var result []store.Snapshot
	for id, data := range docs {
		if q.matches(data) {
			result = append(result, snapshotOf(id, data))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return q.less(result[i], result[j])
	})

	if q.limit > 0 && len(result) > q.limit {
		result = result[:q.limit]
	}
	return result
}

func (q *Query) matches(data map[string]any) bool {
	for _, c := range q.clauses {
		fv, ok := data[c.field]
		if !ok {
			return false
		}
		cmp := compareValues(fv, c.value)
		switch c.op {
		case OpEqual:
			if cmp != 0 {
				return false
			}
		case OpNotEqual:
			if cmp == 0 {
				return false
			}
		case OpLess:
			if cmp >= 0 {
				return false
			}
		case OpLessOrEqual:
			if cmp > 0 {
				return false
			}
		case OpGreater:
			if cmp <= 0 {
				return false
			}
		case OpGreaterEqual:
			if cmp < 0 {
				return false
			}
		}
	}
	return true
}

func (q *Query) less(a, b store.Snapshot) bool {
	for _, o := range q.orders {
		av, aok := a.Data[o.field]
		bv, bok := b.Data[o.field]

		var cmp int
		switch {
		case !aok && !bok:
			cmp = 0
		case !aok:
			cmp = -1
		case !bok:
			cmp = 1
		default:
			cmp = compareValues(av, bv)
		}

		if o.desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp < 0
		}
	}
	// Document ID is the final tiebreaker and the default order.
	return a.ID < b.ID
}

// compareValues imposes a total order over field values. Numbers
// compare numerically across integer and float representations
// (including values decoded from JSON), strings lexically, bools with
// false < true. Mixed or unknown types fall back to comparing their
// formatted forms, which keeps the order total if arbitrary.
func compareValues(a, b any) int {
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}

	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs)
		}
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
