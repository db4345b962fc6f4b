package store

import (
	"errors"
	"strings"
)

// errUnordered is returned when a query is built without ORDER BY.
var errUnordered = errors.New("query has no ORDER BY")

// selectQuery assembles a parameterized SELECT.
//
// Every query must carry an ORDER BY with a unique tiebreaker so results
// are identical across runs. Values are always bound, never interpolated.
type selectQuery struct {
	table   string
	columns []string
	joins   []string
	conds   []string
	args    []any
	order   []string
}

func selectFrom(table string, columns ...string) *selectQuery {
	return &selectQuery{table: table, columns: columns}
}

func (q *selectQuery) join(clause string) *selectQuery {
	q.joins = append(q.joins, clause)
	return q
}

func (q *selectQuery) where(cond string, args ...any) *selectQuery {
	q.conds = append(q.conds, cond)
	q.args = append(q.args, args...)
	return q
}

// whereIf adds cond only when ok is true.
func (q *selectQuery) whereIf(ok bool, cond string, args ...any) *selectQuery {
	if !ok {
		return q
	}
	return q.where(cond, args...)
}

func (q *selectQuery) orderBy(cols ...string) *selectQuery {
	q.order = append(q.order, cols...)
	return q
}

func (q *selectQuery) build() (string, []any, error) {
	if len(q.order) == 0 {
		return "", nil, errUnordered
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.table)
	for _, j := range q.joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(q.order, ", "))

	args := q.args
	if args == nil {
		args = []any{}
	}
	return b.String(), args, nil
}
