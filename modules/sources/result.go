package sources

import "strings"

// Row is one result row: the column order of the result set plus a
// case-insensitive name lookup.
type Row struct {
	columns []string
	values  map[string]any
}

// NewRow builds a row from result-set columns and their values. Used by the
// query path and by tests that fabricate source output.
func NewRow(columns []string, values []any) Row {
	m := make(map[string]any, len(columns))
	for i, c := range columns {
		m[strings.ToLower(c)] = values[i]
	}
	return Row{columns: columns, values: m}
}

// Value looks a column up by name, ignoring case. The second return reports
// whether the column exists at all; a NULL value returns (nil, true).
func (r Row) Value(name string) (any, bool) {
	v, ok := r.values[strings.ToLower(name)]
	return v, ok
}

func (r Row) Columns() []string {
	return r.columns
}

// QueryResult is the raw output of one source query, rows in result-set
// order.
type QueryResult struct {
	Columns []string
	Rows    []Row
}
