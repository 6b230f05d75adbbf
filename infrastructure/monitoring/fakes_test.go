package monitoring

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeRows implements pgx.Rows over an in-memory table, so the query
// analyzer/index auditor/cache monitor can be tested without a live
// backend.
type fakeRows struct {
	data    [][]any
	current int
	err     error
}

func newFakeRows(data [][]any) *fakeRows { return &fakeRows{data: data, current: -1} }

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Conn() *pgx.Conn                               { return nil }
func (r *fakeRows) RawValues() [][]byte                           { return nil }

func (r *fakeRows) Next() bool {
	if r.err != nil {
		return false
	}
	r.current++
	return r.current < len(r.data)
}

func (r *fakeRows) Values() ([]any, error) {
	if r.current < 0 || r.current >= len(r.data) {
		return nil, pgx.ErrNoRows
	}
	return r.data[r.current], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.current < 0 || r.current >= len(r.data) {
		return pgx.ErrNoRows
	}
	row := r.data[r.current]
	for i, val := range dest {
		if i >= len(row) || row[i] == nil {
			continue
		}
		assign(val, row[i])
	}
	return nil
}

// assign copies src into the pointer dst via reflection, covering the
// scalar and pointer-to-scalar types the monitoring queries scan into.
func assign(dst any, src any) {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	elem := dv.Elem()

	if elem.Kind() == reflect.Ptr {
		if elem.Type().Elem() == sv.Type() {
			newVal := reflect.New(sv.Type())
			newVal.Elem().Set(sv)
			elem.Set(newVal)
		}
		return
	}
	if elem.Type() == sv.Type() {
		elem.Set(sv)
		return
	}
	if elem.Kind() == reflect.Slice && sv.Kind() == reflect.Slice {
		elem.Set(sv)
	}
}

// fakeRow implements pgx.Row over a single in-memory row.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		if i >= len(r.vals) || r.vals[i] == nil {
			continue
		}
		assign(d, r.vals[i])
	}
	return nil
}

// fakeQuerier is a scripted rowQuerier: each call to Query/QueryRow pops the
// next entry queued for it, in call order.
type fakeQuerier struct {
	queryResults   [][][]any
	queryErrs      []error
	queryRowVals   [][]any
	queryRowErrs   []error
	queryCalls     int
	queryRowCalls  int
}

func (f *fakeQuerier) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	i := f.queryCalls
	f.queryCalls++
	var err error
	if i < len(f.queryErrs) {
		err = f.queryErrs[i]
	}
	if err != nil {
		return nil, err
	}
	var data [][]any
	if i < len(f.queryResults) {
		data = f.queryResults[i]
	}
	return newFakeRows(data), nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	i := f.queryRowCalls
	f.queryRowCalls++
	var err error
	if i < len(f.queryRowErrs) {
		err = f.queryRowErrs[i]
	}
	var vals []any
	if i < len(f.queryRowVals) {
		vals = f.queryRowVals[i]
	}
	return fakeRow{vals: vals, err: err}
}
