// Package transformer provides streaming, allocation-conscious row
// handling and the type/value cleaner applied between raw staging and the
// committed business tables.
package transformer

import "sync"

// Row is a pooled container holding one positional input row, aligned to
// the source file's header.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() AFTER it is fully done with the
//     Row (and anything referencing r.V).
//
// IMPORTANT:
//   - During ctx cancellation, drain-safe stages may still be running
//     while the parser is unwinding. If canceled rows are returned to the
//     pool they can be reused immediately and written concurrently with
//     downstream reads.
//
// Therefore:
//   - Use Free() only on the normal path.
//   - Use Drop() on cancellation paths (no re-pooling; allow GC to reclaim).
type Row struct {
	V    []string
	Line int // 1-based logical record number, if known
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount. All elements are
// zeroed for safety.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]string, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = ""
		}
		r.Line = 0
		return r
	}
	return &Row{
		V:    make([]string, colCount),
		Line: 0,
	}
}

// Free returns the Row to the pool.
// Call this ONLY when no other goroutine can observe r or r.V.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row WITHOUT returning it to the pool.
//
// Use this on ctx-cancellation paths to prevent a canceled drain from
// racing with upstream reuse of the same pooled Row.
func (r *Row) Drop() {
	r.V = nil
	r.Line = 0
}
