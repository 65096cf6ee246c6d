//go:build !sqlite_fts5

package store

// The schema creates fts5 virtual tables, which mattn/go-sqlite3 compiles in
// only under the sqlite_fts5 build tag. Failing at init gives a clear message
// instead of "no such module: fts5" at schema creation.
func init() {
	panic("sqlite3 is compiled without FTS5: build with -tags sqlite_fts5 (see Makefile)")
}
