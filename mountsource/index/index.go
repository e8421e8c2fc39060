// Package index implements the file-info index: a persistent table of
// entry rows keyed by (parent_path, name), backed by an in-memory
// SQLite database, serving lookup/list/versions for a mount source.
package index

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mountsource/core/mountsource"
)

// Row is the named persistence record replacing the positional
// 15-tuple: (parent_path, name, header_offset, data_offset, size, mtime,
// mode, type_tag, linkname, uid, gid, is_tar, is_sparse, is_generated,
// recursion_depth). header_offset/data_offset double as the HTML
// backend's span [start, end).
type Row struct {
	ParentPath     string
	Name           string
	HeaderOffset   int64
	DataOffset     int64
	Size           int64
	ModTime        int64
	Mode           fs.FileMode
	TypeTag        string
	LinkName       string
	UID            uint32
	GID            uint32
	IsTar          bool
	IsSparse       bool
	IsGenerated    bool
	RecursionDepth int
}

const schema = `
CREATE TABLE rows (
	parent_path TEXT NOT NULL,
	name TEXT NOT NULL,
	header_offset INTEGER NOT NULL,
	data_offset INTEGER NOT NULL,
	size INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	mode INTEGER NOT NULL,
	type_tag TEXT NOT NULL DEFAULT '',
	linkname TEXT NOT NULL DEFAULT '',
	uid INTEGER NOT NULL DEFAULT 0,
	gid INTEGER NOT NULL DEFAULT 0,
	is_tar INTEGER NOT NULL DEFAULT 0,
	is_sparse INTEGER NOT NULL DEFAULT 0,
	is_generated INTEGER NOT NULL DEFAULT 0,
	recursion_depth INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (parent_path, name)
);
CREATE INDEX idx_rows_parent ON rows(parent_path);
`

// Index is the frozen-after-construction row table. Lookups and lists
// are safe for concurrent use once SetRows has returned; no further
// mutation is supported.
type Index struct {
	mu     sync.RWMutex
	db     *sql.DB
	frozen bool
}

// New opens a fresh, empty, in-memory index.
func New() (*Index, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("index: opening backing store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: creating schema: %w", err)
	}
	return &Index{db: db}, nil
}

// SetRows is the terminal write: it bulk-inserts rows and freezes the
// index against further writes. It must be called exactly once.
func (idx *Index) SetRows(rows []Row) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.frozen {
		return fmt.Errorf("index: already frozen")
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("index: beginning transaction: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO rows
		(parent_path, name, header_offset, data_offset, size, mtime, mode,
		 type_tag, linkname, uid, gid, is_tar, is_sparse, is_generated, recursion_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("index: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(r.ParentPath, r.Name, r.HeaderOffset, r.DataOffset, r.Size,
			r.ModTime, uint32(r.Mode), r.TypeTag, r.LinkName, r.UID, r.GID,
			boolToInt(r.IsTar), boolToInt(r.IsSparse), boolToInt(r.IsGenerated), r.RecursionDepth)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("index: inserting row %s/%s: %w", r.ParentPath, r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: committing rows: %w", err)
	}
	idx.frozen = true
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowToFileInfo(r *Row) *mountsource.FileInfo {
	return &mountsource.FileInfo{
		Size:       r.Size,
		ModTime:    time.Unix(r.ModTime, 0),
		Mode:       r.Mode,
		LinkTarget: r.LinkName,
		UID:        r.UID,
		GID:        r.GID,
		Userdata: mountsource.IndexUserdata{
			HeaderOffset: r.HeaderOffset,
			DataOffset:   r.DataOffset,
			Size:         r.Size,
		},
	}
}

// syntheticDirInfo builds the FileInfo the index presents for a
// directory that has listable children but no explicit row.
func syntheticDirInfo() *mountsource.FileInfo {
	return &mountsource.FileInfo{
		Mode:     fs.ModeDir | 0o555,
		Userdata: mountsource.SyntheticDir{},
	}
}

func (idx *Index) queryRow(parent, name string) (*Row, bool, error) {
	row := idx.db.QueryRow(`SELECT parent_path, name, header_offset, data_offset, size, mtime,
		mode, type_tag, linkname, uid, gid, is_tar, is_sparse, is_generated, recursion_depth
		FROM rows WHERE parent_path = ? AND name = ?`, parent, name)

	var r Row
	var mode uint32
	var isTar, isSparse, isGenerated int
	err := row.Scan(&r.ParentPath, &r.Name, &r.HeaderOffset, &r.DataOffset, &r.Size, &r.ModTime,
		&mode, &r.TypeTag, &r.LinkName, &r.UID, &r.GID, &isTar, &isSparse, &isGenerated, &r.RecursionDepth)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("index: querying %s/%s: %w", parent, name, err)
	}
	r.Mode = fs.FileMode(mode)
	r.IsTar = isTar != 0
	r.IsSparse = isSparse != 0
	r.IsGenerated = isGenerated != 0
	return &r, true, nil
}

// likeEscaper escapes LIKE metacharacters so a literal path prefix can
// be matched safely with a trailing wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// descendantPrefix returns the LIKE pattern matching every path nested
// under dir (but not dir itself).
func descendantPrefix(dir string) string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	return likeEscaper.Replace(prefix) + "%"
}

// hasChildren reports whether any row's parent_path is dir itself or
// nested under it — archives rarely store an explicit row for every
// intermediate directory, so a directory several levels above an
// entry's parent_path must still be listable.
func (idx *Index) hasChildren(dir string) (bool, error) {
	var count int
	err := idx.db.QueryRow(`SELECT COUNT(*) FROM rows WHERE parent_path = ? OR parent_path LIKE ? ESCAPE '\'`,
		dir, descendantPrefix(dir)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("index: counting children of %s: %w", dir, err)
	}
	return count > 0, nil
}

// Lookup implements the index half of mountsource.Source.Lookup.
func (idx *Index) Lookup(p string) (*mountsource.FileInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lookupLocked(p)
}

// lookupLocked is Lookup's body, callable while idx.mu is already held
// for reading so List can share it without recursive RLock.
func (idx *Index) lookupLocked(p string) (*mountsource.FileInfo, bool) {
	p = QueryNormpath(p)
	if p == "/" {
		return idx.lookupRoot()
	}

	parent, name := path.Split(p)
	parent = Normpath(parent)

	r, ok, err := idx.queryRow(parent, name)
	if err != nil || !ok {
		if err != nil {
			return nil, false
		}
		has, err := idx.hasChildren(p)
		if err != nil || !has {
			return nil, false
		}
		return syntheticDirInfo(), true
	}
	return rowToFileInfo(r), true
}

// lookupRoot returns the root directory. Root never has an explicit
// row (its parent_path would be the empty string, which set_rows never
// stores) so it is always the synthesized directory.
func (idx *Index) lookupRoot() (*mountsource.FileInfo, bool) {
	return syntheticDirInfo(), true
}

// List implements the index half of mountsource.Source.List. Children
// nested more than one level below p (which have no row of their own
// at p, only a descendant parent_path) surface as synthetic
// directories named after their next path segment.
func (idx *Index) List(p string) (map[string]*mountsource.FileInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p = QueryNormpath(p)
	fi, ok := idx.lookupLocked(p)
	if !ok || !fi.IsDir() {
		return nil, false
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	rows, err := idx.db.Query(`SELECT parent_path, name, header_offset, data_offset, size, mtime,
		mode, type_tag, linkname, uid, gid, is_tar, is_sparse, is_generated, recursion_depth
		FROM rows WHERE parent_path = ? OR parent_path LIKE ? ESCAPE '\'`, p, descendantPrefix(p))
	if err != nil {
		return nil, false
	}
	defer rows.Close()

	children := make(map[string]*mountsource.FileInfo)
	for rows.Next() {
		var r Row
		var mode uint32
		var isTar, isSparse, isGenerated int
		if err := rows.Scan(&r.ParentPath, &r.Name, &r.HeaderOffset, &r.DataOffset, &r.Size, &r.ModTime,
			&mode, &r.TypeTag, &r.LinkName, &r.UID, &r.GID, &isTar, &isSparse, &isGenerated, &r.RecursionDepth); err != nil {
			continue
		}
		r.Mode = fs.FileMode(mode)

		if r.ParentPath == p {
			children[r.Name] = rowToFileInfo(&r)
			continue
		}
		rest := strings.TrimPrefix(r.ParentPath, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if _, exists := children[rest]; !exists {
			children[rest] = syntheticDirInfo()
		}
	}
	return children, true
}

// Versions implements the index half of mountsource.Source.Versions: 1
// when an explicit row exists at p, else 0. Synthetic directories (no
// row of their own, only listable descendants) report 0.
func (idx *Index) Versions(p string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p = QueryNormpath(p)
	if p == "/" {
		return 0
	}
	parent, name := path.Split(p)
	parent = Normpath(parent)

	r, ok, err := idx.queryRow(parent, name)
	if err != nil || !ok || r == nil {
		return 0
	}
	return 1
}

// Normpath canonicalizes p to storage form: repeated separators
// collapsed, "." and ".." resolved, ".." above root clamped to root,
// trailing separators stripped, "/" for the root.
func Normpath(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	var stack []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// QueryNormpath canonicalizes p the same way as Normpath but preserves
// ".." segments that would otherwise climb above the root, so callers
// can detect escape attempts.
func QueryNormpath(p string) string {
	if p == "" {
		return "/"
	}
	segments := strings.Split(p, "/")
	var stack []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 && stack[len(stack)-1] != ".." {
				stack = stack[:len(stack)-1]
			} else {
				stack = append(stack, "..")
			}
		default:
			stack = append(stack, seg)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}
