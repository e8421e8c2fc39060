// Package mountsource defines the read-only virtual filesystem contract
// shared by every concrete mount source (archive and document backends
// alike), along with the record types that cross that boundary.
package mountsource

import (
	"errors"
	"io"
	"io/fs"
	"time"
)

// ErrSymlink is returned by Open when called on a FileInfo describing a
// symbolic link; symlinks carry no readable data of their own.
var ErrSymlink = errors.New("mountsource: cannot open contents of a symbolic link")

// ErrFormat reports a malformed or unrecognized container format:
// an invalid magic, a truncated header, or an unparseable field.
// It is fatal during mount source construction.
var ErrFormat = errors.New("mountsource: invalid or malformed archive format")

// ErrNotSupportedDocument reports that a document-backed mount source's
// format heuristic rejected the input. It is fatal during construction.
var ErrNotSupportedDocument = errors.New("mountsource: not a supported document")

// FileInfo is the exposed record for one entry in the namespace a mount
// source presents. It is returned by Lookup and as values of the map
// returned by List.
type FileInfo struct {
	Size       int64
	ModTime    time.Time
	Mode       fs.FileMode
	LinkTarget string
	UID, GID   uint32

	// Userdata carries index-specific locator information opaque to
	// callers outside the owning mount source: an IndexUserdata for
	// both the AR and HTML backends, or SyntheticDir for directories
	// materialized by the index rather than backed by an explicit row.
	Userdata any
}

// IsDir reports whether fi describes a directory.
func (fi *FileInfo) IsDir() bool { return fi.Mode&fs.ModeDir != 0 }

// IsSymlink reports whether fi describes a symbolic link.
func (fi *FileInfo) IsSymlink() bool { return fi.Mode&fs.ModeSymlink != 0 }

// IndexUserdata is the generic locator every row-backed FileInfo carries
// as Userdata: for the AR backend (HeaderOffset, DataOffset, Size) address
// the member's header and data bytes in the backing stream; for the HTML
// backend DataOffset doubles as the span end, and Size is the decoded
// payload size rather than a byte range length.
type IndexUserdata struct {
	HeaderOffset int64
	DataOffset   int64
	Size         int64
}

// SyntheticDir is the sentinel Userdata value for directories the index
// materializes because they have listable children but no explicit row.
type SyntheticDir struct{}

// GetIndexUserdata decodes u into its generic locator form. It fails for
// the SyntheticDir sentinel, which carries no locator.
func GetIndexUserdata(u any) (IndexUserdata, error) {
	switch v := u.(type) {
	case IndexUserdata:
		return v, nil
	default:
		return IndexUserdata{}, errors.New("mountsource: userdata does not carry a locator")
	}
}

// Source is the read-only VFS contract a mount source exposes to its
// host. Implementations are immutable after construction: all rows are
// produced once, up front, and never change for the lifetime of the
// source.
type Source interface {
	// IsImmutable reports whether the source can ever be written to.
	// Both concrete backends in this module are read-only and always
	// return true.
	IsImmutable() bool

	// Lookup returns the entry at path, or ok=false if no such entry
	// exists. A miss is never an error.
	Lookup(path string) (fi *FileInfo, ok bool)

	// List returns the immediate children of the directory at path. It
	// returns ok=false for a regular file or a missing path, and
	// ok=true with a possibly-empty map for a directory.
	List(path string) (children map[string]*FileInfo, ok bool)

	// Versions reports how many versions of path exist: 1 if an
	// explicit row exists, 0 otherwise. Directories synthesized from
	// their children (the root included) have no row and report 0.
	// Neither backend supports multiple versions of the same path.
	Versions(path string) int

	// Open returns a readable stream over fi's contents. For buffering,
	// -1 selects the source's default buffer size, 0 requests unbuffered reads,
	// and a positive value requests that buffer size. Open fails with
	// ErrSymlink for a symlink FileInfo.
	Open(fi *FileInfo, buffering int) (io.ReadCloser, error)

	// Close releases the backing stream and any derived state. It is
	// safe to call more than once; only the first call has effect.
	Close() error
}
