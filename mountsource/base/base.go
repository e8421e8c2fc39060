// Package base adapts a file-info index to the mount source contract:
// it owns the backing stream, composes an index.Index, and delegates
// Lookup/List/Versions directly to it. Concrete formats
// (AR, HTML) embed Base and supply their own Open.
package base

import (
	"fmt"
	"sync"

	"github.com/mountsource/core/internal/log"
	"github.com/mountsource/core/mountsource"
	"github.com/mountsource/core/mountsource/index"
)

// Base implements the index-backed half of mountsource.Source. Embed
// it in a concrete mount source and implement Open against the
// embedded index and StreamMutex.
type Base struct {
	Index *index.Index

	// StreamMutex serializes every seek+read sequence against the
	// shared backing stream; stenciled readers borrow it.
	StreamMutex sync.Mutex

	closeOnce sync.Once
	closeFn   func() error
	closeErr  error
}

// New constructs a Base with a fresh, empty index and closeFn as the
// backing-stream release callback invoked at most once by Close.
func New(closeFn func() error) (*Base, error) {
	idx, err := index.New()
	if err != nil {
		return nil, fmt.Errorf("base: constructing index: %w", err)
	}
	return &Base{Index: idx, closeFn: closeFn}, nil
}

// Finalize parses the backing format via buildRows, installs the
// resulting rows into the index, and freezes it. It must be called
// exactly once, during construction of the concrete mount source.
func (b *Base) Finalize(buildRows func() ([]index.Row, error)) error {
	rows, err := buildRows()
	if err != nil {
		return err
	}
	log.Debugf(nil, "base: finalizing index with %d rows", len(rows))
	return b.Index.SetRows(rows)
}

// IsImmutable is constant true: both concrete backends are read-only.
func (b *Base) IsImmutable() bool { return true }

// Lookup delegates to the index.
func (b *Base) Lookup(path string) (*mountsource.FileInfo, bool) {
	return b.Index.Lookup(path)
}

// List delegates to the index.
func (b *Base) List(path string) (map[string]*mountsource.FileInfo, bool) {
	return b.Index.List(path)
}

// Versions delegates to the index.
func (b *Base) Versions(path string) int {
	return b.Index.Versions(path)
}

// Close releases the backing stream exactly once; later calls are
// no-ops returning the first call's error.
func (b *Base) Close() error {
	b.closeOnce.Do(func() {
		if b.closeFn != nil {
			b.closeErr = b.closeFn()
		}
	})
	return b.closeErr
}
