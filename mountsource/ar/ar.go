// Package ar implements the Unix ar(5) archive format — GNU, BSD,
// thin, and mixed variants — as a mount source: each archive member is
// exposed as a file backed by a byte range of the underlying stream.
package ar

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	gopath "path"
	"strconv"
	"strings"

	"github.com/mountsource/core/internal/log"
	"github.com/mountsource/core/mountsource"
	"github.com/mountsource/core/mountsource/base"
	"github.com/mountsource/core/mountsource/index"
	"github.com/mountsource/core/mountsource/stencil"
)

const headerSize = 60

var (
	magicRegular = []byte("!<arch>\n")
	magicThin    = []byte("!<thin>\n")

	posixSymbolTableName = []byte("/")
	gnuIndexName         = []byte("//")
	bsdLongNamePrefix    = []byte("#1/")
)

// ReadSeekerAt is the backing-stream contract this package requires: a
// stream the parser can read sequentially (with the occasional
// backward seek for thin archives) and that the stenciled reader can
// later address at random via ReadAt.
type ReadSeekerAt interface {
	io.Reader
	io.Seeker
	io.ReaderAt
}

// Transform is an externally supplied pure path rewriter applied to a
// member's resolved name before it is normalized and stored. The zero
// value (nil) is identity.
type Transform func(name string) string

// member is one parsed archive record, prior to row conversion.
type member struct {
	headerOffset int64
	dataOffset   int64
	size         int64
	mtime        int64
	uid, gid     uint32
	mode         fs.FileMode
	name         []byte
	linkName     []byte
}

type parser struct {
	stream ReadSeekerAt
	isThin bool

	// GNU long-name table. For regular archives, the table split on
	// "/\n"; for thin archives, the raw bytes (thin archives index by
	// byte offset, not by entry).
	longNames     [][]byte
	longNamesThin []byte
	haveLongNames bool

	members []member
}

func detectMagic(stream ReadSeekerAt) (isThin bool, err error) {
	magic := make([]byte, 8)
	if _, err := io.ReadFull(stream, magic); err != nil {
		return false, fmt.Errorf("ar: reading magic: %w", mountsource.ErrFormat)
	}
	switch {
	case bytes.Equal(magic, magicRegular):
		return false, nil
	case bytes.Equal(magic, magicThin):
		return true, nil
	default:
		return false, fmt.Errorf("ar: invalid magic %q: %w", magic, mountsource.ErrFormat)
	}
}

// parseIntField trims surrounding whitespace and parses the remainder
// in base. An empty stripped field yields def. Non-digit content is a
// format error.
func parseIntField(field []byte, base int, def int64) (int64, error) {
	s := strings.TrimSpace(string(field))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("ar: invalid numeric field %q: %w", field, mountsource.ErrFormat)
	}
	return v, nil
}

// resolveLongName rewrites a "/<digits>" placeholder name against the
// GNU long-name table, if one has been seen. Non-matching names pass
// through unchanged.
func (p *parser) resolveLongName(name []byte) []byte {
	if !p.haveLongNames {
		return name
	}
	if len(name) < 2 || name[0] != '/' {
		return name
	}
	digits := name[1:]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return name
		}
	}
	idx, err := strconv.Atoi(string(digits))
	if err != nil || idx < 0 {
		return name
	}
	if p.isThin {
		if idx >= len(p.longNamesThin) {
			return name
		}
		rest := p.longNamesThin[idx:]
		end := bytes.Index(rest, []byte("/\n"))
		if end < 0 {
			return name
		}
		return rest[:end]
	}
	if idx >= len(p.longNames) {
		return name
	}
	return p.longNames[idx]
}

func (p *parser) parse() error {
	for {
		headerData := make([]byte, headerSize)
		n, err := io.ReadFull(p.stream, headerData)
		if err == io.EOF && n == 0 {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ar: incomplete header: %w", mountsource.ErrFormat)
		}

		offset, err := p.stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("ar: seeking: %w", err)
		}
		headerOffset := offset - headerSize

		if !bytes.Equal(headerData[58:60], []byte("`\n")) {
			return fmt.Errorf("ar: invalid header terminator: %w", mountsource.ErrFormat)
		}

		rawName := bytes.TrimRight(headerData[0:16], " \x00")
		mtime, err := parseIntField(headerData[16:28], 10, 0)
		if err != nil {
			return err
		}
		uid, err := parseIntField(headerData[28:34], 10, 0)
		if err != nil {
			return err
		}
		gid, err := parseIntField(headerData[34:40], 10, 0)
		if err != nil {
			return err
		}
		modeField, err := parseIntField(headerData[40:48], 8, 0o660)
		if err != nil {
			return err
		}
		size, err := parseIntField(headerData[48:58], 10, 0)
		if err != nil {
			return err
		}

		mode := fs.FileMode(modeField)
		if p.isThin {
			mode |= fs.ModeSymlink
		}

		fullRecordSize := size // includes any BSD long-name prefix bytes

		if bytes.Equal(rawName, posixSymbolTableName) {
			if _, err := p.stream.Seek(size+size%2, io.SeekCurrent); err != nil {
				return err
			}
			continue
		}

		if bytes.Equal(rawName, gnuIndexName) {
			table := make([]byte, size)
			if _, err := io.ReadFull(p.stream, table); err != nil {
				return fmt.Errorf("ar: reading GNU long-name table: %w", mountsource.ErrFormat)
			}
			if p.isThin {
				p.longNamesThin = table
			} else {
				entries := bytes.Split(table, []byte("/\n"))
				if size%2 == 0 {
					if len(entries) > 0 {
						last := entries[len(entries)-1]
						if len(last) == 1 && (last[0] == 0x60 || last[0] == 0x0a) {
							entries = entries[:len(entries)-1]
						}
					}
				} else {
					if _, err := p.stream.Seek(size%2, io.SeekCurrent); err != nil {
						return err
					}
				}
				p.longNames = entries
			}
			p.haveLongNames = true

			for i := range p.members {
				if p.isThin {
					p.members[i].linkName = p.resolveLongName(p.members[i].name)
				} else {
					p.members[i].name = p.resolveLongName(p.members[i].name)
				}
			}
			continue
		}

		name := append([]byte(nil), rawName...)
		dataOffset := offset

		if bytes.HasPrefix(name, bsdLongNamePrefix) {
			nameSize, err := strconv.Atoi(strings.TrimSpace(string(name[len(bsdLongNamePrefix):])))
			if err != nil || nameSize < 0 {
				return fmt.Errorf("ar: invalid BSD long name length %q: %w", name, mountsource.ErrFormat)
			}
			nameBuf := make([]byte, nameSize)
			if _, err := io.ReadFull(p.stream, nameBuf); err != nil {
				return fmt.Errorf("ar: insufficient data for BSD long name (%d): %w", nameSize, mountsource.ErrFormat)
			}
			name = nameBuf
			dataOffset += int64(nameSize)
			size -= int64(nameSize)
		}

		var linkName []byte
		if p.haveLongNames {
			if p.isThin {
				linkName = p.resolveLongName(name)
			} else {
				name = p.resolveLongName(name)
			}
		}

		m := member{
			headerOffset: headerOffset,
			dataOffset:   dataOffset,
			size:         size,
			mtime:        mtime,
			uid:          uint32(uid),
			gid:          uint32(gid),
			mode:         mode,
			name:         bytes.Trim(name, "\x00"),
			linkName:     linkName,
		}
		p.members = append(p.members, m)

		if p.isThin {
			if _, err := p.stream.Seek(offset, io.SeekStart); err != nil {
				return err
			}
			continue
		}

		if _, err := p.stream.Seek(offset+fullRecordSize+fullRecordSize%2, io.SeekStart); err != nil {
			return err
		}
	}
}

// Source is the AR archive mount source.
type Source struct {
	*base.Base
	stream    ReadSeekerAt
	transform Transform
}

// New parses stream as an AR archive and returns a ready mount source.
// closeFn releases the underlying stream when the source is closed;
// it may be nil. transform rewrites every member's resolved name
// before storage; nil selects identity.
func New(stream ReadSeekerAt, closeFn func() error, transform Transform) (*Source, error) {
	if transform == nil {
		transform = func(name string) string { return name }
	}

	isThin, err := detectMagic(stream)
	if err != nil {
		return nil, err
	}
	log.Debugf(nil, "ar: opening archive, thin=%v", isThin)

	b, err := base.New(closeFn)
	if err != nil {
		return nil, err
	}
	s := &Source{Base: b, stream: stream, transform: transform}

	err = b.Finalize(func() ([]index.Row, error) {
		p := &parser{stream: stream, isThin: isThin}
		if err := p.parse(); err != nil {
			return nil, err
		}
		rows := make([]index.Row, 0, len(p.members))
		for _, m := range p.members {
			rows = append(rows, s.toRow(m))
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) toRow(m member) index.Row {
	name := s.transform(string(m.name))
	full := index.Normpath(name)
	dir, leaf := gopath.Split(full)
	parent := index.Normpath(dir)

	link := string(m.linkName)

	return index.Row{
		ParentPath:   parent,
		Name:         leaf,
		HeaderOffset: m.headerOffset,
		DataOffset:   m.dataOffset,
		Size:         m.size,
		ModTime:      m.mtime,
		Mode:         m.mode,
		LinkName:     link,
		UID:          m.uid,
		GID:          m.gid,
	}
}

// Open implements mountsource.Source.Open. It refuses symlinks.
func (s *Source) Open(fi *mountsource.FileInfo, buffering int) (io.ReadCloser, error) {
	if fi.IsSymlink() {
		return nil, mountsource.ErrSymlink
	}
	ud, err := mountsource.GetIndexUserdata(fi.Userdata)
	if err != nil {
		return nil, err
	}

	stencils := []stencil.Stencil{{Stream: s.stream, Offset: ud.DataOffset, Length: ud.Size}}
	if buffering == 0 {
		return nopCloser{stencil.NewReader(stencils, &s.StreamMutex)}, nil
	}
	blockSize := buffering
	if buffering < 0 {
		blockSize = 0 // selects stencil's default
	}
	return nopCloser{stencil.NewBufferedReader(stencils, &s.StreamMutex, blockSize)}, nil
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

var _ mountsource.Source = (*Source)(nil)
