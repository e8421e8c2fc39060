// Package html locates data: URLs embedded in an HTML document and
// exposes each decoded payload as a file. Candidate discovery combines
// a lenient tokenizer pass over start tags with regex sweeps over
// character data, the same two sources the format actually hides
// embedded resources in.
package html

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"mime"
	gopath "path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	xhtml "golang.org/x/net/html"

	"github.com/mountsource/core/internal/log"
	"github.com/mountsource/core/mountsource"
	"github.com/mountsource/core/mountsource/base"
	"github.com/mountsource/core/mountsource/dataurl"
	"github.com/mountsource/core/mountsource/index"
)

// Transform is an externally supplied pure path rewriter applied to a
// candidate's virtual path before it is normalized and stored. The
// zero value (nil) is identity.
type Transform func(name string) string

// Detector reports whether data looks enough like HTML to scan. The
// zero value (nil) selects DefaultDetector.
type Detector func(data []byte) bool

// DefaultDetector classifies data as HTML via content sniffing. The
// tokenizer itself is lenient enough to walk almost anything; this
// heuristic exists only to reject obviously-wrong input early.
func DefaultDetector(data []byte) bool {
	return mimetype.Detect(data).Is("text/html")
}

// candidate is a surviving data: URL span, in byte offsets into the
// buffered document, discovered either from a start-tag attribute or
// from a character-data regex sweep.
type candidate struct {
	originalURL string
	start, end  int64
}

// A name consists of a letter followed by letters, digits, periods, or
// hyphens (RFC 1866 §3.2.4).
const namePattern = `[A-Za-z][A-Za-z0-9.-]*`

var (
	attributeValuePattern = `'[^']*'|"[^"]*"|[A-Za-z0-9.-]*`
	attributeRegex        = regexp.MustCompile(`^\s+(` + namePattern + `)(?:\s*=\s*(` + attributeValuePattern + `))?`)
	startTagRegex         = regexp.MustCompile(`^<` + namePattern)

	// dataURLPattern matches the data: URL prefix up to and including
	// its terminating comma; the payload itself is left to the
	// surrounding context (quote, paren) to delimit.
	dataURLPattern = `data:(?:[^;,"']+/[^;,"']+)?(?:;[^;,"']*)*,`

	cssDataURLRegex  = regexp.MustCompile(`(?:/\*savepage-url=([^*]+)\*/)?url\((` + dataURLPattern + `[^)]+)\)`)
	singleQuoteRegex = regexp.MustCompile(`'(` + dataURLPattern + `[^']+)'`)
	doubleQuoteRegex = regexp.MustCompile(`"(` + dataURLPattern + `[^"]+)"`)
)

// attrSpan is one parsed attribute of a start tag: its name, its value
// with surrounding quotes stripped, and the byte span of that value
// (quotes excluded) relative to the tag's raw bytes.
type attrSpan struct {
	name       string
	value      string
	start, end int
}

// parseAttributes re-scans a start tag's raw bytes for its attributes,
// mirroring the grammar a browser applies: name, optional "= value"
// where value is single-quoted, double-quoted, or a bare name token.
func parseAttributes(raw []byte) []attrSpan {
	loc := startTagRegex.FindIndex(raw)
	if loc == nil {
		return nil
	}
	pos := loc[1]
	var attrs []attrSpan
	for pos < len(raw) {
		m := attributeRegex.FindSubmatchIndex(raw[pos:])
		if m == nil {
			break
		}
		name := string(raw[pos+m[2] : pos+m[3]])
		vs, ve := -1, -1
		if m[4] >= 0 {
			vs, ve = pos+m[4], pos+m[5]
			if ve-vs >= 2 && (raw[vs] == '\'' || raw[vs] == '"') {
				vs++
				ve--
			}
		}
		value := ""
		if vs >= 0 {
			value = string(raw[vs:ve])
		}
		attrs = append(attrs, attrSpan{name: name, value: value, start: vs, end: ve})
		pos += m[1]
	}
	return attrs
}

// attributeCandidates finds every attribute of a start tag whose value
// begins with "data:" and carries a non-empty payload after the comma.
func attributeCandidates(raw []byte, tagStart int64) []candidate {
	attrs := parseAttributes(raw)
	if len(attrs) == 0 {
		return nil
	}
	byName := make(map[string]attrSpan, len(attrs))
	for _, a := range attrs {
		byName[a.name] = a
	}

	var out []candidate
	for _, a := range attrs {
		if a.start < 0 || !strings.HasPrefix(a.value, "data:") {
			continue
		}
		comma := strings.IndexByte(a.value, ',')
		if comma < 0 || comma+1 >= len(a.value) {
			continue
		}
		originalURL := ""
		if sp, ok := byName["data-savepage-"+a.name]; ok {
			originalURL = sp.value
		}
		out = append(out, candidate{
			originalURL: originalURL,
			start:       tagStart + int64(a.start),
			end:         tagStart + int64(a.end),
		})
	}
	return out
}

// textCandidates sweeps a character-data block for CSS url(...) forms
// and single/double-quoted data: strings.
func textCandidates(raw []byte, base int64) []candidate {
	var out []candidate
	for _, m := range cssDataURLRegex.FindAllSubmatchIndex(raw, -1) {
		var originalURL string
		if m[2] >= 0 {
			originalURL = string(raw[m[2]:m[3]])
		}
		out = append(out, candidate{originalURL: originalURL, start: base + int64(m[4]), end: base + int64(m[5])})
	}
	for _, re := range []*regexp.Regexp{singleQuoteRegex, doubleQuoteRegex} {
		for _, m := range re.FindAllSubmatchIndex(raw, -1) {
			out = append(out, candidate{start: base + int64(m[2]), end: base + int64(m[3])})
		}
	}
	return out
}

// scanCandidates tokenizes data and collects every data: URL candidate.
// The tokenizer's Raw() gives each token's exact source byte span, so a
// running byte counter is all position tracking needs: unlike a
// character-offset parser, there is no separate pass translating
// character positions to byte positions afterward.
func scanCandidates(data []byte) []candidate {
	var candidates []candidate
	z := xhtml.NewTokenizer(bytes.NewReader(data))
	var pos int64
	for {
		tt := z.Next()
		raw := z.Raw()
		start := pos
		pos += int64(len(raw))
		switch tt {
		case xhtml.ErrorToken:
			return candidates
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			candidates = append(candidates, attributeCandidates(raw, start)...)
		case xhtml.TextToken:
			candidates = append(candidates, textCandidates(raw, start)...)
		}
	}
}

// extensionFor derives the file extension a decoded payload should
// carry: the Python mimetypes module's application/javascript quirk is
// dodged by special-casing */javascript directly, mime.ExtensionsByType
// covers the ordinary case, and content-sniffing only runs as a last
// resort since the declared mediatype is almost always present.
func extensionFor(mimeType string, content []byte) string {
	if strings.HasSuffix(mimeType, "/javascript") {
		return ".js"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if len(content) > 0 {
		return mimetype.Detect(content).Extension()
	}
	return ""
}

// Source is the HTML data-URL mount source. The whole document is
// buffered at construction: the tokenizer pass needs sequential access
// to decide candidates, and Open needs random access to re-decode a
// span, so there is no single-pass streaming mode that serves both.
type Source struct {
	*base.Base
	data      []byte
	transform Transform
	mtime     time.Time
}

// New scans r for embedded data: URLs and returns a ready mount
// source. closeFn releases the underlying stream when the source is
// closed; it may be nil. transform rewrites every candidate's virtual
// path before storage; nil selects identity. mtime is the modification
// time reported for every exposed file; the zero Time selects the
// construction time. isHTML rejects unsuitable input; nil selects
// DefaultDetector.
func New(r io.Reader, closeFn func() error, transform Transform, mtime time.Time, isHTML Detector) (*Source, error) {
	if transform == nil {
		transform = func(name string) string { return name }
	}
	if isHTML == nil {
		isHTML = DefaultDetector
	}
	if mtime.IsZero() {
		mtime = time.Now()
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("html: reading document: %w", err)
	}
	if !isHTML(data) {
		return nil, mountsource.ErrNotSupportedDocument
	}

	b, err := base.New(closeFn)
	if err != nil {
		return nil, err
	}
	s := &Source{Base: b, data: data, transform: transform, mtime: mtime}

	err = b.Finalize(func() ([]index.Row, error) {
		candidates := scanCandidates(data)
		log.Debugf(nil, "html: found %d data url candidates", len(candidates))
		rows := make([]index.Row, 0, len(candidates))
		for _, c := range candidates {
			rows = append(rows, s.toRow(c))
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) toRow(c candidate) index.Row {
	spanText := string(s.data[c.start:c.end])
	decoded := dataurl.Decode(spanText)

	ext := extensionFor(decoded.MimeType, decoded.Content)
	virtualPath := c.originalURL
	if virtualPath == "" || strings.HasPrefix(virtualPath, "data:") {
		sum := sha256.Sum256(decoded.Content)
		virtualPath = hex.EncodeToString(sum[:]) + ext
	}
	if !strings.EqualFold(filepath.Ext(virtualPath), ext) {
		virtualPath += ext
	}

	full := index.Normpath(s.transform(virtualPath))
	dir, leaf := gopath.Split(full)
	parent := index.Normpath(dir)

	return index.Row{
		ParentPath:   parent,
		Name:         leaf,
		HeaderOffset: c.start,
		DataOffset:   c.end,
		Size:         int64(len(decoded.Content)),
		ModTime:      s.mtime.Unix(),
		Mode:         fs.FileMode(0o777),
	}
}

// Open implements mountsource.Source.Open. It refuses symlinks, though
// this backend never emits any; the check is here for contract parity
// with the other mount source.
func (s *Source) Open(fi *mountsource.FileInfo, buffering int) (io.ReadCloser, error) {
	if fi.IsSymlink() {
		return nil, mountsource.ErrSymlink
	}
	ud, err := mountsource.GetIndexUserdata(fi.Userdata)
	if err != nil {
		return nil, err
	}

	s.StreamMutex.Lock()
	spanText := string(s.data[ud.HeaderOffset:ud.DataOffset])
	s.StreamMutex.Unlock()

	decoded := dataurl.Decode(spanText)
	return io.NopCloser(bytes.NewReader(decoded.Content)), nil
}

var _ mountsource.Source = (*Source)(nil)
