package html

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mountsource/core/mountsource"
)

func newSource(t *testing.T, doc string) *Source {
	t.Helper()
	src, err := New(strings.NewReader(doc), nil, nil, time.Time{}, func([]byte) bool { return true })
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestSingleBase64ImageAttribute(t *testing.T) {
	doc := `<html><body><img src="data:image/webp;base64,UklGRiQAAABXRUJQVlA4IAgAAAAwAQCdASoBAAEA"></body></html>`
	src := newSource(t, doc)

	children, ok := src.List("/")
	require.True(t, ok)
	require.Len(t, children, 1)

	for name, fi := range children {
		assert.True(t, strings.HasSuffix(name, ".webp"), name)
		r, err := src.Open(fi, -1)
		require.NoError(t, err)
		content, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.NotEmpty(t, content)
	}
}

func TestCSSCharsetDataURL(t *testing.T) {
	doc := `<html><body><style>body { background: url(data:text/css;utf8,body {&#37;20font-family: Arial, sans-serif };) }</style></body></html>`
	src := newSource(t, doc)

	children, ok := src.List("/")
	require.True(t, ok)
	require.Len(t, children, 1)

	for name, fi := range children {
		assert.True(t, strings.HasSuffix(name, ".css"), name)
		r, err := src.Open(fi, -1)
		require.NoError(t, err)
		content, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "body { font-family: Arial, sans-serif };", string(content))
	}
}

func TestSavepageOriginalURLNaming(t *testing.T) {
	doc := `<html><body><img data-savepage-src="/assets/logo.png" src="data:image/png;base64,aGVsbG8="></body></html>`
	src := newSource(t, doc)

	fi, ok := src.Lookup("/assets/logo.png")
	require.True(t, ok)
	r, err := src.Open(fi, -1)
	require.NoError(t, err)
	content, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestMultipleEmbeddedFilesSynthesizeDirectories(t *testing.T) {
	doc := `<html><body>
		<img data-savepage-src="/a/one.png" src="data:image/png;base64,aGVsbG8x">
		<img data-savepage-src="/a/b/two.png" src="data:image/png;base64,aGVsbG8y">
		<img data-savepage-src="/a/b/c/three.png" src="data:image/png;base64,aGVsbG8z">
	</body></html>`
	src := newSource(t, doc)

	for _, dir := range []string{"/", "/a", "/a/b", "/a/b/c"} {
		fi, ok := src.Lookup(dir)
		require.True(t, ok, dir)
		assert.True(t, fi.IsDir(), dir)
	}

	children, ok := src.List("/a")
	require.True(t, ok)
	assert.Contains(t, children, "one.png")
	assert.Contains(t, children, "b")

	childrenB, ok := src.List("/a/b")
	require.True(t, ok)
	assert.Contains(t, childrenB, "two.png")
	assert.Contains(t, childrenB, "c")
}

func TestAnonymousDataURLNamedBySHA256(t *testing.T) {
	doc := `<html><body><img src="data:image/png;base64,aGVsbG8="></body></html>`
	src := newSource(t, doc)

	sum := sha256.Sum256([]byte("hello"))
	want := hex.EncodeToString(sum[:]) + ".png"

	fi, ok := src.Lookup("/" + want)
	require.True(t, ok)
	assert.Equal(t, int64(len("hello")), fi.Size)
}

func TestSingleQuotedSVGInStyleBlock(t *testing.T) {
	doc := `<html><head><style>div { background: url('data:image/svg+xml,<svg xmlns=%27http://www.w3.org/2000/svg%27></svg>') }</style></head></html>`
	src := newSource(t, doc)

	children, ok := src.List("/")
	require.True(t, ok)
	require.Len(t, children, 1)
	for name := range children {
		assert.True(t, strings.HasSuffix(name, ".svg"), name)
	}
}

func TestNotHTMLIsRejected(t *testing.T) {
	_, err := New(strings.NewReader("not html at all"), nil, nil, time.Time{}, func([]byte) bool { return false })
	assert.ErrorIs(t, err, mountsource.ErrNotSupportedDocument)
}
