package stencil

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadsWithinStencil(t *testing.T) {
	data := bytes.NewReader([]byte("0123456789abcdef"))
	var mu sync.Mutex
	r := NewReader([]Stencil{{Stream: data, Offset: 4, Length: 6}}, &mu)

	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "456789", string(got))
}

func TestReaderSeekAndShortEOF(t *testing.T) {
	data := bytes.NewReader([]byte("0123456789"))
	var mu sync.Mutex
	r := NewReader([]Stencil{{Stream: data, Offset: 0, Length: 5}}, &mu)

	pos, err := r.Seek(3, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "34", string(buf[:n]))

	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSeekPastEndYieldsEmptyRead(t *testing.T) {
	data := bytes.NewReader([]byte("abc"))
	var mu sync.Mutex
	r := NewReader([]Stencil{{Stream: data, Offset: 0, Length: 3}}, &mu)

	_, err := r.Seek(100, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderMultipleStencilsConcatenate(t *testing.T) {
	data := bytes.NewReader([]byte("AAAABBBBCCCC"))
	var mu sync.Mutex
	r := NewReader([]Stencil{
		{Stream: data, Offset: 0, Length: 4},
		{Stream: data, Offset: 8, Length: 4},
	}, &mu)

	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "AAAACCCC", string(got))
}

func TestBufferedReaderMatchesRaw(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 200) // 2000 bytes
	data := bytes.NewReader(payload)
	var mu sync.Mutex

	raw := NewReader([]Stencil{{Stream: data, Offset: 0, Length: int64(len(payload))}}, &mu)
	buffered := NewBufferedReader([]Stencil{{Stream: data, Offset: 0, Length: int64(len(payload))}}, &mu, 64)

	rawAll, err := raw.ReadAll()
	require.NoError(t, err)
	bufAll, err := buffered.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, rawAll, bufAll)
	assert.Equal(t, payload, bufAll)
}

func TestBufferedReaderSmallReads(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	data := bytes.NewReader(payload)
	var mu sync.Mutex
	r := NewBufferedReader([]Stencil{{Stream: data, Offset: 0, Length: int64(len(payload))}}, &mu, 8)

	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, payload, out)
}

func TestConcurrentReadersAreSafe(t *testing.T) {
	payload := bytes.Repeat([]byte("xyz123"), 1000)
	data := bytes.NewReader(payload)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := NewReader([]Stencil{{Stream: data, Offset: 0, Length: int64(len(payload))}}, &mu)
			got, err := r.ReadAll()
			assert.NoError(t, err)
			assert.Equal(t, payload, got)
		}()
	}
	wg.Wait()
}
