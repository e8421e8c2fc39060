package dataurl

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeBase64WebP(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake webp bytes"))
	d := Decode("data:image/webp;base64," + payload)

	assert.True(t, d.Valid)
	assert.Equal(t, "image/webp", d.MimeType)
	assert.True(t, d.IsBase64)
	assert.Equal(t, "ascii", d.Encoding)
	assert.Equal(t, []byte("fake webp bytes"), d.Content)
}

func TestDecodeCSSWithUtf8AndEntityPercent(t *testing.T) {
	d := Decode("data:text/css;utf8,body {&#37;20font-family: Arial, sans-serif };")

	assert.True(t, d.Valid)
	assert.Equal(t, "text/css", d.MimeType)
	assert.False(t, d.IsBase64)
	assert.Equal(t, "utf-8", d.Encoding)
	assert.Equal(t, "body { font-family: Arial, sans-serif };", string(d.Content))
}

func TestDecodeDefaultsWhenMediatypeOmitted(t *testing.T) {
	d := Decode("data:,hello%20world")
	assert.True(t, d.Valid)
	assert.Equal(t, "text/plain", d.MimeType)
	assert.Equal(t, "ascii", d.Encoding)
	assert.False(t, d.IsBase64)
	assert.Equal(t, "hello world", string(d.Content))
}

func TestDecodeLenientParameters(t *testing.T) {
	cases := []string{
		"data:image/svg+xml;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte("x")),
		"data:image/svg+xml;nitro-empty-id=MjQzNTo1NzY=-1;base64," + base64.StdEncoding.EncodeToString([]byte("x")),
		"data:image/svg+xml; utf8,x",
	}
	for _, c := range cases {
		d := Decode(c)
		assert.True(t, d.Valid, c)
		assert.Equal(t, "image/svg+xml", d.MimeType, c)
	}
}

func TestDecodeInvalidURLIsSoftFailure(t *testing.T) {
	d := Decode("not a data url at all")
	assert.False(t, d.Valid)
	assert.Equal(t, "text/plain", d.MimeType)
	assert.Nil(t, d.Content)
}

func TestDecodeUSASCIICharsetParam(t *testing.T) {
	d := Decode("data:text/plain;charset=us-ascii,hello")
	assert.True(t, d.Valid)
	assert.Equal(t, "ascii", d.Encoding)
	assert.Equal(t, "hello", string(d.Content))
}
