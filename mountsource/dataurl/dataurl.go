// Package dataurl decodes RFC 2397 "data:" URLs: data:[mediatype][;base64],<data>.
// Decoding is lenient by design — real-world HTML embeds "data:" URLs
// with stray parameters, missing separators, and inconsistent casing,
// and a malformed URL yields a result with no payload, Valid false and
// the RFC 2397 default mediatype and encoding, rather than an error.
package dataurl

import (
	"encoding/base64"
	"html"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// dataURLPrefix matches "data:[mediatype][;param]*," and captures the
// mediatype and the raw (unsplit) parameter list. The payload itself
// is everything following the match.
var dataURLPrefix = regexp.MustCompile(`^data:([^;,"']+/[^;,"']+)?((?:;[^;,"']*)*),`)

// Decoded is the result of parsing and decoding a data: URL.
type Decoded struct {
	MimeType string
	Encoding string
	IsBase64 bool
	Content  []byte
	Valid    bool
}

// Decode parses rawURL and decodes its payload. An unrecognized or
// malformed URL is a soft failure: Decode returns a zero-payload
// Decoded with Valid false and RFC 2397's stated defaults, rather than
// an error.
func Decode(rawURL string) Decoded {
	d := Decoded{MimeType: "text/plain", Encoding: "ascii"}

	unescaped := html.UnescapeString(rawURL)
	unquoted, err := url.PathUnescape(unescaped)
	if err != nil {
		unquoted = unescaped
	}

	loc := dataURLPrefix.FindStringSubmatchIndex(unquoted)
	if loc == nil {
		return d
	}
	d.Valid = true

	if loc[2] >= 0 {
		d.MimeType = unquoted[loc[2]:loc[3]]
	}
	var params string
	if loc[4] >= 0 {
		params = unquoted[loc[4]:loc[5]]
	}

	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(params)), "base64") {
		d.IsBase64 = true
	}
	for _, param := range strings.Split(params, ";") {
		param = strings.ToLower(strings.TrimSpace(param))
		switch {
		case param == "":
			continue
		case param == "utf-8" || param == "utf8":
			d.Encoding = "utf-8"
		default:
			key, value, ok := strings.Cut(param, "=")
			if !ok || strings.TrimSpace(key) != "charset" {
				continue
			}
			value = strings.TrimSpace(value)
			if value == "us-ascii" {
				d.Encoding = "ascii"
				continue
			}
			if name := resolveCharset(value); name != "" {
				d.Encoding = name
			}
		}
	}

	payload := unquoted[loc[1]:]
	if d.IsBase64 {
		d.Content = decodeBase64(payload)
		return d
	}
	d.Content = encodeText(payload, d.Encoding)
	return d
}

// resolveCharset resolves a named charset through the WHATWG encoding
// index to its canonical name. It returns "" when the index does not
// recognize the name, leaving the caller's encoding unchanged; no other
// encoding search is made.
func resolveCharset(name string) string {
	if name == "ascii" || name == "utf-8" || name == "utf8" {
		return "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return ""
	}
	if canonical, err := htmlindex.Name(enc); err == nil {
		return canonical
	}
	return name
}

func decodeBase64(payload string) []byte {
	if content, err := base64.StdEncoding.DecodeString(payload); err == nil {
		return content
	}
	// Lenient fallback for unpadded or loosely-formed base64, which
	// shows up in hand-written HTML more often than RFC-strict input.
	content, _ := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	return content
}

func encodeText(payload, charset string) []byte {
	switch charset {
	case "ascii", "utf-8", "utf8", "":
		return []byte(payload)
	default:
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return []byte(payload)
		}
		out, err := enc.NewEncoder().String(payload)
		if err != nil {
			return []byte(payload)
		}
		return []byte(out)
	}
}
