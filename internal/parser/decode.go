package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	UTF8 = "UTF-8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText converts raw report bytes into UTF-8 text. Valid UTF-8 passes
// through; otherwise the charset is detected and decoded, and as a last
// resort invalid sequences are replaced. It returns the charset used.
func DecodeText(data []byte) (string, string) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), UTF8
	}

	charset := DetectCharset(data)
	if charset != UTF8 {
		if enc, err := htmlindex.Get(charset); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(out) {
				return string(out), charset
			}
		}
	}

	return strings.ToValidUTF8(string(data), string(utf8.RuneError)), UTF8
}

// DetectCharset guesses the charset of data, defaulting to UTF-8.
func DetectCharset(data []byte) string {
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil || result.Charset == "" {
		return UTF8
	}
	return result.Charset
}
