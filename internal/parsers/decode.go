package parsers

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	EncodingUTF8        = "utf-8"
	EncodingUTF8BOM     = "utf-8-bom"
	EncodingUTF16LE     = "utf-16le"
	EncodingUTF16BE     = "utf-16be"
	EncodingWindows1252 = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts uploaded bytes to text. A byte order mark selects UTF-8 or
// UTF-16 and is removed; content without one is read as UTF-8 when valid and
// as Windows-1252 otherwise, which covers spreadsheet exports from Excel.
func Decode(content []byte) (string, string, error) {
	var enc string
	switch {
	case bytes.HasPrefix(content, bomUTF8):
		enc = EncodingUTF8BOM
	case bytes.HasPrefix(content, bomUTF16LE):
		enc = EncodingUTF16LE
	case bytes.HasPrefix(content, bomUTF16BE):
		enc = EncodingUTF16BE
	case utf8.Valid(content):
		return string(content), EncodingUTF8, nil
	default:
		out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), content)
		if err != nil {
			return "", "", err
		}
		return string(out), EncodingWindows1252, nil
	}

	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), content)
	if err != nil {
		return "", "", err
	}
	return string(out), enc, nil
}
