package protocol

import (
	"strings"
	"unicode"

	"golang.org/x/text/encoding/charmap"
)

// Printable renders raw protocol bytes as Latin-1 text for traces, replacing
// anything unprintable with '.'.
func Printable(data []byte) string {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		decoded = data
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return '.'
	}, string(decoded))
}
