package textutil

import "strings"

// maxComponentLength caps sanitized path components so derived directory and
// file names stay well under common filesystem limits.
const maxComponentLength = 120

// fileNameReplacer replaces filesystem-unsafe characters with safe alternatives.
var fileNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
	"\x00", "",
)

// SanitizeFileName produces a filesystem-legal path component from free text.
// Slashes, backslashes, colons, and asterisks become dashes; other unsafe
// characters are removed; runs of whitespace collapse to a single space; the
// result is trimmed and capped in length.
func SanitizeFileName(name string) string {
	name = fileNameReplacer.Replace(name)
	name = strings.Join(strings.Fields(name), " ")
	if runes := []rune(name); len(runes) > maxComponentLength {
		name = strings.TrimSpace(string(runes[:maxComponentLength]))
	}
	return name
}
