package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ligatureReplacer = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
		"\u00ad", "",
		"\u200b", "",
	)
	hyphenationRE   = regexp.MustCompile(`([\p{L}\p{N}])-(?:\r?\n)[ \t]*([\p{Ll}])`)
	spaceRE         = regexp.MustCompile("[\t\f\v\u00a0]+")
	multiSpaceRE    = regexp.MustCompile(` {2,}`)
	multiNewlinesRE = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText bereitet extrahierten Dokumenttext für URL-Suche und Prompt auf:
// NFC plus Ligaturen, Silbentrennung am Zeilenende, Leerraum.
func NormalizeText(s string) string {
	s = normalizeUnicodeAndLigatures(s)
	s, _ = fixHyphenation(s)
	return collapseWhitespace(s)
}

func normalizeUnicodeAndLigatures(s string) string {
	s = ligatureReplacer.Replace(s)
	normalized, _, err := transform.String(norm.NFC, s)
	if err != nil {
		return s
	}
	return normalized
}

// fixHyphenation entfernt Trennstriche am Zeilenende vor kleinem Anfangsbuchstaben.
// Beispiel: "reposi-\ntory" -> "repository"
// Innerhalb von URLs (Token vor dem Strich enthält "/") bleibt der Strich stehen.
func fixHyphenation(s string) (string, int) {
	matches := hyphenationRE.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, 0
	}
	var b strings.Builder
	b.Grow(len(s))
	last, count := 0, 0
	for _, m := range matches {
		if inURL(s, m[0]) {
			continue
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(s[m[2]:m[3]])
		b.WriteString(s[m[4]:m[5]])
		last = m[1]
		count++
	}
	b.WriteString(s[last:])
	return b.String(), count
}

// inURL meldet, ob das Wort, das an Position end endet, Teil eines Pfads ist.
func inURL(s string, end int) bool {
	start := strings.LastIndexFunc(s[:end], unicode.IsSpace) + 1
	return strings.Contains(s[start:end], "/")
}

func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRE.ReplaceAllString(s, " ")
	s = multiSpaceRE.ReplaceAllString(s, " ")
	s = multiNewlinesRE.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRightFunc(lines[i], unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
