// Package normalize canonicalizes free text extracted from prescriptions.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unitTokens = map[string]bool{
	"mg":  true,
	"mcg": true,
	"ml":  true,
	"g":   true,
	"%":   true,
}

// Text collapses whitespace and applies prescription casing rules.
// An all-caps input is lowercased first, then every word is capitalized
// except unit tokens, which are always lowercase.
func Text(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	if s == strings.ToUpper(s) {
		s = strings.ToLower(s)
	}

	words := strings.Split(s, " ")
	for i, w := range words {
		lower := strings.ToLower(w)
		if unitTokens[lower] {
			words[i] = lower
			continue
		}
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(w string) string {
	r, size := utf8.DecodeRuneInString(w)
	if r == utf8.RuneError {
		return w
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
}

var (
	honorificRe = regexp.MustCompile(`(?i)\b(doutora|doutor|dra|dr)\b\.?`)
	registryRe  = regexp.MustCompile(`(?i)\b(cremesp|crefito|coren|crm|crn|cro)(\s*[-/]\s*[a-z]{2}\b)?\s*[:\-]?\s*\d+([.\-]\d+)*(\s*[-/]\s*[a-z]{2}\b)?`)
	bracketRe   = regexp.MustCompile(`[()\[\]#]`)
)

// StripProfessionalTitle removes honorifics and council registration
// numbers from a prescriber name.
func StripProfessionalTitle(name string) string {
	name = honorificRe.ReplaceAllString(name, " ")
	name = registryRe.ReplaceAllString(name, " ")
	name = bracketRe.ReplaceAllString(name, " ")
	name = strings.Join(strings.Fields(name), " ")
	return strings.Trim(name, " -–—,;:|/")
}

var accentStripper = runes.Remove(runes.In(unicode.Mn))

// FoldAccents removes combining marks ("Ácido" -> "Acido")
func FoldAccents(s string) string {
	out, _, err := transform.String(transform.Chain(norm.NFD, accentStripper, norm.NFC), s)
	if err != nil {
		return s
	}
	return out
}

var unsafeActiveRe = regexp.MustCompile(`[^a-zA-Z0-9\s.,/()\-]`)

// SanitizeActive folds accents and drops symbols that break downstream
// ASCII consumers of the English status endpoint.
func SanitizeActive(s string) string {
	return strings.TrimSpace(unsafeActiveRe.ReplaceAllString(FoldAccents(s), ""))
}
