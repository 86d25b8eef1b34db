package app

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reUnsafe = regexp.MustCompile(`[^a-zA-Z0-9 ._-]`)
	reSpaces = regexp.MustCompile(`\s+`)
)

// SanitizeName réduit un nom choisi par l'utilisateur à un composant de
// chemin sûr : accents retirés (NFD -> drop Mn -> NFC), caractères hors
// [a-zA-Z0-9 ._-] remplacés, espaces repliés, points/espaces de bord coupés,
// longueur bornée. fallback est utilisé si tout disparaît.
func SanitizeName(name, fallback string, maxLen int) string {
	s := strings.TrimSpace(name)

	tr := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(tr, s); err == nil {
		s = out
	}

	s = reUnsafe.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	s = strings.Trim(s, " .")

	if maxLen > 0 && len(s) > maxLen {
		s = strings.Trim(s[:maxLen], " .")
	}
	if s == "" {
		return fallback
	}
	return s
}
