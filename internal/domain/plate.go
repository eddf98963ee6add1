package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizePlate canonicalises a licence plate: NFKC (folds full-width
// characters typed on some keyboards), upper case, no spaces.
func NormalizePlate(plate string) string {
	plate = norm.NFKC.String(plate)
	var b strings.Builder
	for _, r := range plate {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ValidPlate reports whether plate is non-empty after normalisation.
func ValidPlate(plate string) bool {
	return NormalizePlate(plate) != ""
}
