// Package roster normalizes names and filters identity listings.
package roster

import (
	"slices"
	"strings"
	"unicode"

	"github.com/kozaktomas/face-attendance/internal/database"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName folds a name for comparison: no diacritics, lower case,
// dashes and repeated whitespace collapsed to single spaces.
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// CleanName trims and collapses whitespace in a display name.
func CleanName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Matches reports whether identity matches query by id prefix or by every
// query word appearing in its normalized name.
func Matches(identity *database.Identity, query string) bool {
	q := NormalizeName(query)
	if q == "" {
		return true
	}
	if strings.HasPrefix(strings.ToLower(identity.ID), strings.ToLower(strings.TrimSpace(query))) {
		return true
	}
	name := NormalizeName(identity.Name)
	for word := range strings.FieldsSeq(q) {
		if !strings.Contains(name, word) {
			return false
		}
	}
	return true
}

// Filter returns the identities matching query, keeping their order.
func Filter(identities []database.Identity, query string) []database.Identity {
	if strings.TrimSpace(query) == "" {
		return identities
	}
	return slices.DeleteFunc(slices.Clone(identities), func(i database.Identity) bool {
		return !Matches(&i, query)
	})
}

// SortByName orders identities by normalized name, then id.
func SortByName(identities []database.Identity) {
	slices.SortStableFunc(identities, func(a, b database.Identity) int {
		if c := strings.Compare(NormalizeName(a.Name), NormalizeName(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// NormalizeSubjects upper-cases, trims and de-duplicates subject
// abbreviations, keeping first occurrence order.
func NormalizeSubjects(subjects []string) []string {
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
