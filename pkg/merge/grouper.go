package merge

import (
	"regexp"
	"strings"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

var (
	titleStopwords = map[string]struct{}{
		"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {},
		"in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	}
	titlePunctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// SectionGroup holds sections whose titles normalize to the same key
type SectionGroup struct {
	Key      string
	Sections []domain.Section
}

// NormalizeTitle lowercases a title, drops stopwords and punctuation,
// and collapses whitespace.
func NormalizeTitle(title string) string {
	words := strings.Fields(strings.ToLower(title))
	kept := words[:0]
	for _, w := range words {
		if _, stop := titleStopwords[w]; !stop {
			kept = append(kept, w)
		}
	}
	stripped := titlePunctuation.ReplaceAllString(strings.Join(kept, " "), "")
	return strings.Join(strings.Fields(stripped), " ")
}

// GroupSections clusters sections by exact normalized title.
// Groups keep the order in which their key was first seen.
func GroupSections(sections []domain.Section) []SectionGroup {
	index := make(map[string]int)
	var groups []SectionGroup

	for _, s := range sections {
		key := NormalizeTitle(s.Title)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, SectionGroup{Key: key})
		}
		groups[i].Sections = append(groups[i].Sections, s)
	}

	return groups
}
