// Package merge turns several providers' markdown reports into one master report.
package merge

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/ncolesummers/multi-research/pkg/domain"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// ParseSections splits a report into titled sections at markdown headings.
// Text before the first heading is discarded, as are sections with no content.
// Heading-less input yields no sections.
func ParseSections(content string, provider domain.ProviderID) []domain.Section {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var (
		sections []domain.Section
		current  *domain.Section
		body     []string
	)

	flush := func() {
		if current == nil {
			return
		}
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			current.Content = text
			current.ContentHash = ContentHash(text)
			sections = append(sections, *current)
		}
	}

	for _, line := range strings.Split(content, "\n") {
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			body = append(body, line)
			continue
		}

		flush()
		current = &domain.Section{
			Title:    strings.TrimSpace(m[2]),
			Level:    len(m[1]),
			Provider: provider,
		}
		body = body[:0]
	}
	flush()

	return sections
}

// ContentHash identifies exact-duplicate content. Surrounding whitespace is ignored.
func ContentHash(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.TrimSpace(content)), 16)
}
