package reports

import (
	"regexp"
	"strings"
)

var inlineCategory = regexp.MustCompile(`(?i)#category\s*[:=]?\s*([\p{L}\p{N}_-]+)`)

// ExtractMeta removes "#category <name>" markers from a caption and returns
// the cleaned text together with the first category name found. Lines that
// start with "#category" are dropped entirely; markers inside a line are cut
// out of it.
func ExtractMeta(text string) (clean string, categoryHint string) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "#category") {
			if m := inlineCategory.FindStringSubmatch(trimmed); m != nil && categoryHint == "" {
				categoryHint = m[1]
			}
			continue
		}
		if m := inlineCategory.FindStringSubmatch(line); m != nil {
			if categoryHint == "" {
				categoryHint = m[1]
			}
			line = strings.TrimRight(inlineCategory.ReplaceAllString(line, ""), " \t")
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), strings.ToLower(categoryHint)
}
