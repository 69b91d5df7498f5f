// Package reports holds the reports-collection data model and the pure
// functions that turn a classified submission into a record: slugs, ids,
// translation keys, gallery paths and media numbering.
package reports

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Media is one picture attached to a report.
type Media struct {
	Src     string `json:"src"`
	Alt     string `json:"alt"`
	Caption string `json:"caption"`
}

// Report is one record of the reports collection. Field order matches the
// serialized file.
type Report struct {
	ID              string   `json:"id"`
	DateISO         string   `json:"dateISO"`
	Category        Category `json:"category"`
	TitleKey        string   `json:"titleKey"`
	TitleFallback   string   `json:"titleFallback"`
	SummaryKey      string   `json:"summaryKey"`
	SummaryFallback string   `json:"summaryFallback"`
	Media           []Media  `json:"media"`
}

const maxSlugLen = 70

var translit = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "h", 'ґ': "g", 'д': "d", 'е': "e", 'є': "ie",
	'ж': "zh", 'з': "z", 'и': "y", 'і': "i", 'ї': "i", 'й': "i", 'к': "k", 'л': "l",
	'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch", 'ь': "",
	'ю': "iu", 'я': "ia",
}

var (
	slugQuotes   = strings.NewReplacer("'", "", `"`, "", "`", "", "’", "", "ʼ", "")
	slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	dateISORe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Slugify transliterates Ukrainian text to Latin and reduces it to lowercase
// alphanumerics joined by single hyphens, at most 70 characters, with no
// leading or trailing hyphen. The result may be empty.
func Slugify(s string) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	for _, r := range s {
		if t, ok := translit[r]; ok {
			b.WriteString(t)
			continue
		}
		if t, ok := translit[toLowerCyr(r)]; ok {
			b.WriteString(t)
			continue
		}
		b.WriteRune(r)
	}

	out := strings.ToLower(b.String())
	out = slugQuotes.Replace(out)
	out = slugNonAlnum.ReplaceAllString(out, "-")
	out = strings.Trim(out, "-")
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	return out
}

// toLowerCyr lowercases Ukrainian capitals the table does not list directly.
func toLowerCyr(r rune) rune {
	switch r {
	case 'Ґ':
		return 'ґ'
	case 'Є':
		return 'є'
	case 'І':
		return 'і'
	case 'Ї':
		return 'ї'
	}
	if r >= 'А' && r <= 'Я' {
		return r + ('а' - 'А')
	}
	return r
}

// SlugFor returns Slugify(title), or the first 10 hex characters of
// sha1(title + dateISO) when the title has no usable characters.
func SlugFor(title, dateISO string) string {
	if s := Slugify(title); s != "" {
		return s
	}
	sum := sha1.Sum([]byte(title + dateISO))
	return hex.EncodeToString(sum[:])[:10]
}

// NewID builds "report-<year>-<slug>". When that id is taken, the last four
// digits of now in Unix milliseconds are appended (and bumped until free).
func NewID(year, slug string, taken func(string) bool, now time.Time) string {
	id := "report-" + year + "-" + slug
	if !taken(id) {
		return id
	}
	ms := now.UnixMilli()
	for i := int64(0); ; i++ {
		digits := strconv.FormatInt(ms+i, 10)
		candidate := id + "-" + digits[max(0, len(digits)-4):]
		if !taken(candidate) {
			return candidate
		}
	}
}

// TitleKey returns the translation key for a report title.
func TitleKey(year, slug string) string {
	return "report_" + year + "_" + slug + "_title"
}

// SummaryKey returns the translation key for a report summary.
func SummaryKey(year, slug string) string {
	return "report_" + year + "_" + slug + "_sum"
}

// ValidDate reports whether s is a real YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	if !dateISORe.MatchString(s) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// CivilDate formats t as YYYY-MM-DD in loc.
func CivilDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// Year returns the YYYY prefix of a date string.
func Year(dateISO string) string {
	if len(dateISO) < 4 {
		return dateISO
	}
	return dateISO[:4]
}

// Gallery builds media locations. Root is the repository directory that
// contains images/gallery; Prefix labels the per-year folder.
type Gallery struct {
	Root   string
	Prefix string
}

// Folder returns "<prefix> <year>".
func (g Gallery) Folder(year string) string {
	return g.Prefix + " " + year
}

// Src returns the site-relative image path stored in records.
func (g Gallery) Src(folder string, n int, ext string) string {
	return fmt.Sprintf("images/gallery/%s/%d.%s", folder, n, ext)
}

// RepoPath returns the repository path for an image.
func (g Gallery) RepoPath(folder string, n int, ext string) string {
	src := g.Src(folder, n, ext)
	if g.Root == "" {
		return src
	}
	return strings.TrimRight(g.Root, "/") + "/" + src
}

// NextIndex returns 1 + the largest numeric file name among media under
// images/gallery/<folder>/, or 1 when there is none. Names without a leading
// number are ignored.
func NextIndex(records []Report, folder string) int {
	prefix := "images/gallery/" + folder + "/"
	highest := 0
	for _, r := range records {
		for _, m := range r.Media {
			name, ok := strings.CutPrefix(m.Src, prefix)
			if !ok {
				continue
			}
			if n, ok := leadingInt(name); ok && n > highest {
				highest = n
			}
		}
	}
	return highest + 1
}

func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
