package reports

import "strings"

// Category is the closed set of report categories the site renders.
type Category string

const (
	CategoryZSU          Category = "zsu"
	CategoryRepair       Category = "repair"
	CategoryHumanitarian Category = "humanitarian"
	CategoryMedical      Category = "medical"
	CategoryPartners     Category = "partners"
	CategoryOther        Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryZSU,
	CategoryRepair,
	CategoryHumanitarian,
	CategoryMedical,
	CategoryPartners,
	CategoryOther,
}

// categoryAliases maps free-form and legacy values onto the closed set.
var categoryAliases = map[string]Category{
	"zsu":          CategoryZSU,
	"зсу":          CategoryZSU,
	"army":         CategoryZSU,
	"repair":       CategoryRepair,
	"humanitarian": CategoryHumanitarian,
	"aid":          CategoryHumanitarian,
	"medical":      CategoryMedical,
	"med":          CategoryMedical,
	"medicine":     CategoryMedical,
	"partners":     CategoryPartners,
	"partner":      CategoryPartners,
	"other":        CategoryOther,
	"evac":         CategoryOther,
	"evacuation":   CategoryOther,
	"civilians":    CategoryOther,
	"civil":        CategoryOther,
	"events":       CategoryOther,
	"reports":      CategoryOther,
}

// NormalizeCategory maps s onto the closed set; unknown values become other.
func NormalizeCategory(s string) Category {
	if c, ok := LookupCategory(s); ok {
		return c
	}
	return CategoryOther
}

// LookupCategory maps s onto the closed set and reports whether s was
// recognised at all.
func LookupCategory(s string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// CategoryStrings returns Categories as plain strings, for JSON schemas.
func CategoryStrings() []string {
	out := make([]string, len(Categories))
	for i, c := range Categories {
		out[i] = string(c)
	}
	return out
}
