package telegram

import (
	"regexp"
	"strconv"
	"strings"
)

// Classification button labels and the prompt that carries them.
const (
	ClassificationPrompt = "Партнёры или нет?"
	partnersButton       = "Так, партнери"
	regularButton        = "Ні"
)

var classificationData = regexp.MustCompile(`^kind:(partners|reports):(\d+)$`)

// ClassificationKeyboard asks whether the draft started by originID comes
// from partners.
func ClassificationKeyboard(originID int64) *InlineKeyboard {
	id := strconv.FormatInt(originID, 10)
	return &InlineKeyboard{Rows: [][]InlineButton{
		{{Text: partnersButton, CallbackData: "kind:partners:" + id}},
		{{Text: regularButton, CallbackData: "kind:reports:" + id}},
	}}
}

// ParseClassification decodes callback data from ClassificationKeyboard.
func ParseClassification(data string) (originID int64, partners bool, ok bool) {
	m := classificationData.FindStringSubmatch(strings.TrimSpace(data))
	if m == nil {
		return 0, false, false
	}
	id, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false, false
	}
	return id, m[1] == "partners", true
}

// Allowlist restricts state-changing actions to known user ids. The zero
// value allows everyone.
type Allowlist struct {
	ids        map[int64]struct{}
	restricted bool
}

// NewAllowlist parses decimal ids. Unparseable entries match nobody, but
// still turn the restriction on.
func NewAllowlist(ids []string) Allowlist {
	a := Allowlist{ids: make(map[int64]struct{})}
	for _, s := range ids {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		a.restricted = true
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			a.ids[id] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether id may publish.
func (a Allowlist) Allowed(id int64) bool {
	if !a.restricted {
		return true
	}
	_, ok := a.ids[id]
	return ok
}

// Len returns the number of listed ids.
func (a Allowlist) Len() int { return len(a.ids) }
