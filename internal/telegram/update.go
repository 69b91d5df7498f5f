// Package telegram is a small Bot API adapter: it parses webhook updates
// into typed values, extracts commands and photos from messages, and sends
// messages, keyboards and file downloads through httpretry.
package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"
)

// Kind identifies which payload an update carries.
type Kind string

const (
	KindMessage           Kind = "message"
	KindEditedMessage     Kind = "edited_message"
	KindChannelPost       Kind = "channel_post"
	KindEditedChannelPost Kind = "edited_channel_post"
	KindCallback          Kind = "callback_query"
	KindUnknown           Kind = "unknown"
)

// Update is one webhook delivery. Only the fields the bot reads are decoded.
type Update struct {
	UpdateID          int64          `json:"update_id"`
	Message           *Message       `json:"message,omitempty"`
	EditedMessage     *Message       `json:"edited_message,omitempty"`
	ChannelPost       *Message       `json:"channel_post,omitempty"`
	EditedChannelPost *Message       `json:"edited_channel_post,omitempty"`
	CallbackQuery     *CallbackQuery `json:"callback_query,omitempty"`
}

// User is a message or callback author.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat is the conversation a message belongs to.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// PhotoSize is one resolution of a photo.
type PhotoSize struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FileSize     int64  `json:"file_size,omitempty"`
}

// Document is a generic file attachment.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Entity marks a span of message text. Offsets are in UTF-16 code units.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Message is a chat message or channel post.
type Message struct {
	MessageID       int64       `json:"message_id"`
	From            *User       `json:"from,omitempty"`
	SenderChat      *Chat       `json:"sender_chat,omitempty"`
	Chat            Chat        `json:"chat"`
	Date            int64       `json:"date"`
	EditDate        int64       `json:"edit_date,omitempty"`
	Text            string      `json:"text,omitempty"`
	Caption         string      `json:"caption,omitempty"`
	Entities        []Entity    `json:"entities,omitempty"`
	CaptionEntities []Entity    `json:"caption_entities,omitempty"`
	Photo           []PhotoSize `json:"photo,omitempty"`
	Document        *Document   `json:"document,omitempty"`
	MediaGroupID    string      `json:"media_group_id,omitempty"`
}

// CallbackQuery is an inline keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ErrMalformedUpdate is returned for bodies that are not a JSON object.
var ErrMalformedUpdate = errors.New("telegram: malformed update")

// ParseUpdate decodes a webhook body.
func ParseUpdate(body []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return &u, nil
}

// Kind reports which payload u carries, preferring callbacks.
func (u *Update) Kind() Kind {
	switch {
	case u.CallbackQuery != nil:
		return KindCallback
	case u.Message != nil:
		return KindMessage
	case u.EditedMessage != nil:
		return KindEditedMessage
	case u.ChannelPost != nil:
		return KindChannelPost
	case u.EditedChannelPost != nil:
		return KindEditedChannelPost
	}
	return KindUnknown
}

// Msg returns the message carried by u, including the message a callback
// button was attached to, or nil.
func (u *Update) Msg() *Message {
	switch u.Kind() {
	case KindCallback:
		return u.CallbackQuery.Message
	case KindMessage:
		return u.Message
	case KindEditedMessage:
		return u.EditedMessage
	case KindChannelPost:
		return u.ChannelPost
	case KindEditedChannelPost:
		return u.EditedChannelPost
	}
	return nil
}

// Edited reports whether u is an edit of an earlier message.
func (u *Update) Edited() bool {
	k := u.Kind()
	return k == KindEditedMessage || k == KindEditedChannelPost
}

// Body returns the message text or, for media messages, the caption.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// SenderID returns the author's user id, or the sending chat's id for
// anonymous channel posts, or 0.
func (m *Message) SenderID() int64 {
	if m.From != nil {
		return m.From.ID
	}
	if m.SenderChat != nil {
		return m.SenderChat.ID
	}
	return 0
}

var commandFallback = regexp.MustCompile(`(?i)(?:^|\s)(/[a-z0-9_]+)(?:@[\w]+)?(?:\s|$)`)

// CommandSet is the set of lowercased commands ("/help") in a message.
type CommandSet map[string]struct{}

// Has reports whether any of names is present.
func (s CommandSet) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := s[n]; ok {
			return true
		}
	}
	return false
}

// Commands extracts bot commands from bot_command entities. Without any
// such entity it falls back to the first "/command" token in the text.
// Commands are lowercased and stripped of an "@botname" suffix.
func Commands(m *Message) CommandSet {
	out := CommandSet{}
	if m == nil {
		return out
	}
	text := m.Body()
	entities := m.Entities
	if m.Text == "" {
		entities = m.CaptionEntities
	}

	units := utf16.Encode([]rune(text))
	for _, e := range entities {
		if e.Type != "bot_command" || e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
			continue
		}
		raw := string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		if cmd := normalizeCommand(raw); cmd != "" {
			out[cmd] = struct{}{}
		}
	}

	if len(out) == 0 && text != "" {
		if match := commandFallback.FindStringSubmatch(text); match != nil {
			out[strings.ToLower(match[1])] = struct{}{}
		}
	}
	return out
}

func normalizeCommand(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}

// MediaRefs returns the file ids of the images in m: the largest size of an
// attached photo, then a document whose MIME type is image/*.
func MediaRefs(m *Message) []string {
	if m == nil {
		return nil
	}
	var ids []string
	if len(m.Photo) > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height >= best.Width*best.Height {
				best = p
			}
		}
		if best.FileID != "" {
			ids = append(ids, best.FileID)
		}
	}
	if d := m.Document; d != nil && d.FileID != "" && strings.HasPrefix(strings.ToLower(d.MIMEType), "image/") {
		ids = append(ids, d.FileID)
	}
	return ids
}
