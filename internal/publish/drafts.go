package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/store"
)

// Draft is one unpublished submission, keyed by chat and originating message.
type Draft struct {
	ChatID          int64    `json:"chatId"`
	FromID          int64    `json:"fromId"`
	OriginMessageID int64    `json:"originMessageId"`
	Text            string   `json:"text"`
	Photos          []string `json:"photos"`
	Timestamp       int64    `json:"timestamp"` // message time, Unix ms
	CreatedAt       int64    `json:"createdAt"` // Unix ms
}

const globalLockKey = "lock:reports:publish:global"

func draftKey(chatID, originID int64) string {
	return fmt.Sprintf("pending:reports:%d:%d", chatID, originID)
}

func lastDraftKey(chatID int64) string {
	return fmt.Sprintf("pending:reports:last:%d", chatID)
}

func draftLockKey(chatID, originID int64) string {
	return fmt.Sprintf("lock:reports:%d:%d", chatID, originID)
}

func dedupeKey(updateID int64) string {
	return fmt.Sprintf("dedupe:tg:update:%d", updateID)
}

// drafts wraps the coordination store with the bot's key layout.
type drafts struct {
	kv store.Store
}

func (d drafts) save(ctx context.Context, dr *Draft) error {
	data, err := json.Marshal(dr)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := d.kv.Set(ctx, draftKey(dr.ChatID, dr.OriginMessageID), string(data), store.DraftTTL); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	if err := d.kv.Set(ctx, lastDraftKey(dr.ChatID), strconv.FormatInt(dr.OriginMessageID, 10), store.DraftTTL); err != nil {
		return fmt.Errorf("save last draft pointer: %w", err)
	}
	return nil
}

// load returns the draft or nil when it does not exist.
func (d drafts) load(ctx context.Context, chatID, originID int64) (*Draft, error) {
	raw, ok, err := d.kv.Get(ctx, draftKey(chatID, originID))
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var dr Draft
	if err := json.Unmarshal([]byte(raw), &dr); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", draftKey(chatID, originID), err)
	}
	return &dr, nil
}

// last returns the chat's most recent live draft, or nil.
func (d drafts) last(ctx context.Context, chatID int64) (*Draft, error) {
	raw, ok, err := d.kv.Get(ctx, lastDraftKey(chatID))
	if err != nil {
		return nil, fmt.Errorf("load last draft pointer: %w", err)
	}
	if !ok {
		return nil, nil
	}
	originID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("value", raw).Int64("chat_id", chatID).Msg("Ignoring malformed last-draft pointer")
		return nil, nil
	}
	return d.load(ctx, chatID, originID)
}

// clear deletes the draft and, if it is still the chat's latest, the pointer.
func (d drafts) clear(ctx context.Context, chatID, originID int64) error {
	if err := d.kv.Delete(ctx, draftKey(chatID, originID)); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	if _, err := d.kv.DeleteIfValue(ctx, lastDraftKey(chatID), strconv.FormatInt(originID, 10)); err != nil {
		return fmt.Errorf("delete last draft pointer: %w", err)
	}
	return nil
}

// markSeen records updateID and reports whether this is its first delivery.
func (d drafts) markSeen(ctx context.Context, updateID int64) (bool, error) {
	first, err := d.kv.SetIfAbsent(ctx, dedupeKey(updateID), "1", store.DedupeTTL)
	if err != nil {
		return false, fmt.Errorf("mark update seen: %w", err)
	}
	return first, nil
}

// lock is a held coordination lock.
type lock struct {
	kv    store.Store
	key   string
	owner string
}

// tryLock acquires key for ttl. It returns nil without error when the key
// is already held.
func tryLock(ctx context.Context, kv store.Store, key string, ttl time.Duration) (*lock, error) {
	owner := uuid.NewString()
	ok, err := kv.SetIfAbsent(ctx, key, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return &lock{kv: kv, key: key, owner: owner}, nil
}

// release deletes the lock unless it expired and someone else took it.
func (l *lock) release(ctx context.Context) {
	released, err := l.kv.DeleteIfValue(ctx, l.key, l.owner)
	if err != nil {
		log.Error().Err(err).Str("key", l.key).Msg("Failed to release lock")
		return
	}
	if !released {
		log.Warn().Str("key", l.key).Msg("Lock expired before release; leaving the current holder alone")
	}
}
