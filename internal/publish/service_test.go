package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/avku/reports-bot/internal/github"
	"github.com/avku/reports-bot/internal/reports"
	"github.com/avku/reports-bot/internal/store"
	"github.com/avku/reports-bot/internal/telegram"
	"github.com/avku/reports-bot/internal/transform"
)

type sent struct {
	chatID int64
	text   string
	kb     *telegram.InlineKeyboard
}

type fakeMessenger struct {
	mu        sync.Mutex
	sent      []sent
	answered  []string
	files     map[string][]byte
	failFiles bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, kb *telegram.InlineKeyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID, text, kb})
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeMessenger) Download(_ context.Context, fileID string) (*telegram.File, error) {
	if f.failFiles {
		return nil, errors.New("photo download failed: 502")
	}
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("unknown file")
	}
	return &telegram.File{Data: data, Ext: "jpg", Path: "photos/" + fileID + ".jpg"}, nil
}

func (f *fakeMessenger) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeMessenger) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type commit struct {
	branch  string
	message string
	files   []github.FileChange
}

type fakeRepo struct {
	content   map[string][]byte
	commits   []commit
	commitErr error
	reads     []string // refs passed to ReadFile
	// racer runs once after a build, standing in for another writer that
	// pushes before our ref update; that attempt is then rejected.
	racer func(content map[string][]byte)
}

func (r *fakeRepo) ReadFile(_ context.Context, path, ref string) (*github.File, error) {
	r.reads = append(r.reads, ref)
	data, ok := r.content[path]
	if !ok {
		return nil, &github.APIError{Status: 404, Message: "Not Found"}
	}
	return &github.File{Content: data, SHA: "blob"}, nil
}

func (r *fakeRepo) Commit(ctx context.Context, branch string, build github.BuildFunc) (string, error) {
	if r.content == nil {
		r.content = map[string][]byte{}
	}
	for attempt := 0; ; attempt++ {
		head := fmt.Sprintf("head-%d-%d", len(r.commits), attempt)
		message, files, err := build(ctx, head)
		if err != nil {
			return "", err
		}
		if r.commitErr != nil {
			return "", r.commitErr
		}
		if r.racer != nil {
			racer := r.racer
			r.racer = nil
			racer(r.content)
			continue
		}
		r.commits = append(r.commits, commit{branch, message, files})
		for _, f := range files {
			r.content[f.Path] = f.Content
		}
		return "abc123", nil
	}
}

type fakeArchiver struct{ ids []string }

func (a *fakeArchiver) Archive(_ context.Context, id string, _ []github.FileChange) error {
	a.ids = append(a.ids, id)
	return nil
}

type fakeNotifier struct{ shas []string }

func (n *fakeNotifier) ReportPublished(_ context.Context, _ reports.Report, sha string) error {
	n.shas = append(n.shas, sha)
	return errors.New("bus unavailable")
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	svc  *Service
	kv   *store.MemoryStore
	tg   *fakeMessenger
	repo *fakeRepo
}

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, allow ...string) *fixture {
	t.Helper()
	kyiv, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	f := &fixture{
		kv:   store.NewMemoryStore(func() time.Time { return fixedNow }),
		tg:   &fakeMessenger{files: map[string][]byte{"p1": pngBytes(t)}},
		repo: &fakeRepo{},
	}
	f.svc = NewService(Config{
		Branch:    "main",
		JSONPath:  "data/reports.json",
		Gallery:   reports.Gallery{Prefix: "Звіти"},
		Location:  kyiv,
		Allowlist: telegram.NewAllowlist(allow),
	}, f.kv, f.tg, f.repo, transform.New(nil))
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func photoUpdate(updateID, msgID int64, caption string) *telegram.Update {
	return &telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: msgID,
			From:      &telegram.User{ID: 7},
			Chat:      telegram.Chat{ID: 100},
			Date:      fixedNow.Unix(),
			Caption:   caption,
			Photo:     []telegram.PhotoSize{{FileID: "p1", Width: 4, Height: 3}},
		},
	}
}

func callbackUpdate(updateID int64, data string) *telegram.Update {
	return &telegram.Update{
		UpdateID: updateID,
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb",
			From:    telegram.User{ID: 7},
			Data:    data,
			Message: &telegram.Message{MessageID: 999, Chat: telegram.Chat{ID: 100}},
		},
	}
}

func mustHandle(t *testing.T, f *fixture, u *telegram.Update, want Outcome) {
	t.Helper()
	got, err := f.svc.HandleUpdate(context.Background(), u)
	if got != want {
		t.Fatalf("outcome = %q (err %v), want %q", got, err, want)
	}
}

func TestPublish_EndToEnd(t *testing.T) {
	f := newFixture(t)
	archiver, notifier := &fakeArchiver{}, &fakeNotifier{}
	f.svc.WithArchiver(archiver).WithNotifier(notifier)

	mustHandle(t, f, photoUpdate(1, 10, "Допомога передана #category partners"), OutcomeDraftCreated)
	prompt := f.tg.last()
	if prompt.text != telegram.ClassificationPrompt || prompt.kb == nil {
		t.Fatalf("expected classification prompt, got %+v", prompt)
	}

	mustHandle(t, f, callbackUpdate(2, "kind:partners:10"), OutcomePublished)

	if len(f.repo.commits) != 1 {
		t.Fatalf("commits = %d", len(f.repo.commits))
	}
	c := f.repo.commits[0]
	if c.message != "chore(reports): add report-2025-dopomoha-peredana" || c.branch != "main" {
		t.Errorf("commit %q on %q", c.message, c.branch)
	}
	var paths []string
	for _, fc := range c.files {
		paths = append(paths, fc.Path)
	}
	if diff := cmp.Diff([]string{"images/gallery/Звіти 2025/1.png", "data/reports.json"}, paths); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}

	coll, err := reports.ParseCollection(f.repo.content["data/reports.json"])
	if err != nil {
		t.Fatal(err)
	}
	rec := coll.Records()[0]
	if rec.Category != reports.CategoryPartners || len(rec.Media) != 1 || rec.DateISO != "2025-01-01" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.TitleFallback != "Допомога передана" || rec.TitleKey != "report_2025_dopomoha-peredana_title" {
		t.Errorf("unexpected title %q / %q", rec.TitleFallback, rec.TitleKey)
	}

	if got := f.tg.last().text; got != "Готово ✅\nДодано: report-2025-dopomoha-peredana\nCommit: abc123" {
		t.Errorf("final message %q", got)
	}
	if d, _ := f.svc.drafts.load(context.Background(), 100, 10); d != nil {
		t.Error("draft should be cleared after publish")
	}
	if _, held, _ := f.kv.Get(context.Background(), globalLockKey); held {
		t.Error("global lock not released")
	}
	if _, held, _ := f.kv.Get(context.Background(), draftLockKey(100, 10)); held {
		t.Error("draft lock not released")
	}
	if diff := cmp.Diff([]string{"report-2025-dopomoha-peredana"}, archiver.ids); diff != "" {
		t.Errorf("archive mismatch: %s", diff)
	}
	if len(notifier.shas) != 1 {
		t.Errorf("notifier calls = %v", notifier.shas)
	}
	if len(f.tg.answered) != 1 {
		t.Errorf("callback answered %d times", len(f.tg.answered))
	}

	// A second report in the same year continues the numbering and gets
	// its own id even with the same title.
	mustHandle(t, f, photoUpdate(3, 11, "Допомога передана"), OutcomeDraftCreated)
	mustHandle(t, f, callbackUpdate(4, "kind:reports:11"), OutcomePublished)
	coll, _ = reports.ParseCollection(f.repo.content["data/reports.json"])
	second := coll.Records()[0]
	if second.Media[0].Src != "images/gallery/Звіти 2025/2.png" {
		t.Errorf("second src %q", second.Media[0].Src)
	}
	if second.ID == rec.ID || !strings.HasPrefix(second.ID, rec.ID+"-") {
		t.Errorf("second id %q", second.ID)
	}
	if second.Category != reports.CategoryZSU {
		t.Errorf("second category %q", second.Category)
	}
}

func TestPublish_PreservesExistingFile(t *testing.T) {
	f := newFixture(t)
	f.repo.content = map[string][]byte{
		"data/reports.json": []byte(`{"version": 3, "reports": [{"id": "old", "media": [{"src": "images/gallery/Звіти 2025/7.jpg"}]}]}`),
	}
	mustHandle(t, f, photoUpdate(1, 10, "Генератори для бригади"), OutcomeDraftCreated)
	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomePublished)

	out := string(f.repo.content["data/reports.json"])
	if !strings.HasPrefix(out, "{\n  \"version\": 3,\n  \"reports\": [") {
		t.Errorf("field order lost:\n%s", out)
	}
	coll, _ := reports.ParseCollection([]byte(out))
	if coll.Len() != 2 || coll.Records()[1].ID != "old" {
		t.Errorf("old record not kept after the new one")
	}
	if src := coll.Records()[0].Media[0].Src; src != "images/gallery/Звіти 2025/8.png" {
		t.Errorf("src %q", src)
	}
}

func TestPublish_ConflictRebuildsFromNewHead(t *testing.T) {
	f := newFixture(t)
	f.repo.content = map[string][]byte{
		"data/reports.json": []byte(`[{"id": "old", "media": [{"src": "images/gallery/Звіти 2025/1.jpg"}]}]`),
	}
	f.repo.racer = func(content map[string][]byte) {
		content["data/reports.json"] = []byte(`[
			{"id": "human-edit", "media": [{"src": "images/gallery/Звіти 2025/2.jpg"}]},
			{"id": "old", "media": [{"src": "images/gallery/Звіти 2025/1.jpg"}]}
		]`)
	}
	mustHandle(t, f, photoUpdate(1, 10, "Генератори передано"), OutcomeDraftCreated)
	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomePublished)

	if diff := cmp.Diff([]string{"head-0-0", "head-0-1"}, f.repo.reads); diff != "" {
		t.Errorf("reports file must be re-read at each head (-want +got):\n%s", diff)
	}
	coll, err := reports.ParseCollection(f.repo.content["data/reports.json"])
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range coll.Records() {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[1] != "human-edit" || ids[2] != "old" {
		t.Fatalf("concurrent edit lost, ids = %v", ids)
	}
	if src := coll.Records()[0].Media[0].Src; src != "images/gallery/Звіти 2025/3.png" {
		t.Errorf("numbering must follow the new head, got %q", src)
	}
	if p := f.repo.commits[0].files[0].Path; p != "images/gallery/Звіти 2025/3.png" {
		t.Errorf("committed photo path %q", p)
	}
	if got := f.tg.last().text; !strings.Contains(got, ids[0]) {
		t.Errorf("success message %q does not name %s", got, ids[0])
	}
}

func TestHandleUpdate_Duplicate(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(5, 10, "текст"), OutcomeDraftCreated)
	mustHandle(t, f, photoUpdate(5, 10, "текст"), OutcomeDuplicate)
	if n := len(f.tg.texts()); n != 1 {
		t.Errorf("duplicate produced extra messages: %d", n)
	}
}

func TestPublish_DraftLockHeld(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	f.kv.Set(context.Background(), draftLockKey(100, 10), "other", store.DraftLockTTL)

	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomeBusy)
	if got := f.tg.last().text; got != msgBusy {
		t.Errorf("message %q", got)
	}
	if v, _, _ := f.kv.Get(context.Background(), draftLockKey(100, 10)); v != "other" {
		t.Error("foreign lock must be left alone")
	}
}

func TestPublish_GlobalBusy(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	f.kv.Set(context.Background(), globalLockKey, "other", store.GlobalLockTTL)

	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomeGlobalBusy)
	texts := f.tg.texts()
	if diff := cmp.Diff([]string{telegram.ClassificationPrompt, msgPublishingRegular, msgGlobalBusy}, texts); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if _, held, _ := f.kv.Get(context.Background(), draftLockKey(100, 10)); held {
		t.Error("draft lock must be released")
	}
	if d, _ := f.svc.drafts.load(context.Background(), 100, 10); d == nil {
		t.Error("draft must survive")
	}
}

func TestPublish_FailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.repo.commitErr = errors.New("github commit failed: 500")
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomeFailed)

	if got := f.tg.last().text; got != "Сталася помилка під час публікації: github commit failed: 500" {
		t.Errorf("message %q", got)
	}
	if d, _ := f.svc.drafts.load(context.Background(), 100, 10); d == nil {
		t.Fatal("draft must be kept for retry")
	}

	f.repo.commitErr = nil
	mustHandle(t, f, callbackUpdate(3, "kind:reports:10"), OutcomePublished)
}

func TestPublish_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.tg.failFiles = true
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomeFailed)
	if len(f.repo.commits) != 0 {
		t.Error("nothing should be committed")
	}
}

func TestPublish_MalformedReportsFile(t *testing.T) {
	f := newFixture(t)
	f.repo.content = map[string][]byte{"data/reports.json": []byte(`{"reports": [`)}
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomeFailed)
	if len(f.repo.commits) != 0 {
		t.Error("malformed file must not be overwritten")
	}
}

func TestCallback_DraftMissing(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, callbackUpdate(1, "kind:partners:77"), OutcomeDraftMissing)
	if got := f.tg.last().text; got != msgDraftMissing {
		t.Errorf("message %q", got)
	}
	mustHandle(t, f, callbackUpdate(2, "something-else"), OutcomeIgnored)
}

func TestForbidden(t *testing.T) {
	f := newFixture(t, "1", "2")
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeForbidden)
	mustHandle(t, f, callbackUpdate(2, "kind:partners:10"), OutcomeForbidden)
	if diff := cmp.Diff([]string{msgForbidden, msgForbidden}, f.tg.texts()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if f.kv.Len() != 2 {
		t.Errorf("only dedupe keys expected, got %d entries", f.kv.Len())
	}
}

func textUpdate(updateID int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: updateID,
		Message: &telegram.Message{
			MessageID: updateID + 100,
			From:      &telegram.User{ID: 7},
			Chat:      telegram.Chat{ID: 100},
			Text:      text,
		},
	}
}

func TestCommands(t *testing.T) {
	f := newFixture(t)

	mustHandle(t, f, textUpdate(1, "/start"), OutcomeHelp)
	if got := f.tg.last().text; got != msgHelp || !strings.HasPrefix(got, "Як користуватись:\n1)") {
		t.Errorf("help %q", got)
	}
	mustHandle(t, f, textUpdate(2, "/cancel"), OutcomeNoDraft)
	if got := f.tg.last().text; got != msgNoActiveDraft {
		t.Errorf("message %q", got)
	}
	mustHandle(t, f, textUpdate(3, "/publish"), OutcomeNoDraft)
	if got := f.tg.last().text; got != msgNoDraftToPublish {
		t.Errorf("message %q", got)
	}

	mustHandle(t, f, photoUpdate(4, 10, "текст"), OutcomeDraftCreated)
	mustHandle(t, f, textUpdate(5, "/publish"), OutcomePrompted)
	last := f.tg.last()
	if last.text != telegram.ClassificationPrompt || last.kb.Rows[0][0].CallbackData != "kind:partners:10" {
		t.Errorf("re-prompt %+v", last)
	}

	mustHandle(t, f, textUpdate(6, "/cancel"), OutcomeCancelled)
	if got := f.tg.last().text; got != msgCancelled {
		t.Errorf("message %q", got)
	}
	if d, _ := f.svc.drafts.last(context.Background(), 100); d != nil {
		t.Error("draft should be gone")
	}
}

func TestRejections(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(1, 10, "   "), OutcomeRejected)
	if got := f.tg.last().text; got != msgPhotoWithoutText {
		t.Errorf("message %q", got)
	}
	mustHandle(t, f, textUpdate(2, "просто текст"), OutcomeRejected)
	if got := f.tg.last().text; got != msgTextWithoutPhoto {
		t.Errorf("message %q", got)
	}
	mustHandle(t, f, textUpdate(3, ""), OutcomeIgnored)
	mustHandle(t, f, &telegram.Update{UpdateID: 4}, OutcomeIgnored)
}

func TestEditedMessage(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(1, 10, "перший текст"), OutcomeDraftCreated)

	edit := photoUpdate(2, 10, "виправлений текст")
	edit.EditedMessage, edit.Message = edit.Message, nil
	mustHandle(t, f, edit, OutcomeDraftUpdated)

	d, _ := f.svc.drafts.load(context.Background(), 100, 10)
	if d == nil || d.Text != "виправлений текст" {
		t.Fatalf("draft %+v", d)
	}

	f.kv.Set(context.Background(), draftLockKey(100, 10), "publisher", store.DraftLockTTL)
	again := photoUpdate(3, 10, "ще одна правка")
	again.EditedMessage, again.Message = again.Message, nil
	mustHandle(t, f, again, OutcomeBusy)
	d, _ = f.svc.drafts.load(context.Background(), 100, 10)
	if d.Text != "виправлений текст" {
		t.Error("draft changed while being published")
	}
}

func TestDraftJSON(t *testing.T) {
	d := Draft{ChatID: 1, FromID: 2, OriginMessageID: 3, Text: "t", Photos: []string{"a"}, Timestamp: 4, CreatedAt: 5}
	data, _ := json.Marshal(d)
	want := `{"chatId":1,"fromId":2,"originMessageId":3,"text":"t","photos":["a"],"timestamp":4,"createdAt":5}`
	if string(data) != want {
		t.Errorf("got %s", data)
	}
}

func TestLockRelease_ExpiredLockIsNotStolen(t *testing.T) {
	kv := store.NewMemoryStore(nil)
	ctx := context.Background()
	l, err := tryLock(ctx, kv, "k", time.Minute)
	if err != nil || l == nil {
		t.Fatalf("tryLock = %v, %v", l, err)
	}
	if again, _ := tryLock(ctx, kv, "k", time.Minute); again != nil {
		t.Fatal("lock acquired twice")
	}
	kv.Set(ctx, "k", "someone-else", time.Minute)
	l.release(ctx)
	if v, ok, _ := kv.Get(ctx, "k"); !ok || v != "someone-else" {
		t.Error("release removed another holder's lock")
	}
}

// flakyStore wraps a MemoryStore, records lock releases and fails the
// operations fail selects.
type flakyStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	releases []string
	fail     func(op, key string) error
}

func (s *flakyStore) check(op, key string) error {
	if s.fail == nil {
		return nil
	}
	return s.fail(op, key)
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check("get", key); err != nil {
		return "", false, err
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.check("set", key); err != nil {
		return err
	}
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *flakyStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	s.releases = append(s.releases, key)
	s.mu.Unlock()
	if err := s.check("delete-if", key); err != nil {
		return false, err
	}
	return s.MemoryStore.DeleteIfValue(ctx, key, value)
}

func useFlakyStore(f *fixture, fail func(op, key string) error) *flakyStore {
	fs := &flakyStore{MemoryStore: f.kv, fail: fail}
	f.svc.kv = fs
	f.svc.drafts = drafts{kv: fs}
	return fs
}

func TestPublish_LocksReleasedGlobalFirstEvenWhenReleaseFails(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	fs := useFlakyStore(f, func(op, key string) error {
		if op == "delete-if" && key == globalLockKey {
			return errors.New("store unavailable")
		}
		return nil
	})
	f.repo.commitErr = errors.New("github commit failed: 500")

	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomeFailed)

	want := []string{globalLockKey, draftLockKey(100, 10)}
	if diff := cmp.Diff(want, fs.releases); diff != "" {
		t.Errorf("release order mismatch (-want +got):\n%s", diff)
	}
	if _, held, _ := f.kv.Get(context.Background(), draftLockKey(100, 10)); held {
		t.Error("draft lock must be released even though the global release failed")
	}
	if d, _ := f.svc.drafts.load(context.Background(), 100, 10); d == nil {
		t.Error("draft must survive a failed publish")
	}
}

func TestPublish_GlobalReleaseFailureAfterSuccess(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, photoUpdate(1, 10, "текст"), OutcomeDraftCreated)
	useFlakyStore(f, func(op, key string) error {
		if op == "delete-if" && key == globalLockKey {
			return errors.New("store unavailable")
		}
		return nil
	})

	mustHandle(t, f, callbackUpdate(2, "kind:reports:10"), OutcomePublished)
	if _, held, _ := f.kv.Get(context.Background(), draftLockKey(100, 10)); held {
		t.Error("draft lock not released")
	}
	if !strings.HasPrefix(f.tg.last().text, "Готово ✅") {
		t.Errorf("final message %q", f.tg.last().text)
	}
}

func TestHandleMessage_StoreErrorsAreReported(t *testing.T) {
	storeErr := errors.New("store unavailable")
	tests := []struct {
		name   string
		failOp string
		update func() *telegram.Update
	}{
		{"cancel", "get", func() *telegram.Update { return textUpdate(2, "/cancel") }},
		{"publish", "get", func() *telegram.Update { return textUpdate(2, "/publish") }},
		{"draft save", "set", func() *telegram.Update { return photoUpdate(2, 10, "текст") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			useFlakyStore(f, func(op, key string) error {
				if op == tt.failOp && (key == lastDraftKey(100) || key == draftKey(100, 10)) {
					return storeErr
				}
				return nil
			})
			got, err := f.svc.HandleUpdate(context.Background(), tt.update())
			if got != OutcomeFailed || !errors.Is(err, storeErr) {
				t.Fatalf("outcome = %q, %v", got, err)
			}
			if got := f.tg.last().text; got != failureText(err) {
				t.Errorf("message %q", got)
			}
		})
	}
}

func TestDraftsClear_KeepsNewerPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mustHandle(t, f, photoUpdate(1, 10, "перший"), OutcomeDraftCreated)
	mustHandle(t, f, photoUpdate(2, 11, "другий"), OutcomeDraftCreated)

	if err := f.svc.drafts.clear(ctx, 100, 10); err != nil {
		t.Fatal(err)
	}
	last, err := f.svc.drafts.last(ctx, 100)
	if err != nil || last == nil || last.OriginMessageID != 11 {
		t.Fatalf("last = %+v, %v", last, err)
	}
	if err := f.svc.drafts.clear(ctx, 100, 11); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := f.kv.Get(ctx, lastDraftKey(100)); ok {
		t.Error("pointer to the cleared draft must be removed")
	}
}
