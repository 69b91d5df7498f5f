package reports

import (
	"strings"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Допомога ЗСУ", "dopomoha-zsu"},
		{"Щастя і їжа", "shchastia-i-izha"},
		{"Ґанок, єнот, йод", "ganok-ienot-iod"},
		{"Сім'я та м’ясо", "simia-ta-miaso"},
		{"  --Hello,   World!!--  ", "hello-world"},
		{"Ремонт авто #2", "remont-avto-2"},
		{"Обʼєднання \"Схід\"", "obiednannia-skhid"},
		{"", ""},
		{"!!! ???", ""},
		{"Зима", "zyma"},
		{"ЖОВТЕНЬ", "zhovten"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_DecomposedInput(t *testing.T) {
	// и + combining breve and і + combining diaeresis must behave like й and ї.
	if got := Slugify("Ки\u0456\u0308в, кра\u0438\u0306"); got != "kyiv-krai" {
		t.Errorf("got %q", got)
	}
}

func TestSlugify_Bounds(t *testing.T) {
	long := strings.Repeat("слово ", 40)
	got := Slugify(long)
	if len(got) > 70 {
		t.Errorf("slug longer than 70: %d", len(got))
	}
	if strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") {
		t.Errorf("slug has edge hyphen: %q", got)
	}
	if strings.Contains(got, "--") {
		t.Errorf("slug has doubled hyphen: %q", got)
	}
	for _, r := range got {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
			t.Fatalf("unexpected rune %q in %q", r, got)
		}
	}
}

func TestSlugFor_HashFallback(t *testing.T) {
	a := SlugFor("!!!", "2024-05-01")
	b := SlugFor("!!!", "2024-05-01")
	if a != b || len(a) != 10 {
		t.Fatalf("expected stable 10-char hash slug, got %q and %q", a, b)
	}
	if SlugFor("!!!", "2024-05-02") == a {
		t.Error("hash must depend on the date")
	}
	if SlugFor("Допомога", "2024-05-01") != "dopomoha" {
		t.Error("non-empty slug must not be hashed")
	}
}

func TestNewID(t *testing.T) {
	now := time.UnixMilli(1714557600123)
	none := func(string) bool { return false }
	if got := NewID("2024", "dopomoha", none, now); got != "report-2024-dopomoha" {
		t.Errorf("got %q", got)
	}

	taken := map[string]bool{"report-2024-dopomoha": true}
	got := NewID("2024", "dopomoha", func(id string) bool { return taken[id] }, now)
	if got != "report-2024-dopomoha-0123" {
		t.Errorf("got %q", got)
	}

	taken["report-2024-dopomoha-0123"] = true
	got = NewID("2024", "dopomoha", func(id string) bool { return taken[id] }, now)
	if got != "report-2024-dopomoha-0124" {
		t.Errorf("got %q", got)
	}
}

func TestKeys(t *testing.T) {
	if got := TitleKey("2024", "dopomoha-zsu"); got != "report_2024_dopomoha-zsu_title" {
		t.Errorf("TitleKey = %q", got)
	}
	if got := SummaryKey("2024", "dopomoha-zsu"); got != "report_2024_dopomoha-zsu_sum" {
		t.Errorf("SummaryKey = %q", got)
	}
}

func TestValidDate(t *testing.T) {
	for s, want := range map[string]bool{
		"2024-05-01": true,
		"2024-02-29": true,
		"2023-02-29": false,
		"2024-13-01": false,
		"2024-5-1":   false,
		"":           false,
		"yesterday":  false,
	} {
		if got := ValidDate(s); got != want {
			t.Errorf("ValidDate(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestCivilDate_Kyiv(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Kyiv")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 22:30 UTC on April 30 is already May 1 in Kyiv (UTC+3 in summer).
	ts := time.Date(2024, 4, 30, 22, 30, 0, 0, time.UTC)
	if got := CivilDate(ts, loc); got != "2024-05-01" {
		t.Errorf("CivilDate = %q", got)
	}
	if got := CivilDate(ts, nil); got != "2024-04-30" {
		t.Errorf("CivilDate(nil loc) = %q", got)
	}
}

func TestGallery(t *testing.T) {
	g := Gallery{Root: "apps/web/public", Prefix: "Фото звіт"}
	folder := g.Folder("2024")
	if folder != "Фото звіт 2024" {
		t.Errorf("Folder = %q", folder)
	}
	if got := g.Src(folder, 7, "jpg"); got != "images/gallery/Фото звіт 2024/7.jpg" {
		t.Errorf("Src = %q", got)
	}
	if got := g.RepoPath(folder, 7, "jpg"); got != "apps/web/public/images/gallery/Фото звіт 2024/7.jpg" {
		t.Errorf("RepoPath = %q", got)
	}
}

func TestNextIndex(t *testing.T) {
	folder := "Фото звіт 2024"
	records := []Report{
		{Media: []Media{{Src: "images/gallery/Фото звіт 2024/3.jpg"}, {Src: "images/gallery/Фото звіт 2024/12.png"}}},
		{Media: []Media{{Src: "images/gallery/Фото звіт 2023/40.jpg"}}},
		{Media: []Media{{Src: "images/gallery/Фото звіт 2024/cover.jpg"}, {Src: "images/gallery/Фото звіт 2024/9b.webp"}}},
		{},
	}
	if got := NextIndex(records, folder); got != 13 {
		t.Errorf("NextIndex = %d, want 13", got)
	}
	if got := NextIndex(records, "Фото звіт 2025"); got != 1 {
		t.Errorf("NextIndex for empty folder = %d, want 1", got)
	}
	if got := NextIndex(nil, folder); got != 1 {
		t.Errorf("NextIndex(nil) = %d, want 1", got)
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]Category{
		"zsu":          CategoryZSU,
		"ZSU":          CategoryZSU,
		"med":          CategoryMedical,
		"medicine":     CategoryMedical,
		"evacuation":   CategoryOther,
		"civilians":    CategoryOther,
		"events":       CategoryOther,
		"aid":          CategoryHumanitarian,
		" partners ":   CategoryPartners,
		"repair":       CategoryRepair,
		"humanitarian": CategoryHumanitarian,
		"":             CategoryOther,
		"sports":       CategoryOther,
	}
	for in, want := range tests {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
		if !NormalizeCategory(in).Valid() {
			t.Errorf("NormalizeCategory(%q) produced an invalid category", in)
		}
	}
	if Category("events").Valid() {
		t.Error("legacy value must not be valid")
	}
}

func TestExtractMeta(t *testing.T) {
	tests := []struct {
		in       string
		wantText string
		wantHint string
	}{
		{"Допомога передана #category partners", "Допомога передана", "partners"},
		{"Передали генератор\n#category: repair\nДякуємо", "Передали генератор\nДякуємо", "repair"},
		{"#CATEGORY Medical\nАптечки", "Аптечки", "medical"},
		{"Просто текст", "Просто текст", ""},
		{"#category\nТекст", "Текст", ""},
	}
	for _, tt := range tests {
		text, hint := ExtractMeta(tt.in)
		if text != tt.wantText || hint != tt.wantHint {
			t.Errorf("ExtractMeta(%q) = %q, %q; want %q, %q", tt.in, text, hint, tt.wantText, tt.wantHint)
		}
	}
}
