package reports

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleReport() Report {
	return Report{
		ID:              "report-2024-dopomoha",
		DateISO:         "2024-05-01",
		Category:        CategoryPartners,
		TitleKey:        "report_2024_dopomoha_title",
		TitleFallback:   "Допомога <від> партнерів & друзів",
		SummaryKey:      "report_2024_dopomoha_sum",
		SummaryFallback: "Передали генератор.",
		Media:           []Media{{Src: "images/gallery/Фото звіт 2024/1.jpg", Alt: "Генератор", Caption: ""}},
	}
}

func TestParseCollection_ObjectPreservesFieldsAndOrder(t *testing.T) {
	in := `{
  "version": 2,
  "reports": [
    {"id": "report-2023-old", "dateISO": "2023-01-01", "category": "events", "extra": {"keep": true}, "media": []}
  ],
  "updatedBy": "site"
}`
	c, err := ParseCollection([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Shape() != ShapeObject || c.Len() != 1 {
		t.Fatalf("unexpected shape %v len %d", c.Shape(), c.Len())
	}
	if !c.HasID("report-2023-old") {
		t.Error("expected existing id")
	}
	if err := c.Prepend(sampleReport()); err != nil {
		t.Fatalf("Prepend: %v", err)
	}

	out, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text := string(out)
	if !strings.HasSuffix(text, "}\n") || strings.HasSuffix(text, "\n\n") {
		t.Errorf("expected exactly one trailing newline: %q", text[len(text)-5:])
	}
	if strings.Index(text, `"version"`) > strings.Index(text, `"reports"`) ||
		strings.Index(text, `"reports"`) > strings.Index(text, `"updatedBy"`) {
		t.Errorf("top-level field order changed:\n%s", text)
	}
	if !strings.Contains(text, "<від> партнерів & друзів") {
		t.Errorf("HTML characters or Cyrillic were escaped:\n%s", text)
	}
	if !strings.Contains(text, "\n  \"version\": 2,\n") {
		t.Errorf("expected two-space indentation:\n%s", text)
	}

	var decoded struct {
		Version   int               `json:"version"`
		UpdatedBy string            `json:"updatedBy"`
		Reports   []json.RawMessage `json:"reports"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Version != 2 || decoded.UpdatedBy != "site" || len(decoded.Reports) != 2 {
		t.Fatalf("unexpected decoded output %+v", decoded)
	}
	var first Report
	json.Unmarshal(decoded.Reports[0], &first)
	if diff := cmp.Diff(sampleReport(), first); diff != "" {
		t.Errorf("new record mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(string(decoded.Reports[1]), `"extra"`) {
		t.Errorf("unknown record fields were dropped: %s", decoded.Reports[1])
	}
}

func TestParseCollection_Array(t *testing.T) {
	c, err := ParseCollection([]byte(`[{"id":"a","media":[{"src":"images/gallery/Фото звіт 2024/4.jpg"}]}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Shape() != ShapeArray {
		t.Fatalf("expected array shape")
	}
	if got := NextIndex(c.Records(), "Фото звіт 2024"); got != 5 {
		t.Errorf("NextIndex over parsed records = %d", got)
	}
	c.Prepend(sampleReport())
	out, _ := c.Marshal()
	if !strings.HasPrefix(string(out), "[\n  {\n    \"id\": \"report-2024-dopomoha\"") {
		t.Errorf("array shape or order not preserved:\n%s", out)
	}
}

func TestParseCollection_ObjectWithoutReports(t *testing.T) {
	c, err := ParseCollection([]byte(`{"title":"Звіти"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Prepend(sampleReport())
	out, _ := c.Marshal()

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := decoded["title"]; !ok {
		t.Error("title dropped")
	}
	var list []Report
	json.Unmarshal(decoded["reports"], &list)
	if len(list) != 1 || list[0].ID != "report-2024-dopomoha" {
		t.Errorf("unexpected reports %+v", list)
	}
}

func TestParseCollection_NonArrayReportsField(t *testing.T) {
	c, err := ParseCollection([]byte(`{"reports": null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected no records, got %d", c.Len())
	}
}

func TestParseCollection_Malformed(t *testing.T) {
	for _, in := range []string{``, `   `, `{"reports": [}`, `"text"`, `{"a":1} {"b":2}`, `[1,`} {
		if _, err := ParseCollection([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestNewCollection(t *testing.T) {
	c := NewCollection()
	c.Prepend(sampleReport())
	out, err := c.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.HasPrefix(string(out), "{\n  \"reports\": [\n    {\n") {
		t.Errorf("unexpected output:\n%s", out)
	}

	empty, _ := NewCollection().Marshal()
	if string(empty) != "{\n  \"reports\": []\n}\n" {
		t.Errorf("unexpected empty output %q", empty)
	}
}
