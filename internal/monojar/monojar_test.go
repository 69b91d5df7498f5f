package monojar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const jarPage = `<html><body>
<div class="stats"><span>Накопичено</span><div>12 345 ₴</div></div>
<div class="stats"><span>Ціль</span><div>100 000 грн</div></div>
<p>Мінімальний внесок 10,5 ₴</p>
</body></html>`

func TestExtractAmounts(t *testing.T) {
	got := ExtractAmounts(jarPage + "1 000 000,25 ₴ 0 ₴ 5 USD")
	want := []float64{12345, 100000, 10.5, 1000000.25}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("amounts mismatch (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	b, err := Parse("abc", jarPage)
	if err != nil {
		t.Fatal(err)
	}
	goal := int64(100000)
	want := &Balance{SendID: "abc", Source: "scrape-html", BalanceUAH: 11, GoalUAH: &goal}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Errorf("balance mismatch (-want +got):\n%s", diff)
	}

	single, err := Parse("abc", "<b>250 грн</b>")
	if err != nil || single.BalanceUAH != 250 || single.GoalUAH != nil {
		t.Errorf("single amount = %+v, %v", single, err)
	}

	if _, err := Parse("abc", "<html>nothing here</html>"); !errors.Is(err, ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func newJarServer(t *testing.T, page string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") == "" || r.Header.Get("Accept-Language") == "" {
			t.Error("browser headers missing")
		}
		io.WriteString(w, page)
	}))
}

func TestScraper_Caches(t *testing.T) {
	var hits atomic.Int32
	srv := newJarServer(t, "<b>250 грн</b><b>1 000 ₴</b>", &hits)
	defer srv.Close()

	s := NewScraper(srv.URL, 8, time.Minute, nil)
	for range 3 {
		b, err := s.Balance(context.Background(), "jar1")
		if err != nil || b.BalanceUAH != 250 || *b.GoalUAH != 1000 {
			t.Fatalf("Balance = %+v, %v", b, err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("page fetched %d times, want 1", hits.Load())
	}
	s.Balance(context.Background(), "jar2")
	if hits.Load() != 2 {
		t.Errorf("second jar should be fetched separately")
	}
}

func TestScraper_ExpiredEntryRefetched(t *testing.T) {
	var hits atomic.Int32
	srv := newJarServer(t, "<b>250 грн</b>", &hits)
	defer srv.Close()

	s := NewScraper(srv.URL, 8, 20*time.Millisecond, nil)
	s.Balance(context.Background(), "jar1")
	time.Sleep(60 * time.Millisecond)
	s.Balance(context.Background(), "jar1")
	if hits.Load() != 2 {
		t.Errorf("page fetched %d times, want 2", hits.Load())
	}
}

func TestHandler(t *testing.T) {
	var hits atomic.Int32
	good := newJarServer(t, jarPage, &hits)
	defer good.Close()
	empty := newJarServer(t, "<html></html>", &hits)
	defer empty.Close()

	tests := []struct {
		name      string
		base      string
		method    string
		query     string
		wantCode  int
		wantCache bool
	}{
		{"preflight", good.URL, http.MethodOptions, "", http.StatusOK, false},
		{"missing sendId", good.URL, http.MethodGet, "", http.StatusBadRequest, false},
		{"success", good.URL, http.MethodGet, "?sendId=abc", http.StatusOK, true},
		{"parse failure", empty.URL, http.MethodGet, "?sendId=abc", http.StatusBadGateway, false},
		{"fetch failure", "http://127.0.0.1:1", http.MethodGet, "?sendId=abc", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			FetchPolicy.Retries = 0
			h := NewHandler(NewScraper(tt.base, 4, time.Minute, nil))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(tt.method, "/api/monobank-jar-public"+tt.query, nil))

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Error("CORS header missing")
			}
			if got := rr.Header().Get("Cache-Control") != ""; got != tt.wantCache {
				t.Errorf("Cache-Control present = %v", got)
			}
		})
	}
}

func TestHandler_SuccessBody(t *testing.T) {
	var hits atomic.Int32
	srv := newJarServer(t, "<b>250 грн</b>", &hits)
	defer srv.Close()

	rr := httptest.NewRecorder()
	NewHandler(NewScraper(srv.URL, 4, time.Minute, nil)).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/?sendId=xyz", nil))

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"sendId": "xyz", "source": "scrape-html", "balanceUAH": 250.0, "goalUAH": nil}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}
