// Package monojar reads the public page of a Monobank donation jar and
// extracts the collected amount and the goal.
//
// The page has no API, so amounts are scraped: every number followed by
// "₴" or "грн" is collected, the smallest is taken as the balance and the
// largest as the goal. Results are cached per jar for a short time.
package monojar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/avku/reports-bot/internal/httpretry"
)

// DefaultBaseURL is the public jar page prefix.
const DefaultBaseURL = "https://send.monobank.ua/jar"

const (
	browserUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	acceptLanguage = "uk-UA,uk;q=0.9,en;q=0.8"
	sourceScrape   = "scrape-html"
)

// ErrParse means the page contained no amounts.
var ErrParse = errors.New("monojar: no amounts on jar page")

// FetchPolicy bounds one page fetch.
var FetchPolicy = httpretry.Policy{Retries: 2, Timeout: 10 * time.Second}

var amountRe = regexp.MustCompile(`(?i)(\d[\d\s\x{00A0}.,]*)\s*(?:₴|грн)`)

// Balance is the state of one jar.
type Balance struct {
	SendID     string `json:"sendId"`
	Source     string `json:"source"`
	BalanceUAH int64  `json:"balanceUAH"`
	GoalUAH    *int64 `json:"goalUAH"`
}

// Scraper fetches and caches jar balances. It is safe for concurrent use.
type Scraper struct {
	http    *httpretry.Client
	baseURL string
	cache   *expirable.LRU[string, Balance]
	group   singleflight.Group
}

// NewScraper creates a Scraper caching up to size jars for ttl each.
func NewScraper(baseURL string, size int, ttl time.Duration, httpClient *httpretry.Client) *Scraper {
	if httpClient == nil {
		httpClient = httpretry.New(nil)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Scraper{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   expirable.NewLRU[string, Balance](max(size, 1), nil, ttl),
	}
}

// Balance returns the jar state, from cache when fresh. Concurrent calls
// for the same jar share one fetch.
func (s *Scraper) Balance(ctx context.Context, sendID string) (*Balance, error) {
	if b, ok := s.cache.Get(sendID); ok {
		return &b, nil
	}
	v, err, shared := s.group.Do(sendID, func() (any, error) {
		b, err := s.fetch(ctx, sendID)
		if err != nil {
			return nil, err
		}
		s.cache.Add(sendID, *b)
		return *b, nil
	})
	if err != nil {
		return nil, err
	}
	b := v.(Balance)
	log.Debug().Str("sendId", sendID).Bool("shared", shared).Int64("balance", b.BalanceUAH).Msg("Jar balance fetched")
	return &b, nil
}

func (s *Scraper) fetch(ctx context.Context, sendID string) (*Balance, error) {
	resp, err := s.http.Do(ctx, &httpretry.Request{
		Op:     "monojar.page",
		Method: http.MethodGet,
		URL:    s.baseURL + "/" + url.PathEscape(sendID),
		Header: http.Header{
			"User-Agent":      {browserUA},
			"Accept-Language": {acceptLanguage},
		},
	}, FetchPolicy)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		log.Warn().Int("status", resp.StatusCode).Str("sendId", sendID).Msg("Jar page returned non-2xx; parsing anyway")
	}
	return Parse(sendID, string(resp.Body))
}

// Parse extracts the balance (smallest amount) and goal (largest amount,
// only when there are at least two) from a jar page.
func Parse(sendID, html string) (*Balance, error) {
	amounts := ExtractAmounts(html)
	if len(amounts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrParse, sendID)
	}
	slices.Sort(amounts)
	b := &Balance{SendID: sendID, Source: sourceScrape, BalanceUAH: int64(math.Round(amounts[0]))}
	if len(amounts) >= 2 {
		goal := int64(math.Round(amounts[len(amounts)-1]))
		b.GoalUAH = &goal
	}
	return b, nil
}

// ExtractAmounts returns every positive amount marked with ₴ or грн.
// Spaces (including no-break spaces) are digit-group separators and a
// comma is a decimal point.
func ExtractAmounts(html string) []float64 {
	var out []float64
	for _, m := range amountRe.FindAllStringSubmatch(html, -1) {
		raw := strings.Map(func(r rune) rune {
			if r == ' ' || r == '\u00a0' || r == '\t' || r == '\n' || r == '\r' {
				return -1
			}
			return r
		}, m[1])
		raw = strings.Replace(raw, ",", ".", 1)
		n, err := strconv.ParseFloat(strings.TrimRight(raw, "."), 64)
		if err != nil || n <= 0 || math.IsInf(n, 0) {
			continue
		}
		out = append(out, n)
	}
	return out
}
