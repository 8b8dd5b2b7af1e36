package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"audimeta/pkg/domain"
	"golang.org/x/time/rate"
)

// ErrUnexpectedStatusCode indicates an HTTP response with unexpected status.
var ErrUnexpectedStatusCode = errors.New("unexpected status code")

const maxPageBytes = 4 << 20

// Config configures a Scraper. Zero values get defaults.
type Config struct {
	HTTPClient    *http.Client
	BaseURL       string
	UserAgent     string
	RatePerSecond float64
	Timeout       time.Duration
}

// Scraper downloads public product and author pages.
type Scraper struct {
	client    *http.Client
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
}

func NewScraper(cfg Config) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	return &Scraper{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
	}
}

// PageURL returns the public page of an entity. Chapter sets have no page of
// their own and use the book page.
func (s *Scraper) PageURL(kind domain.Kind, asin string, region domain.Region) string {
	host := s.baseURL
	if host == "" {
		host = "https://www.audible." + region.TLD
	}
	switch kind {
	case domain.KindAuthor:
		return fmt.Sprintf("%s/author/%s", host, url.PathEscape(asin))
	default:
		return fmt.Sprintf("%s/pd/%s", host, url.PathEscape(asin))
	}
}

// FetchPage downloads the page. ok is false when the page does not exist.
func (s *Scraper) FetchPage(ctx context.Context, kind domain.Kind, asin string, region domain.Region) ([]byte, bool, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.PageURL(kind, asin, region), http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("fetch page %s: %w", asin, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, false, fmt.Errorf("read page %s: %w", asin, err)
	}
	return body, true, nil
}
