package catalog

import (
	"context"
	"encoding/json"
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

const (
	productResponseGroups = "contributors,product_desc,product_extended_attrs,product_attrs,media,rating,series,category_ladders"
	productImageSizes     = "500,1024"
)

// RequestSigner adds authentication to requests that need it (chapter metadata).
type RequestSigner interface {
	Sign(req *http.Request) error
}

// Config configures a Client. Zero values get defaults.
type Config struct {
	HTTPClient *http.Client
	// BaseURL replaces the per-region host when set, e.g. for tests.
	BaseURL       string
	UserAgent     string
	RatePerSecond float64
	Burst         int
	MaxRetries    int
	RetryBackoff  time.Duration
	Timeout       time.Duration
	Signer        RequestSigner
}

// Client talks to the catalog API of every region.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	signer     RequestSigner
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "audimeta/1.0"
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		signer:     cfg.Signer,
	}
}

func (c *Client) host(region domain.Region) string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://api.audible." + region.TLD
}

// Product fetches the catalog entry of a book.
func (c *Client) Product(ctx context.Context, asin string, region domain.Region) (Product, error) {
	q := url.Values{}
	q.Set("response_groups", productResponseGroups)
	q.Set("image_sizes", productImageSizes)
	u := fmt.Sprintf("%s/1.0/catalog/products/%s?%s", c.host(region), url.PathEscape(asin), q.Encode())

	var res productResponse
	if err := c.get(ctx, u, false, &res); err != nil {
		return Product{}, c.classify(err, "product", asin, region)
	}
	return res.Product, nil
}

// Chapters fetches the chapter listing of a book. The request is signed.
func (c *Client) Chapters(ctx context.Context, asin string, region domain.Region) (ChapterInfo, error) {
	q := url.Values{}
	q.Set("response_groups", "chapter_info")
	q.Set("quality", "High")
	u := fmt.Sprintf("%s/1.0/content/%s/metadata?%s", c.host(region), url.PathEscape(asin), q.Encode())

	var res contentMetadataResponse
	if err := c.get(ctx, u, true, &res); err != nil {
		return ChapterInfo{}, c.classify(err, "chapters", asin, region)
	}
	if res.ContentMetadata.ChapterInfo == nil {
		return ChapterInfo{}, domain.NotFoundf("chapters for %s not found in %s", asin, region.Code)
	}
	return *res.ContentMetadata.ChapterInfo, nil
}

// Author fetches a contributor profile.
func (c *Client) Author(ctx context.Context, asin string, region domain.Region) (Contributor, error) {
	u := fmt.Sprintf("%s/1.0/catalog/contributors/%s", c.host(region), url.PathEscape(asin))

	var res contributorResponse
	if err := c.get(ctx, u, false, &res); err != nil {
		return Contributor{}, c.classify(err, "author", asin, region)
	}
	return res.Contributor, nil
}

// statusError is a non-2xx reply.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status code: %d", e.code) }

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) classify(err error, what, asin string, region domain.Region) error {
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusNotFound:
			return domain.NotFoundf("%s %s not found in %s", what, asin, region.Code)
		case http.StatusBadRequest:
			return domain.BadRequestf("%s %s rejected by upstream in %s", what, asin, region.Code)
		}
	}
	return err
}

func (c *Client) get(ctx context.Context, rawURL string, sign bool, target any) error {
	var lastErr error
	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			backoff := c.backoff * time.Duration(1<<uint(i-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.do(ctx, rawURL, sign, target)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && !retryable(se.code) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, rawURL string, sign bool, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if sign && c.signer != nil {
		if err := c.signer.Sign(req); err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &statusError{code: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
