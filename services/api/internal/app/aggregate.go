package app

import (
	"context"
	"log/slog"
	"strings"

	"audimeta/internal/util"
	"audimeta/pkg/catalog"
	"audimeta/pkg/domain"
	"audimeta/pkg/metrics"
	"audimeta/pkg/scrape"
)

// CatalogAPI is the structured upstream source.
type CatalogAPI interface {
	Product(ctx context.Context, asin string, region domain.Region) (catalog.Product, error)
	Chapters(ctx context.Context, asin string, region domain.Region) (catalog.ChapterInfo, error)
	Author(ctx context.Context, asin string, region domain.Region) (catalog.Contributor, error)
}

// PageFetcher downloads public HTML pages. ok is false when the page does not exist.
type PageFetcher interface {
	FetchPage(ctx context.Context, kind domain.Kind, asin string, region domain.Region) ([]byte, bool, error)
}

// Aggregator builds one candidate record from the catalog API and, for
// genres only, the HTML page.
type Aggregator struct {
	api     CatalogAPI
	pages   PageFetcher
	metrics *metrics.Recorder
}

func NewAggregator(api CatalogAPI, pages PageFetcher, rec *metrics.Recorder) *Aggregator {
	return &Aggregator{api: api, pages: pages, metrics: rec}
}

// Book fetches and normalizes a book. A product without a title is treated
// as absent.
func (a *Aggregator) Book(ctx context.Context, asin string, region domain.Region) (domain.Book, error) {
	p, err := a.api.Product(ctx, asin, region)
	a.metrics.UpstreamFetch(ctx, string(domain.KindBook), region.Code, err == nil)
	if err != nil {
		return domain.Book{}, wrapf(err, "fetch book %s", asin)
	}
	if strings.TrimSpace(p.Title) == "" {
		return domain.Book{}, domain.NotFoundf("book %s not found in %s", asin, region.Code)
	}
	book := normalizeBook(p, asin, region)
	if len(book.Genres) == 0 {
		book.Genres = a.pageGenres(ctx, domain.KindBook, asin, region)
	}
	return book, nil
}

// Author fetches and normalizes an author. Genres only exist on the author page.
func (a *Aggregator) Author(ctx context.Context, asin string, region domain.Region) (domain.Author, error) {
	c, err := a.api.Author(ctx, asin, region)
	a.metrics.UpstreamFetch(ctx, string(domain.KindAuthor), region.Code, err == nil)
	if err != nil {
		return domain.Author{}, wrapf(err, "fetch author %s", asin)
	}
	author := normalizeAuthor(c, asin, region)
	if author.Name == "" {
		return domain.Author{}, domain.NotFoundf("author %s not found in %s", asin, region.Code)
	}
	author.Genres = a.pageGenres(ctx, domain.KindAuthor, asin, region)
	return author, nil
}

// Chapters fetches the chapter listing of a book. An empty listing is absent.
func (a *Aggregator) Chapters(ctx context.Context, asin string, region domain.Region) (domain.ChapterSet, error) {
	info, err := a.api.Chapters(ctx, asin, region)
	a.metrics.UpstreamFetch(ctx, string(domain.KindChapter), region.Code, err == nil)
	if err != nil {
		return domain.ChapterSet{}, wrapf(err, "fetch chapters %s", asin)
	}
	set := normalizeChapters(info, asin, region)
	if len(set.Chapters) == 0 {
		return domain.ChapterSet{}, domain.NotFoundf("chapters for %s not found in %s", asin, region.Code)
	}
	return set, nil
}

// pageGenres scrapes genres from the HTML page. Failures leave the candidate
// without genres; reconciliation then keeps whatever genres are stored.
func (a *Aggregator) pageGenres(ctx context.Context, kind domain.Kind, asin string, region domain.Region) []domain.Genre {
	if a.pages == nil {
		return nil
	}
	logger := util.LoggerFromContext(ctx).With("kind", kind, "asin", asin, "region", region.Code)
	page, ok, err := a.pages.FetchPage(ctx, kind, asin, region)
	if err != nil {
		logger.Warn("genre page fetch failed", slog.Any("err", err))
		return nil
	}
	if !ok {
		logger.Debug("genre page not found")
		return nil
	}
	genres, err := scrape.ParseGenres(page, kind)
	if err != nil {
		logger.Warn("genre page parse failed", slog.Any("err", err))
		return nil
	}
	return genres
}
