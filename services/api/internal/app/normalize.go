package app

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"audimeta/pkg/catalog"
	"audimeta/pkg/domain"
	"audimeta/pkg/scrape"
)

var (
	imageSizeSuffix = regexp.MustCompile(`\._[A-Z]{2}\d+_`)
	dateLayouts     = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006"}
)

func normalizeBook(p catalog.Product, asin string, region domain.Region) domain.Book {
	b := domain.Book{
		ASIN:             asin,
		Region:           region.Code,
		Title:            strings.TrimSpace(p.Title),
		Subtitle:         strings.TrimSpace(p.Subtitle),
		Description:      scrape.TextContent(p.MerchandisingSummary),
		Summary:          strings.TrimSpace(p.PublisherSummary),
		Authors:          normalizePeople(p.Authors, true),
		Narrators:        normalizePeople(p.Narrators, false),
		PublisherName:    strings.TrimSpace(p.PublisherName),
		Copyright:        p.Copyright,
		ISBN:             strings.TrimSpace(p.ISBN),
		Language:         strings.ToLower(strings.TrimSpace(p.Language)),
		FormatType:       strings.TrimSpace(p.FormatType),
		LiteratureType:   strings.TrimSpace(p.LiteratureType),
		RuntimeLengthMin: p.RuntimeLengthMin,
		Image:            largestImage(p.ProductImages),
		IsAdult:          p.IsAdultProduct,
		Genres:           genresFromLadders(p.CategoryLadders),
	}
	if b.Description == "" {
		b.Description = scrape.TextContent(p.PublisherSummary)
	}
	b.ReleaseDate = normalizeDate(p.ReleaseDate)
	if b.ReleaseDate == "" {
		b.ReleaseDate = normalizeDate(p.IssueDate)
	}
	if p.Rating != nil {
		b.Rating = strings.TrimSpace(p.Rating.OverallDistribution.DisplayAverageRating)
	}
	series := normalizeSeries(p.Series)
	if len(series) > 0 {
		b.SeriesPrimary = &series[0]
	}
	if len(series) > 1 {
		b.SeriesSecondary = &series[1]
	}
	return b
}

func normalizeAuthor(c catalog.Contributor, asin string, region domain.Region) domain.Author {
	a := domain.Author{
		ASIN:        asin,
		Region:      region.Code,
		Name:        strings.Join(strings.Fields(c.Name), " "),
		Description: scrape.TextContent(c.Bio),
		Image:       normalizeImage(c.ProfileImageURL),
	}
	for _, p := range normalizePeople(c.SimilarContributors, true) {
		if p.ASIN != "" && p.ASIN != asin {
			a.Similar = append(a.Similar, p)
		}
	}
	return a
}

func normalizeChapters(info catalog.ChapterInfo, asin string, region domain.Region) domain.ChapterSet {
	set := domain.ChapterSet{
		ASIN:                 asin,
		Region:               region.Code,
		BrandIntroDurationMs: info.BrandIntroDurationMs,
		BrandOutroDurationMs: info.BrandOutroDurationMs,
		IsAccurate:           info.IsAccurate,
		RuntimeLengthMs:      info.RuntimeLengthMs,
		RuntimeLengthSec:     info.RuntimeLengthSec,
	}
	if set.RuntimeLengthSec == 0 {
		set.RuntimeLengthSec = info.RuntimeLengthMs / 1000
	}
	for _, e := range info.Flatten() {
		sec := e.StartOffsetSec
		if sec == 0 {
			sec = e.StartOffsetMs / 1000
		}
		set.Chapters = append(set.Chapters, domain.Chapter{
			Title:          cleanChapterTitle(e.Title, region.ChapterWord),
			LengthMs:       e.LengthMs,
			StartOffsetMs:  e.StartOffsetMs,
			StartOffsetSec: sec,
		})
	}
	return set
}

// cleanChapterTitle trims whitespace and trailing dots and prefixes bare
// numbers with the localized word for chapter.
func cleanChapterTitle(title, word string) string {
	title = strings.TrimRight(strings.TrimSpace(title), ".")
	title = strings.TrimSpace(title)
	if _, err := strconv.Atoi(title); err == nil && word != "" {
		return word + " " + title
	}
	return title
}

// normalizePeople trims names, drops blanks and duplicates. ASINs are kept
// only when withASIN is set.
func normalizePeople(in []catalog.Person, withASIN bool) []domain.Person {
	var out []domain.Person
	seen := make(map[string]bool)
	for _, p := range in {
		name := strings.Join(strings.Fields(p.Name), " ")
		if name == "" {
			continue
		}
		person := domain.Person{Name: name}
		if withASIN {
			person.ASIN = strings.TrimSpace(p.ASIN)
		}
		key := person.ASIN + "|" + strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, person)
	}
	return out
}

func normalizeSeries(in []catalog.SeriesRef) []domain.Series {
	var out []domain.Series
	for _, s := range in {
		name := strings.TrimSpace(s.Title)
		if name == "" {
			continue
		}
		out = append(out, domain.Series{
			ASIN:     strings.TrimSpace(s.ASIN),
			Name:     name,
			Position: strings.TrimSpace(s.Sequence),
		})
	}
	return out
}

// genresFromLadders turns category ladders into genres (first rung) and tags
// (deeper rungs), keeping the first occurrence of each id.
func genresFromLadders(ladders []catalog.CategoryLadder) []domain.Genre {
	var out []domain.Genre
	seen := make(map[string]bool)
	for _, l := range ladders {
		for i, c := range l.Ladder {
			id := strings.TrimSpace(c.ID)
			name := strings.TrimSpace(c.Name)
			if id == "" || name == "" || seen[id] {
				continue
			}
			seen[id] = true
			typ := domain.GenreTypeTag
			if i == 0 {
				typ = domain.GenreTypeGenre
			}
			out = append(out, domain.Genre{ASIN: id, Name: name, Type: typ})
		}
	}
	return out
}

// largestImage picks the biggest rendition offered and strips its size suffix.
func largestImage(images catalog.Images) string {
	if len(images) == 0 {
		return ""
	}
	sizes := make([]string, 0, len(images))
	for size := range images {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool {
		a, _ := strconv.Atoi(sizes[i])
		b, _ := strconv.Atoi(sizes[j])
		return a > b
	})
	return normalizeImage(images[sizes[0]])
}

func normalizeImage(url string) string {
	return imageSizeSuffix.ReplaceAllString(strings.TrimSpace(url), "")
}

func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}
