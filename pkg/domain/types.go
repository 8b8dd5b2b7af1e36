package domain

import "time"

// Kind names an entity type served by the API.
type Kind string

const (
	KindAuthor  Kind = "author"
	KindBook    Kind = "book"
	KindChapter Kind = "chapter"
)

// Kinds lists every entity type in refresh order.
func Kinds() []Kind {
	return []Kind{KindAuthor, KindBook, KindChapter}
}

const (
	GenreTypeGenre = "genre"
	GenreTypeTag   = "tag"
)

// Record is implemented by every persisted entity.
// T is the concrete record type so copies keep their type.
type Record[T any] interface {
	Identity() (asin, region string)
	Timestamps() (createdAt, updatedAt time.Time)
	WithTimestamps(createdAt, updatedAt time.Time) T
	// EnrichmentSize reports how many entries the record's enrichment
	// field holds (genres for authors and books, chapters for chapter sets).
	EnrichmentSize() int
}

type Genre struct {
	ASIN string `json:"asin"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type Person struct {
	ASIN string `json:"asin,omitempty"`
	Name string `json:"name"`
}

type Series struct {
	ASIN     string `json:"asin"`
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
}

type Author struct {
	ASIN        string    `json:"asin"`
	Region      string    `json:"region"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	Genres      []Genre   `json:"genres,omitempty"`
	Similar     []Person  `json:"similar,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

func (a Author) Identity() (string, string) { return a.ASIN, a.Region }

func (a Author) Timestamps() (time.Time, time.Time) { return a.CreatedAt, a.UpdatedAt }

func (a Author) WithTimestamps(createdAt, updatedAt time.Time) Author {
	a.CreatedAt, a.UpdatedAt = createdAt, updatedAt
	return a
}

func (a Author) EnrichmentSize() int { return len(a.Genres) }

type Book struct {
	ASIN             string    `json:"asin"`
	Region           string    `json:"region"`
	Title            string    `json:"title"`
	Subtitle         string    `json:"subtitle,omitempty"`
	Description      string    `json:"description,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	Authors          []Person  `json:"authors,omitempty"`
	Narrators        []Person  `json:"narrators,omitempty"`
	PublisherName    string    `json:"publisherName,omitempty"`
	Copyright        int       `json:"copyright,omitempty"`
	ISBN             string    `json:"isbn,omitempty"`
	Language         string    `json:"language,omitempty"`
	FormatType       string    `json:"formatType,omitempty"`
	LiteratureType   string    `json:"literatureType,omitempty"`
	ReleaseDate      string    `json:"releaseDate,omitempty"`
	RuntimeLengthMin int       `json:"runtimeLengthMin,omitempty"`
	Rating           string    `json:"rating,omitempty"`
	Image            string    `json:"image,omitempty"`
	IsAdult          bool      `json:"isAdult"`
	SeriesPrimary    *Series   `json:"seriesPrimary,omitempty"`
	SeriesSecondary  *Series   `json:"seriesSecondary,omitempty"`
	Genres           []Genre   `json:"genres,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
}

func (b Book) Identity() (string, string) { return b.ASIN, b.Region }

func (b Book) Timestamps() (time.Time, time.Time) { return b.CreatedAt, b.UpdatedAt }

func (b Book) WithTimestamps(createdAt, updatedAt time.Time) Book {
	b.CreatedAt, b.UpdatedAt = createdAt, updatedAt
	return b
}

func (b Book) EnrichmentSize() int { return len(b.Genres) }

// Chapter is a single entry of a book's table of contents.
type Chapter struct {
	Title          string `json:"title"`
	LengthMs       int    `json:"lengthMs"`
	StartOffsetMs  int    `json:"startOffsetMs"`
	StartOffsetSec int    `json:"startOffsetSec"`
}

// ChapterSet is the chapter listing of one book in one region.
type ChapterSet struct {
	ASIN                 string    `json:"asin"`
	Region               string    `json:"region"`
	BrandIntroDurationMs int       `json:"brandIntroDurationMs"`
	BrandOutroDurationMs int       `json:"brandOutroDurationMs"`
	IsAccurate           bool      `json:"isAccurate"`
	RuntimeLengthMs      int       `json:"runtimeLengthMs"`
	RuntimeLengthSec     int       `json:"runtimeLengthSec"`
	Chapters             []Chapter `json:"chapters,omitempty"`
	CreatedAt            time.Time `json:"createdAt,omitzero"`
	UpdatedAt            time.Time `json:"updatedAt,omitzero"`
}

func (c ChapterSet) Identity() (string, string) { return c.ASIN, c.Region }

func (c ChapterSet) Timestamps() (time.Time, time.Time) { return c.CreatedAt, c.UpdatedAt }

func (c ChapterSet) WithTimestamps(createdAt, updatedAt time.Time) ChapterSet {
	c.CreatedAt, c.UpdatedAt = createdAt, updatedAt
	return c
}

func (c ChapterSet) EnrichmentSize() int { return len(c.Chapters) }
