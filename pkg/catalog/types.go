package catalog

// Raw payloads of the upstream catalog API. Only the fields the aggregator
// maps are declared.

type productResponse struct {
	Product Product `json:"product"`
}

type Product struct {
	ASIN                 string           `json:"asin"`
	Title                string           `json:"title"`
	Subtitle             string           `json:"subtitle"`
	PublisherSummary     string           `json:"publisher_summary"`
	MerchandisingSummary string           `json:"merchandising_summary"`
	Authors              []Person         `json:"authors"`
	Narrators            []Person         `json:"narrators"`
	PublisherName        string           `json:"publisher_name"`
	Copyright            int              `json:"copyright"`
	ISBN                 string           `json:"isbn"`
	Language             string           `json:"language"`
	FormatType           string           `json:"format_type"`
	LiteratureType       string           `json:"literature_type"`
	ReleaseDate          string           `json:"release_date"`
	IssueDate            string           `json:"issue_date"`
	RuntimeLengthMin     int              `json:"runtime_length_min"`
	Rating               *Rating          `json:"rating"`
	ProductImages        Images           `json:"product_images"`
	IsAdultProduct       bool             `json:"is_adult_product"`
	Series               []SeriesRef      `json:"series"`
	CategoryLadders      []CategoryLadder `json:"category_ladders"`
}

// Images maps a pixel size such as "500" to an image URL.
type Images map[string]string

type Person struct {
	ASIN string `json:"asin"`
	Name string `json:"name"`
}

type Rating struct {
	OverallDistribution struct {
		DisplayAverageRating string `json:"display_average_rating"`
	} `json:"overall_distribution"`
}

type SeriesRef struct {
	ASIN     string `json:"asin"`
	Title    string `json:"title"`
	Sequence string `json:"sequence"`
}

// CategoryLadder is one path through the category tree, root first.
type CategoryLadder struct {
	Root   string     `json:"root"`
	Ladder []Category `json:"ladder"`
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type contentMetadataResponse struct {
	ContentMetadata struct {
		ChapterInfo *ChapterInfo `json:"chapter_info"`
	} `json:"content_metadata"`
}

type ChapterInfo struct {
	BrandIntroDurationMs int            `json:"brandIntroDurationMs"`
	BrandOutroDurationMs int            `json:"brandOutroDurationMs"`
	IsAccurate           bool           `json:"is_accurate"`
	RuntimeLengthMs      int            `json:"runtime_length_ms"`
	RuntimeLengthSec     int            `json:"runtime_length_sec"`
	Chapters             []ChapterEntry `json:"chapters"`
}

type ChapterEntry struct {
	Title          string         `json:"title"`
	LengthMs       int            `json:"length_ms"`
	StartOffsetMs  int            `json:"start_offset_ms"`
	StartOffsetSec int            `json:"start_offset_sec"`
	Chapters       []ChapterEntry `json:"chapters"`
}

// Flatten returns every chapter in playback order, parents before their children.
func (c ChapterInfo) Flatten() []ChapterEntry {
	var out []ChapterEntry
	var walk func([]ChapterEntry)
	walk = func(entries []ChapterEntry) {
		for _, e := range entries {
			nested := e.Chapters
			e.Chapters = nil
			out = append(out, e)
			walk(nested)
		}
	}
	walk(c.Chapters)
	return out
}

type contributorResponse struct {
	Contributor Contributor `json:"contributor"`
}

type Contributor struct {
	ASIN                string   `json:"asin"`
	Name                string   `json:"name"`
	Bio                 string   `json:"bio"`
	ProfileImageURL     string   `json:"profile_image_url"`
	SimilarContributors []Person `json:"similar_contributors"`
}
