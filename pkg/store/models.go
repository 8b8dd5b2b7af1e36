package store

import (
	"encoding/json"
	"time"

	"audimeta/pkg/domain"
	"gorm.io/datatypes"
)

// GORM models used for persistence. Lists and nested values live in jsonb columns.
type AuthorModel struct {
	ASIN        string `gorm:"primaryKey;size:10"`
	Region      string `gorm:"primaryKey;size:2"`
	Name        string `gorm:"not null;index"`
	Description string `gorm:"type:text"`
	Image       string
	Genres      datatypes.JSON `gorm:"type:jsonb"`
	Similar     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null;index"`
}

type BookModel struct {
	ASIN             string `gorm:"primaryKey;size:10"`
	Region           string `gorm:"primaryKey;size:2"`
	Title            string `gorm:"not null"`
	Subtitle         string
	Description      string `gorm:"type:text"`
	Summary          string `gorm:"type:text"`
	Authors          datatypes.JSON `gorm:"type:jsonb"`
	Narrators        datatypes.JSON `gorm:"type:jsonb"`
	PublisherName    string
	Copyright        int
	ISBN             string
	Language         string
	FormatType       string
	LiteratureType   string
	ReleaseDate      string
	RuntimeLengthMin int
	Rating           string
	Image            string
	IsAdult          bool
	SeriesPrimary    datatypes.JSON `gorm:"type:jsonb"`
	SeriesSecondary  datatypes.JSON `gorm:"type:jsonb"`
	Genres           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null"`
	UpdatedAt        time.Time      `gorm:"not null;index"`
}

type ChapterModel struct {
	ASIN                 string `gorm:"primaryKey;size:10"`
	Region               string `gorm:"primaryKey;size:2"`
	BrandIntroDurationMs int
	BrandOutroDurationMs int
	IsAccurate           bool
	RuntimeLengthMs      int
	RuntimeLengthSec     int
	Chapters             datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt            time.Time      `gorm:"not null"`
	UpdatedAt            time.Time      `gorm:"not null;index"`
}

func authorToModel(a domain.Author) (AuthorModel, error) {
	genres, err := encodeJSON(a.Genres)
	if err != nil {
		return AuthorModel{}, err
	}
	similar, err := encodeJSON(a.Similar)
	if err != nil {
		return AuthorModel{}, err
	}
	return AuthorModel{
		ASIN:        a.ASIN,
		Region:      a.Region,
		Name:        a.Name,
		Description: a.Description,
		Image:       a.Image,
		Genres:      genres,
		Similar:     similar,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}

func authorFromModel(m AuthorModel) (domain.Author, error) {
	a := domain.Author{
		ASIN:        m.ASIN,
		Region:      m.Region,
		Name:        m.Name,
		Description: m.Description,
		Image:       m.Image,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if err := decodeJSON(m.Genres, &a.Genres); err != nil {
		return domain.Author{}, err
	}
	if err := decodeJSON(m.Similar, &a.Similar); err != nil {
		return domain.Author{}, err
	}
	return a, nil
}

func bookToModel(b domain.Book) (BookModel, error) {
	m := BookModel{
		ASIN:             b.ASIN,
		Region:           b.Region,
		Title:            b.Title,
		Subtitle:         b.Subtitle,
		Description:      b.Description,
		Summary:          b.Summary,
		PublisherName:    b.PublisherName,
		Copyright:        b.Copyright,
		ISBN:             b.ISBN,
		Language:         b.Language,
		FormatType:       b.FormatType,
		LiteratureType:   b.LiteratureType,
		ReleaseDate:      b.ReleaseDate,
		RuntimeLengthMin: b.RuntimeLengthMin,
		Rating:           b.Rating,
		Image:            b.Image,
		IsAdult:          b.IsAdult,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	var err error
	if m.Authors, err = encodeJSON(b.Authors); err != nil {
		return BookModel{}, err
	}
	if m.Narrators, err = encodeJSON(b.Narrators); err != nil {
		return BookModel{}, err
	}
	if m.SeriesPrimary, err = encodeJSON(b.SeriesPrimary); err != nil {
		return BookModel{}, err
	}
	if m.SeriesSecondary, err = encodeJSON(b.SeriesSecondary); err != nil {
		return BookModel{}, err
	}
	if m.Genres, err = encodeJSON(b.Genres); err != nil {
		return BookModel{}, err
	}
	return m, nil
}

func bookFromModel(m BookModel) (domain.Book, error) {
	b := domain.Book{
		ASIN:             m.ASIN,
		Region:           m.Region,
		Title:            m.Title,
		Subtitle:         m.Subtitle,
		Description:      m.Description,
		Summary:          m.Summary,
		PublisherName:    m.PublisherName,
		Copyright:        m.Copyright,
		ISBN:             m.ISBN,
		Language:         m.Language,
		FormatType:       m.FormatType,
		LiteratureType:   m.LiteratureType,
		ReleaseDate:      m.ReleaseDate,
		RuntimeLengthMin: m.RuntimeLengthMin,
		Rating:           m.Rating,
		Image:            m.Image,
		IsAdult:          m.IsAdult,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	for _, field := range []struct {
		raw datatypes.JSON
		dst any
	}{
		{m.Authors, &b.Authors},
		{m.Narrators, &b.Narrators},
		{m.SeriesPrimary, &b.SeriesPrimary},
		{m.SeriesSecondary, &b.SeriesSecondary},
		{m.Genres, &b.Genres},
	} {
		if err := decodeJSON(field.raw, field.dst); err != nil {
			return domain.Book{}, err
		}
	}
	return b, nil
}

func chapterToModel(c domain.ChapterSet) (ChapterModel, error) {
	chapters, err := encodeJSON(c.Chapters)
	if err != nil {
		return ChapterModel{}, err
	}
	return ChapterModel{
		ASIN:                 c.ASIN,
		Region:               c.Region,
		BrandIntroDurationMs: c.BrandIntroDurationMs,
		BrandOutroDurationMs: c.BrandOutroDurationMs,
		IsAccurate:           c.IsAccurate,
		RuntimeLengthMs:      c.RuntimeLengthMs,
		RuntimeLengthSec:     c.RuntimeLengthSec,
		Chapters:             chapters,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}, nil
}

func chapterFromModel(m ChapterModel) (domain.ChapterSet, error) {
	c := domain.ChapterSet{
		ASIN:                 m.ASIN,
		Region:               m.Region,
		BrandIntroDurationMs: m.BrandIntroDurationMs,
		BrandOutroDurationMs: m.BrandOutroDurationMs,
		IsAccurate:           m.IsAccurate,
		RuntimeLengthMs:      m.RuntimeLengthMs,
		RuntimeLengthSec:     m.RuntimeLengthSec,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if err := decodeJSON(m.Chapters, &c.Chapters); err != nil {
		return domain.ChapterSet{}, err
	}
	return c, nil
}

// encodeJSON stores empty values as SQL NULL so "absent" round-trips as nil.
func encodeJSON(v any) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	switch string(raw) {
	case "null", "[]", "{}":
		return nil, nil
	}
	return datatypes.JSON(raw), nil
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
