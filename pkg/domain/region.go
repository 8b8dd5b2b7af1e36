package domain

import (
	"sort"
	"strings"
)

// Region is a marketplace with its host suffix and localized wording.
type Region struct {
	Code        string
	TLD         string
	Name        string
	ChapterWord string
}

var regions = map[string]Region{
	"au": {Code: "au", TLD: "com.au", Name: "Australia", ChapterWord: "Chapter"},
	"ca": {Code: "ca", TLD: "ca", Name: "Canada", ChapterWord: "Chapter"},
	"de": {Code: "de", TLD: "de", Name: "Germany", ChapterWord: "Kapitel"},
	"es": {Code: "es", TLD: "es", Name: "Spain", ChapterWord: "Capítulo"},
	"fr": {Code: "fr", TLD: "fr", Name: "France", ChapterWord: "Chapitre"},
	"in": {Code: "in", TLD: "in", Name: "India", ChapterWord: "Chapter"},
	"it": {Code: "it", TLD: "it", Name: "Italy", ChapterWord: "Capitolo"},
	"jp": {Code: "jp", TLD: "co.jp", Name: "Japan", ChapterWord: "チャプター"},
	"uk": {Code: "uk", TLD: "co.uk", Name: "United Kingdom", ChapterWord: "Chapter"},
	"us": {Code: "us", TLD: "com", Name: "United States", ChapterWord: "Chapter"},
}

// LookupRegion resolves a region code, case-insensitively.
func LookupRegion(code string) (Region, bool) {
	r, ok := regions[strings.ToLower(strings.TrimSpace(code))]
	return r, ok
}

// RegionCodes returns all supported region codes sorted alphabetically.
func RegionCodes() []string {
	codes := make([]string, 0, len(regions))
	for code := range regions {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
