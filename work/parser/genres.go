package parser

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"kptv-catchup/work/types"
)

type genresDocument struct {
	XMLName xml.Name     `xml:"genres"`
	Genres  []genreEntry `xml:"genre"`
}

type genreEntry struct {
	Type    string `xml:"type,attr"`
	SubType string `xml:"subtype,attr"`
	Name    string `xml:",chardata"`
}

// ParseGenres reads a <genres><genre type="N" subtype="M">text</genre></genres>
// mapping. Entries without a natural number type are ignored; an invalid
// subtype falls back to zero.
func ParseGenres(r io.Reader) ([]types.EpgGenre, error) {
	var doc genresDocument
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unable to parse genres: %w", err)
	}

	genres := make([]types.EpgGenre, 0, len(doc.Genres))
	for _, g := range doc.Genres {
		genreType, ok := naturalNumber(g.Type)
		if !ok {
			continue
		}
		subType, ok := naturalNumber(g.SubType)
		if !ok {
			subType = 0
		}
		genres = append(genres, types.EpgGenre{
			Type:    genreType,
			SubType: subType,
			Name:    strings.TrimSpace(g.Name),
		})
	}

	return genres, nil
}

// LookupGenre returns the first genre whose name equals s ignoring case.
func LookupGenre(genres []types.EpgGenre, s string) (types.EpgGenre, bool) {
	for _, g := range genres {
		if strings.EqualFold(g.Name, s) {
			return g, true
		}
	}
	return types.EpgGenre{}, false
}

func naturalNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
