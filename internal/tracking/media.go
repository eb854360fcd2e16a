// Package tracking keeps a user's per-title watch status and the
// aggregated counters derived from it.
package tracking

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// MediaType describes one tracked collection. A single engine serves
// all of them; the descriptor carries everything that differs.
type MediaType struct {
	// Slug is the URL path segment.
	Slug string
	// Key is the collection name used in documents and responses.
	Key   string
	Label string
}

var (
	Movies  = MediaType{Slug: "movies", Key: "movies", Label: "movie"}
	TVShows = MediaType{Slug: "tvshows", Key: "tvShows", Label: "tv show"}
	Anime   = MediaType{Slug: "anime", Key: "anime", Label: "anime"}
)

var MediaTypes = []MediaType{Movies, TVShows, Anime}

func (m MediaType) Valid() bool {
	switch m {
	case Movies, TVShows, Anime:
		return true
	}
	return false
}

func (m MediaType) String() string { return m.Slug }

// ParseMediaType accepts either the slug or the collection key.
func ParseMediaType(raw string) (MediaType, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for _, m := range MediaTypes {
		if raw == m.Slug || raw == strings.ToLower(m.Key) {
			return m, nil
		}
	}
	return MediaType{}, invalidInput("unknown media type", "mediaType")
}

type WatchStatus string

const (
	Watched     WatchStatus = "watched"
	InProgress  WatchStatus = "inProgress"
	PlanToWatch WatchStatus = "planToWatch"
	NotPlanning WatchStatus = "notPlanning"

	DefaultStatus = PlanToWatch
)

func (s WatchStatus) Valid() bool {
	switch s {
	case Watched, InProgress, PlanToWatch, NotPlanning:
		return true
	}
	return false
}

// TitleID is a catalog identifier. Catalogs hand out numbers, clients
// send strings; both decode to the same normalized value.
type TitleID string

func NormalizeTitleID(raw string) TitleID {
	return TitleID(strings.TrimSpace(raw))
}

func (id TitleID) String() string { return string(id) }

func (id *TitleID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = NormalizeTitleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.New("title id must be a string or a number")
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return errors.New("title id must be a string or a number")
	}
	*id = NormalizeTitleID(n.String())
	return nil
}
