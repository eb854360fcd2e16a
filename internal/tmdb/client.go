// Package tmdb wraps the TMDB API for movie and TV show lookups.
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.themoviedb.org/3"
	maxResponseBytes = 4 << 20
)

var ErrInvalidMediaType = errors.New("invalid media type")

type Client struct {
	apiKey    string
	readToken string
	baseURL   string
	http      *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

type SearchResult struct {
	ID          int64
	MediaType   string
	Title       string
	Year        string
	PosterPath  string
	Overview    string
	VoteAverage float64
	VoteCount   int
	GenreIDs    []int
}

type SearchPage struct {
	Results      []SearchResult
	Page         int
	TotalPages   int
	TotalResults int
}

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Detail struct {
	TMDBID      int64
	MediaType   string
	Title       string
	Year        string
	Genres      []string
	Overview    string
	PosterPath  string
	IMDbID      string
	VoteAverage float64
	VoteCount   int
}

type DiscoverFilters struct {
	YearFrom  *int
	YearTo    *int
	MinRating *float64
	// Genres is a TMDB with_genres expression: "," for AND, "|" for OR.
	Genres string
	Sort   string
}

type searchResponse struct {
	Page         int `json:"page"`
	TotalPages   int `json:"total_pages"`
	TotalResults int `json:"total_results"`
	Results      []struct {
		ID           int64   `json:"id"`
		MediaType    string  `json:"media_type"`
		Title        string  `json:"title"`
		Name         string  `json:"name"`
		ReleaseDate  string  `json:"release_date"`
		FirstAirDate string  `json:"first_air_date"`
		PosterPath   string  `json:"poster_path"`
		Overview     string  `json:"overview"`
		VoteAverage  float64 `json:"vote_average"`
		VoteCount    int     `json:"vote_count"`
		GenreIDs     []int   `json:"genre_ids"`
	} `json:"results"`
}

type detailResponse struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
	Overview     string  `json:"overview"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	Genres       []Genre `json:"genres"`
	ExternalIDs  struct {
		IMDbID string `json:"imdb_id"`
	} `json:"external_ids"`
}

func New(apiKey, readToken string, opts ...Option) *Client {
	if strings.TrimSpace(readToken) == "" && looksLikeJWT(apiKey) {
		readToken = apiKey
		apiKey = ""
	}
	c := &Client{
		apiKey:    apiKey,
		readToken: readToken,
		baseURL:   DefaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func validMediaType(mediaType string) bool {
	return mediaType == "movie" || mediaType == "tv"
}

func (c *Client) SearchPage(ctx context.Context, query, mediaType string, page int) (SearchPage, error) {
	if strings.TrimSpace(query) == "" {
		return SearchPage{}, nil
	}
	if !validMediaType(mediaType) {
		return SearchPage{}, ErrInvalidMediaType
	}
	values := url.Values{}
	values.Set("query", query)
	values.Set("include_adult", "false")
	values.Set("page", strconv.Itoa(max(page, 1)))
	return c.fetchSearch(ctx, "/search/"+mediaType, values, mediaType)
}

func (c *Client) PopularPage(ctx context.Context, mediaType string, page int) (SearchPage, error) {
	if !validMediaType(mediaType) {
		return SearchPage{}, ErrInvalidMediaType
	}
	values := url.Values{}
	values.Set("page", strconv.Itoa(max(page, 1)))
	return c.fetchSearch(ctx, "/"+mediaType+"/popular", values, mediaType)
}

func (c *Client) Recommendations(ctx context.Context, id int64, mediaType string) (SearchPage, error) {
	if !validMediaType(mediaType) {
		return SearchPage{}, ErrInvalidMediaType
	}
	values := url.Values{}
	values.Set("page", "1")
	return c.fetchSearch(ctx, fmt.Sprintf("/%s/%d/recommendations", mediaType, id), values, mediaType)
}

func (c *Client) DiscoverPage(ctx context.Context, mediaType string, filters DiscoverFilters, page int) (SearchPage, error) {
	if !validMediaType(mediaType) {
		return SearchPage{}, ErrInvalidMediaType
	}
	values := url.Values{}
	values.Set("include_adult", "false")
	sort := strings.TrimSpace(filters.Sort)
	if sort == "" {
		sort = "popularity.desc"
	}
	values.Set("sort_by", sort)
	if filters.MinRating != nil {
		values.Set("vote_average.gte", strconv.FormatFloat(*filters.MinRating, 'f', 1, 64))
	}
	if g := strings.TrimSpace(filters.Genres); g != "" {
		values.Set("with_genres", g)
	}
	dateFromKey := "primary_release_date.gte"
	dateToKey := "primary_release_date.lte"
	if mediaType == "tv" {
		dateFromKey = "first_air_date.gte"
		dateToKey = "first_air_date.lte"
	}
	if filters.YearFrom != nil {
		values.Set(dateFromKey, fmt.Sprintf("%04d-01-01", *filters.YearFrom))
	}
	if filters.YearTo != nil {
		values.Set(dateToKey, fmt.Sprintf("%04d-12-31", *filters.YearTo))
	}
	values.Set("page", strconv.Itoa(max(page, 1)))
	return c.fetchSearch(ctx, "/discover/"+mediaType, values, mediaType)
}

func (c *Client) FetchDetails(ctx context.Context, id int64, mediaType string) (*Detail, error) {
	if !validMediaType(mediaType) {
		return nil, ErrInvalidMediaType
	}
	values := url.Values{}
	values.Set("append_to_response", "external_ids")

	var payload detailResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/%d", mediaType, id), values, &payload); err != nil {
		return nil, fmt.Errorf("tmdb details: %w", err)
	}

	detail := &Detail{
		TMDBID:      payload.ID,
		MediaType:   mediaType,
		PosterPath:  payload.PosterPath,
		Overview:    payload.Overview,
		VoteAverage: payload.VoteAverage,
		VoteCount:   payload.VoteCount,
		IMDbID:      payload.ExternalIDs.IMDbID,
		Year:        yearFromDate(payload.ReleaseDate),
		Title:       payload.Title,
	}
	if mediaType == "tv" {
		detail.Title = payload.Name
		detail.Year = yearFromDate(payload.FirstAirDate)
	}
	for _, g := range payload.Genres {
		if strings.TrimSpace(g.Name) == "" {
			continue
		}
		detail.Genres = append(detail.Genres, g.Name)
	}
	return detail, nil
}

func (c *Client) FetchGenres(ctx context.Context, mediaType string) ([]Genre, error) {
	if !validMediaType(mediaType) {
		return nil, ErrInvalidMediaType
	}
	var payload struct {
		Genres []Genre `json:"genres"`
	}
	if err := c.getJSON(ctx, "/genre/"+mediaType+"/list", url.Values{}, &payload); err != nil {
		return nil, fmt.Errorf("tmdb genres: %w", err)
	}
	return payload.Genres, nil
}

func (c *Client) fetchSearch(ctx context.Context, path string, values url.Values, mediaType string) (SearchPage, error) {
	var payload searchResponse
	if err := c.getJSON(ctx, path, values, &payload); err != nil {
		return SearchPage{}, fmt.Errorf("tmdb search: %w", err)
	}

	page := SearchPage{
		Results:      make([]SearchResult, 0, len(payload.Results)),
		Page:         payload.Page,
		TotalPages:   payload.TotalPages,
		TotalResults: payload.TotalResults,
	}
	for _, item := range payload.Results {
		title, date := item.Title, item.ReleaseDate
		if mediaType == "tv" {
			title, date = item.Name, item.FirstAirDate
		}
		page.Results = append(page.Results, SearchResult{
			ID:          item.ID,
			MediaType:   mediaType,
			Title:       title,
			Year:        yearFromDate(date),
			PosterPath:  item.PosterPath,
			Overview:    item.Overview,
			VoteAverage: item.VoteAverage,
			VoteCount:   item.VoteCount,
			GenreIDs:    item.GenreIDs,
		})
	}
	return page, nil
}

// StatusError is a non-2xx TMDB response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string { return "status " + e.Status }

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (c *Client) getJSON(ctx context.Context, path string, values url.Values, dst any) error {
	if c.apiKey != "" {
		values.Set("api_key", c.apiKey)
	}
	u := c.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		u += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(dst)
}

func (c *Client) applyAuth(req *http.Request) {
	if strings.TrimSpace(c.readToken) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.readToken))
}

func looksLikeJWT(token string) bool {
	parts := strings.Split(strings.TrimSpace(token), ".")
	return len(parts) == 3 && len(token) > 80
}

func yearFromDate(date string) string {
	if len(date) < 4 {
		return ""
	}
	return date[:4]
}
