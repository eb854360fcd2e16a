// Package jikan is a client for the Jikan v4 (MyAnimeList) API.
package jikan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.jikan.moe/v4"

const userAgent = "watchwise/1.0"

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// AnimeData is the shared data block returned by single and list endpoints.
type AnimeData struct {
	MalID        int     `json:"mal_id"`
	Title        string  `json:"title"`
	TitleEnglish string  `json:"title_english"`
	Synopsis     string  `json:"synopsis"`
	Type         string  `json:"type"`
	Episodes     int     `json:"episodes"`
	Score        float64 `json:"score"`
	Year         int     `json:"year"`
	Genres       []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Images struct {
		JPG struct {
			ImageURL      string `json:"image_url"`
			LargeImageURL string `json:"large_image_url"`
		} `json:"jpg"`
	} `json:"images"`
}

// PosterURL prefers the large image.
func (a *AnimeData) PosterURL() string {
	if a.Images.JPG.LargeImageURL != "" {
		return a.Images.JPG.LargeImageURL
	}
	return a.Images.JPG.ImageURL
}

type AnimeResponse struct {
	Data AnimeData `json:"data"`
}

type Pagination struct {
	LastVisiblePage int  `json:"last_visible_page"`
	HasNextPage     bool `json:"has_next_page"`
	CurrentPage     int  `json:"current_page"`
}

type AnimeListResponse struct {
	Data       []AnimeData `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

type Recommendation struct {
	Entry struct {
		MalID  int    `json:"mal_id"`
		Title  string `json:"title"`
		Images struct {
			JPG struct {
				ImageURL      string `json:"image_url"`
				LargeImageURL string `json:"large_image_url"`
			} `json:"jpg"`
		} `json:"images"`
	} `json:"entry"`
	Votes int `json:"votes"`
}

type RecommendationsResponse struct {
	Data []Recommendation `json:"data"`
}

func (c *Client) GetAnime(ctx context.Context, malID int) (*AnimeResponse, error) {
	if malID <= 0 {
		return nil, fmt.Errorf("malID required")
	}
	var out AnimeResponse
	if err := c.get(ctx, c.BaseURL+"/anime/"+strconv.Itoa(malID), 2<<20, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTopAnime returns a page of top anime by popularity.
func (c *Client) GetTopAnime(ctx context.Context, page int) (*AnimeListResponse, error) {
	u := fmt.Sprintf("%s/top/anime?page=%d", c.BaseURL, max(page, 1))
	return c.fetchList(ctx, u)
}

// Search queries Jikan for anime by title.
func (c *Client) Search(ctx context.Context, q string, page, limit int) (*AnimeListResponse, error) {
	values := url.Values{}
	values.Set("q", q)
	values.Set("page", strconv.Itoa(max(page, 1)))
	values.Set("limit", strconv.Itoa(limit))
	values.Set("sfw", "true")
	return c.fetchList(ctx, c.BaseURL+"/anime?"+values.Encode())
}

func (c *Client) GetRecommendations(ctx context.Context, malID int) (*RecommendationsResponse, error) {
	if malID <= 0 {
		return nil, fmt.Errorf("malID required")
	}
	var out RecommendationsResponse
	if err := c.get(ctx, c.BaseURL+"/anime/"+strconv.Itoa(malID)+"/recommendations", 4<<20, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) fetchList(ctx context.Context, rawURL string) (*AnimeListResponse, error) {
	var out AnimeListResponse
	if err := c.get(ctx, rawURL, 4<<20, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusError is a non-200 Jikan response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jikan: status %d body=%q", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (c *Client) get(ctx context.Context, rawURL string, limit int64, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b[:min(len(b), 200)])}
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("jikan: decode error: %w body=%q", err, string(b[:min(len(b), 200)]))
	}
	return nil
}
