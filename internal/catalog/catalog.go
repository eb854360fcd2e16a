// Package catalog looks up titles in the external catalogs: TMDB for
// movies and TV shows, Jikan for anime.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/handsomefox/watchwise/internal/jikan"
	"github.com/handsomefox/watchwise/internal/logger"
	"github.com/handsomefox/watchwise/internal/tmdb"
	"github.com/handsomefox/watchwise/internal/tracking"
)

const (
	maxSeeds       = 5
	seedFanOut     = 3
	animePageLimit = 20
)

var (
	ErrUpstream      = errors.New("catalog unavailable")
	ErrInvalidID     = errors.New("invalid catalog id")
	ErrNotConfigured = errors.New("catalog not configured")
	ErrUnsupported   = errors.New("not supported for this media type")
	ErrNotFound      = errors.New("title not found")
)

type TMDB interface {
	SearchPage(ctx context.Context, query, mediaType string, page int) (tmdb.SearchPage, error)
	PopularPage(ctx context.Context, mediaType string, page int) (tmdb.SearchPage, error)
	Recommendations(ctx context.Context, id int64, mediaType string) (tmdb.SearchPage, error)
	FetchDetails(ctx context.Context, id int64, mediaType string) (*tmdb.Detail, error)
	DiscoverPage(ctx context.Context, mediaType string, filters tmdb.DiscoverFilters, page int) (tmdb.SearchPage, error)
	FetchGenres(ctx context.Context, mediaType string) ([]tmdb.Genre, error)
}

type Jikan interface {
	GetAnime(ctx context.Context, malID int) (*jikan.AnimeResponse, error)
	GetTopAnime(ctx context.Context, page int) (*jikan.AnimeListResponse, error)
	Search(ctx context.Context, q string, page, limit int) (*jikan.AnimeListResponse, error)
	GetRecommendations(ctx context.Context, malID int) (*jikan.RecommendationsResponse, error)
}

type Metrics interface {
	IncCacheHits()
	IncCacheMisses()
}

type Item struct {
	ID         string   `json:"id"`
	MediaType  string   `json:"mediaType"`
	Title      string   `json:"title"`
	Year       string   `json:"year,omitempty"`
	PosterPath string   `json:"posterPath,omitempty"`
	Overview   string   `json:"overview,omitempty"`
	Score      float64  `json:"score"`
	Genres     []string `json:"genres,omitempty"`
}

type Page struct {
	Items      []Item `json:"items"`
	Page       int    `json:"page"`
	TotalPages int    `json:"totalPages"`
}

type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DiscoverQuery filters a TMDB discover listing. Genres uses TMDB's
// with_genres syntax: "," for AND, "|" for OR.
type DiscoverQuery struct {
	Genres    string
	Sort      string
	YearFrom  *int
	YearTo    *int
	MinRating *float64
}

type Config struct {
	TMDB    TMDB
	Jikan   Jikan
	Cache   Cache
	Metrics Metrics
	// ImageBase prefixes TMDB poster paths.
	ImageBase string
}

type Service struct {
	tmdb      TMDB
	jikan     Jikan
	cache     Cache
	metrics   Metrics
	imageBase string
}

type noopMetrics struct{}

func (noopMetrics) IncCacheHits()   {}
func (noopMetrics) IncCacheMisses() {}

func New(cfg Config) *Service {
	s := &Service{
		tmdb:      cfg.TMDB,
		jikan:     cfg.Jikan,
		cache:     cfg.Cache,
		metrics:   cfg.Metrics,
		imageBase: strings.TrimRight(cfg.ImageBase, "/"),
	}
	if s.cache == nil {
		s.cache = noopCache{}
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s
}

func tmdbType(m tracking.MediaType) string {
	if m == tracking.TVShows {
		return "tv"
	}
	return "movie"
}

func (s *Service) Search(ctx context.Context, m tracking.MediaType, query string, page int) (Page, error) {
	query = strings.TrimSpace(query)
	page = max(page, 1)
	if query == "" {
		return Page{Items: []Item{}, Page: page}, nil
	}
	key := fmt.Sprintf("search:%s:%d:%s", m.Slug, page, strings.ToLower(query))
	return cached(ctx, s, key, func(ctx context.Context) (Page, error) {
		if m == tracking.Anime {
			if s.jikan == nil {
				return Page{}, ErrNotConfigured
			}
			resp, err := s.jikan.Search(ctx, query, page, animePageLimit)
			if err != nil {
				return Page{}, upstream(err)
			}
			return s.animePage(resp, page), nil
		}
		if s.tmdb == nil {
			return Page{}, ErrNotConfigured
		}
		resp, err := s.tmdb.SearchPage(ctx, query, tmdbType(m), page)
		if err != nil {
			return Page{}, upstream(err)
		}
		return s.tmdbPage(m, resp), nil
	})
}

func (s *Service) Popular(ctx context.Context, m tracking.MediaType, page int) (Page, error) {
	page = max(page, 1)
	key := fmt.Sprintf("popular:%s:%d", m.Slug, page)
	return cached(ctx, s, key, func(ctx context.Context) (Page, error) {
		if m == tracking.Anime {
			if s.jikan == nil {
				return Page{}, ErrNotConfigured
			}
			resp, err := s.jikan.GetTopAnime(ctx, page)
			if err != nil {
				return Page{}, upstream(err)
			}
			return s.animePage(resp, page), nil
		}
		if s.tmdb == nil {
			return Page{}, ErrNotConfigured
		}
		resp, err := s.tmdb.PopularPage(ctx, tmdbType(m), page)
		if err != nil {
			return Page{}, upstream(err)
		}
		return s.tmdbPage(m, resp), nil
	})
}

// Discover lists movies or TV shows matching q. Anime is not supported.
func (s *Service) Discover(ctx context.Context, m tracking.MediaType, q DiscoverQuery, page int) (Page, error) {
	if m == tracking.Anime {
		return Page{}, ErrUnsupported
	}
	page = max(page, 1)
	key := fmt.Sprintf("discover:%s:%d:%s:%s:%s:%s:%s", m.Slug, page, q.Genres, q.Sort,
		intKey(q.YearFrom), intKey(q.YearTo), floatKey(q.MinRating))
	return cached(ctx, s, key, func(ctx context.Context) (Page, error) {
		if s.tmdb == nil {
			return Page{}, ErrNotConfigured
		}
		resp, err := s.tmdb.DiscoverPage(ctx, tmdbType(m), tmdb.DiscoverFilters{
			YearFrom:  q.YearFrom,
			YearTo:    q.YearTo,
			MinRating: q.MinRating,
			Genres:    q.Genres,
			Sort:      q.Sort,
		}, page)
		if err != nil {
			return Page{}, upstream(err)
		}
		return s.tmdbPage(m, resp), nil
	})
}

func (s *Service) Genres(ctx context.Context, m tracking.MediaType) ([]Genre, error) {
	if m == tracking.Anime {
		return nil, ErrUnsupported
	}
	return cached(ctx, s, "genres:"+m.Slug, func(ctx context.Context) ([]Genre, error) {
		if s.tmdb == nil {
			return nil, ErrNotConfigured
		}
		genres, err := s.tmdb.FetchGenres(ctx, tmdbType(m))
		if err != nil {
			return nil, upstream(err)
		}
		out := make([]Genre, 0, len(genres))
		for _, g := range genres {
			out = append(out, Genre{ID: g.ID, Name: g.Name})
		}
		return out, nil
	})
}

func (s *Service) Details(ctx context.Context, m tracking.MediaType, id string) (Item, error) {
	n, err := parseID(id)
	if err != nil {
		return Item{}, err
	}
	key := fmt.Sprintf("details:%s:%d", m.Slug, n)
	return cached(ctx, s, key, func(ctx context.Context) (Item, error) {
		if m == tracking.Anime {
			if s.jikan == nil {
				return Item{}, ErrNotConfigured
			}
			resp, err := s.jikan.GetAnime(ctx, int(n))
			if err != nil {
				return Item{}, upstream(err)
			}
			return animeItem(&resp.Data), nil
		}
		if s.tmdb == nil {
			return Item{}, ErrNotConfigured
		}
		d, err := s.tmdb.FetchDetails(ctx, n, tmdbType(m))
		if err != nil {
			return Item{}, upstream(err)
		}
		return Item{
			ID:         strconv.FormatInt(d.TMDBID, 10),
			MediaType:  m.Slug,
			Title:      d.Title,
			Year:       d.Year,
			PosterPath: s.posterURL(d.PosterPath),
			Overview:   d.Overview,
			Score:      d.VoteAverage,
			Genres:     d.Genres,
		}, nil
	})
}

func (s *Service) Recommendations(ctx context.Context, m tracking.MediaType, id string) ([]Item, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("recommendations:%s:%d", m.Slug, n)
	return cached(ctx, s, key, func(ctx context.Context) ([]Item, error) {
		if m == tracking.Anime {
			if s.jikan == nil {
				return nil, ErrNotConfigured
			}
			resp, err := s.jikan.GetRecommendations(ctx, int(n))
			if err != nil {
				return nil, upstream(err)
			}
			out := make([]Item, 0, len(resp.Data))
			for _, r := range resp.Data {
				poster := r.Entry.Images.JPG.LargeImageURL
				if poster == "" {
					poster = r.Entry.Images.JPG.ImageURL
				}
				out = append(out, Item{
					ID:         strconv.Itoa(r.Entry.MalID),
					MediaType:  tracking.Anime.Slug,
					Title:      r.Entry.Title,
					PosterPath: poster,
				})
			}
			return out, nil
		}
		if s.tmdb == nil {
			return nil, ErrNotConfigured
		}
		resp, err := s.tmdb.Recommendations(ctx, n, tmdbType(m))
		if err != nil {
			return nil, upstream(err)
		}
		return s.tmdbPage(m, resp).Items, nil
	})
}

// Recommend merges recommendations for up to five seed titles. Titles
// in exclude and repeats are dropped; order follows the seeds. A seed
// whose lookup fails is skipped unless every seed fails.
func (s *Service) Recommend(ctx context.Context, m tracking.MediaType, seeds []string, exclude map[string]struct{}, limit int) ([]Item, error) {
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}
	if len(seeds) == 0 || limit <= 0 {
		return []Item{}, nil
	}

	results := make([][]Item, len(seeds))
	errs := make([]error, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedFanOut)
	for i, seed := range seeds {
		g.Go(func() error {
			items, err := s.Recommendations(gctx, m, seed)
			if err != nil {
				slog.Warn("recommendations for seed failed",
					slog.String("media_type", m.Slug), slog.String("seed", seed), logger.Error(err))
				errs[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(seeds) {
		return nil, errors.Join(errs...)
	}

	seen := make(map[string]struct{}, len(exclude))
	for id := range exclude {
		seen[id] = struct{}{}
	}
	out := make([]Item, 0, limit)
	for _, items := range results {
		for _, item := range items {
			if _, ok := seen[item.ID]; ok {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, item)
			if len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Service) tmdbPage(m tracking.MediaType, resp tmdb.SearchPage) Page {
	items := make([]Item, 0, len(resp.Results))
	for _, r := range resp.Results {
		items = append(items, Item{
			ID:         strconv.FormatInt(r.ID, 10),
			MediaType:  m.Slug,
			Title:      r.Title,
			Year:       r.Year,
			PosterPath: s.posterURL(r.PosterPath),
			Overview:   r.Overview,
			Score:      r.VoteAverage,
		})
	}
	return Page{Items: items, Page: max(resp.Page, 1), TotalPages: resp.TotalPages}
}

func (s *Service) animePage(resp *jikan.AnimeListResponse, page int) Page {
	items := make([]Item, 0, len(resp.Data))
	for i := range resp.Data {
		items = append(items, animeItem(&resp.Data[i]))
	}
	return Page{Items: items, Page: page, TotalPages: resp.Pagination.LastVisiblePage}
}

func animeItem(a *jikan.AnimeData) Item {
	item := Item{
		ID:         strconv.Itoa(a.MalID),
		MediaType:  tracking.Anime.Slug,
		Title:      a.Title,
		PosterPath: a.PosterURL(),
		Overview:   a.Synopsis,
		Score:      a.Score,
	}
	if a.TitleEnglish != "" {
		item.Title = a.TitleEnglish
	}
	if a.Year > 0 {
		item.Year = strconv.Itoa(a.Year)
	}
	for _, g := range a.Genres {
		item.Genres = append(item.Genres, g.Name)
	}
	return item
}

func (s *Service) posterURL(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || s.imageBase == "" {
		return path
	}
	return s.imageBase + "/" + strings.TrimLeft(path, "/")
}

func parseID(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidID
	}
	return n, nil
}

func intKey(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatKey(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

// upstream classifies a provider error. A 404 from the provider means the
// title does not exist; anything else is an outage.
func upstream(err error) error {
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) && se.HTTPStatus() == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

func cached[T any](ctx context.Context, s *Service, key string, fetch func(context.Context) (T, error)) (T, error) {
	if b, ok := s.cache.Get(key); ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			s.metrics.IncCacheHits()
			return v, nil
		}
	}
	s.metrics.IncCacheMisses()

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	if b, err := json.Marshal(v); err == nil {
		s.cache.Set(key, b)
	}
	return v, nil
}
