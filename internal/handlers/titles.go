package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/handsomefox/watchwise/internal/catalog"
	"github.com/handsomefox/watchwise/internal/tracking"
)

const (
	defaultRecommendationLimit = 20
	maxRecommendationLimit     = 50
	maxSeeds                   = 5
)

type upsertRequest struct {
	WatchStatus tracking.WatchStatus `json:"watchStatus"`
	Rating      *float64             `json:"rating"`
	Title       string               `json:"title"`
	PosterPath  string               `json:"posterPath"`
}

type upsertResponse struct {
	Entry   *tracking.TrackedTitle `json:"entry"`
	Removed bool                   `json:"removed"`
	Stats   tracking.StatsCounters `json:"stats"`
}

type recommendationsResponse struct {
	Items []catalog.Item `json:"items"`
	Seeds []string       `json:"seeds"`
}

func mediaTypeParam(r *http.Request) (tracking.MediaType, error) {
	return tracking.ParseMediaType(chi.URLParam(r, "mediaType"))
}

func (h *Handler) getTitles(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	titles, counters, err := h.engine.List(r.Context(), userID(r), m)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		m.Key:   titles,
		"stats": counters,
	})
	return nil
}

func (h *Handler) getTitle(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	entry, err := h.engine.Get(r.Context(), userID(r), m, chi.URLParam(r, "titleId"))
	if err != nil {
		return err
	}
	if entry == nil {
		writeJSON(w, http.StatusOK, json.RawMessage("null"))
		return nil
	}
	writeJSON(w, http.StatusOK, entry)
	return nil
}

func (h *Handler) putTitle(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	var req upsertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	res, err := h.engine.Upsert(r.Context(), tracking.UpsertInput{
		UserID:     userID(r),
		MediaType:  m,
		TitleID:    chi.URLParam(r, "titleId"),
		Status:     req.WatchStatus,
		Rating:     req.Rating,
		Title:      req.Title,
		PosterPath: req.PosterPath,
	})
	if err != nil {
		h.metrics.IncUpserts(m.Slug, strings.ToLower(string(tracking.KindOf(err))))
		return err
	}
	h.metrics.IncUpserts(m.Slug, upsertOutcome(res))

	writeJSON(w, http.StatusOK, &upsertResponse{
		Entry:   res.Title,
		Removed: res.Removed,
		Stats:   res.Counters,
	})
	return nil
}

func upsertOutcome(res tracking.Result) string {
	switch {
	case res.Removed:
		return "removed"
	case res.Title == nil:
		return "unchanged"
	default:
		return "saved"
	}
}

// getRecommendations seeds the catalog with the user's best rated watched
// titles and hides everything already tracked.
func (h *Handler) getRecommendations(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	limit, err := queryInt(r, "limit", defaultRecommendationLimit, 1, maxRecommendationLimit)
	if err != nil {
		return err
	}

	ctx := r.Context()
	uid := userID(r)
	watched, err := h.engine.Watched(ctx, uid, m)
	if err != nil {
		return err
	}
	tracked, _, err := h.engine.List(ctx, uid, m)
	if err != nil {
		return err
	}

	seeds := make([]string, 0, maxSeeds)
	for _, t := range watched {
		if len(seeds) == maxSeeds {
			break
		}
		seeds = append(seeds, string(t.TitleID))
	}
	exclude := make(map[string]struct{}, len(tracked))
	for _, t := range tracked {
		exclude[string(t.TitleID)] = struct{}{}
	}

	items, err := h.catalog.Recommend(ctx, m, seeds, exclude, limit)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, &recommendationsResponse{Items: items, Seeds: seeds})
	return nil
}
