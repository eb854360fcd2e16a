package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/handsomefox/watchwise/internal/catalog"
)

const maxCatalogPage = 500

func (h *Handler) getCatalogSearch(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	page, err := queryInt(r, "page", 1, 1, maxCatalogPage)
	if err != nil {
		return err
	}
	res, err := h.catalog.Search(r.Context(), m, r.URL.Query().Get("q"), page)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *Handler) getCatalogPopular(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	page, err := queryInt(r, "page", 1, 1, maxCatalogPage)
	if err != nil {
		return err
	}
	res, err := h.catalog.Popular(r.Context(), m, page)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *Handler) getCatalogDiscover(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	page, err := queryInt(r, "page", 1, 1, maxCatalogPage)
	if err != nil {
		return err
	}
	q, err := parseDiscoverQuery(r)
	if err != nil {
		return err
	}
	res, err := h.catalog.Discover(r.Context(), m, q, page)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (h *Handler) getCatalogGenres(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	genres, err := h.catalog.Genres(r.Context(), m)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"genres": genres})
	return nil
}

func parseDiscoverQuery(r *http.Request) (catalog.DiscoverQuery, error) {
	values := r.URL.Query()
	q := catalog.DiscoverQuery{
		Genres: strings.TrimSpace(values.Get("genres")),
		Sort:   strings.TrimSpace(values.Get("sort")),
	}
	for _, c := range q.Genres {
		if (c < '0' || c > '9') && c != ',' && c != '|' {
			return q, badRequest("genres must be genre ids joined by , or |")
		}
	}
	for key, dst := range map[string]**int{"yearFrom": &q.YearFrom, "yearTo": &q.YearTo} {
		if raw := strings.TrimSpace(values.Get(key)); raw != "" {
			year, err := strconv.Atoi(raw)
			if err != nil || year < 1874 || year > 2200 {
				return q, badRequest(key + " must be a year")
			}
			*dst = &year
		}
	}
	if raw := strings.TrimSpace(values.Get("minRating")); raw != "" {
		rating, err := strconv.ParseFloat(raw, 64)
		if err != nil || rating < 0 || rating > 10 {
			return q, badRequest("minRating must be between 0 and 10")
		}
		q.MinRating = &rating
	}
	return q, nil
}

func (h *Handler) getCatalogDetails(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	item, err := h.catalog.Details(r.Context(), m, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, item)
	return nil
}

func (h *Handler) getCatalogRecommendations(w http.ResponseWriter, r *http.Request) error {
	m, err := mediaTypeParam(r)
	if err != nil {
		return err
	}
	items, err := h.catalog.Recommendations(r.Context(), m, chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
	return nil
}
