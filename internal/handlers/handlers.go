// Package handlers wires HTTP routing and API handlers.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/handsomefox/watchwise/internal/auth"
	"github.com/handsomefox/watchwise/internal/catalog"
	"github.com/handsomefox/watchwise/internal/metrics"
	"github.com/handsomefox/watchwise/internal/tracking"
)

// Users is the account side of a user store.
type Users interface {
	tracking.UserStore
	CreateUser(ctx context.Context, user *tracking.User) error
	FindUserByEmail(ctx context.Context, email string) (*tracking.User, error)
	DeleteUser(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

type Catalog interface {
	Search(ctx context.Context, m tracking.MediaType, query string, page int) (catalog.Page, error)
	Popular(ctx context.Context, m tracking.MediaType, page int) (catalog.Page, error)
	Details(ctx context.Context, m tracking.MediaType, id string) (catalog.Item, error)
	Recommendations(ctx context.Context, m tracking.MediaType, id string) ([]catalog.Item, error)
	Recommend(ctx context.Context, m tracking.MediaType, seeds []string, exclude map[string]struct{}, limit int) ([]catalog.Item, error)
	Discover(ctx context.Context, m tracking.MediaType, q catalog.DiscoverQuery, page int) (catalog.Page, error)
	Genres(ctx context.Context, m tracking.MediaType) ([]catalog.Genre, error)
}

type Handler struct {
	users   Users
	engine  *tracking.Engine
	tokens  auth.Tokens
	catalog Catalog
	metrics metrics.Provider
	now     func() time.Time
}

type Config struct {
	Users   Users
	Engine  *tracking.Engine
	Tokens  auth.Tokens
	Catalog Catalog
	Metrics metrics.Provider
}

func New(cfg *Config) (*Handler, error) {
	if cfg.Users == nil {
		return nil, errors.New("user store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if len(cfg.Tokens.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}

	engine := cfg.Engine
	if engine == nil {
		engine = tracking.NewEngine(cfg.Users)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New(false)
	}

	return &Handler{
		users:   cfg.Users,
		engine:  engine,
		tokens:  cfg.Tokens,
		catalog: cfg.Catalog,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.getHealthz)
	r.Get("/readyz", h.getReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodPost, "/auth/register", Adapt(h.postRegister))
		r.Method(http.MethodPost, "/auth/login", Adapt(h.postLogin))

		r.Route("/catalog/{mediaType}", func(r chi.Router) {
			r.Method(http.MethodGet, "/search", Adapt(h.getCatalogSearch))
			r.Method(http.MethodGet, "/popular", Adapt(h.getCatalogPopular))
			r.Method(http.MethodGet, "/discover", Adapt(h.getCatalogDiscover))
			r.Method(http.MethodGet, "/genres", Adapt(h.getCatalogGenres))
			r.Method(http.MethodGet, "/{id}", Adapt(h.getCatalogDetails))
			r.Method(http.MethodGet, "/{id}/recommendations", Adapt(h.getCatalogRecommendations))
		})

		r.Group(func(r chi.Router) {
			r.Use(h.MiddlewareRequireAuth)

			r.Route("/profile", func(r chi.Router) {
				r.Method(http.MethodGet, "/me", Adapt(h.getMe))
				r.Method(http.MethodPut, "/me", Adapt(h.putMe))
				r.Method(http.MethodDelete, "/me", Adapt(h.deleteMe))
				r.Method(http.MethodPut, "/me/password", Adapt(h.putPassword))

				r.Method(http.MethodGet, "/{mediaType}", Adapt(h.getTitles))
				r.Method(http.MethodGet, "/{mediaType}/{titleId}", Adapt(h.getTitle))
				r.Method(http.MethodPut, "/{mediaType}/{titleId}", Adapt(h.putTitle))
			})

			r.Method(http.MethodGet, "/recommendations/{mediaType}", Adapt(h.getRecommendations))
		})
	})
}

func (h *Handler) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.users.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
