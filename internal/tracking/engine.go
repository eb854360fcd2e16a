package tracking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

const defaultMaxAttempts = 3

// UserStore loads and saves whole user documents. SaveUser must fail
// with ErrVersionConflict when the stored version differs from
// user.Version, and bump the version on success.
type UserStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
	SaveUser(ctx context.Context, user *User) error
}

type Engine struct {
	users       UserStore
	now         func() time.Time
	maxAttempts int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxAttempts bounds how many times a write is retried after a
// version conflict.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func NewEngine(users UserStore, opts ...Option) *Engine {
	e := &Engine{
		users:       users,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type UpsertInput struct {
	UserID    string
	MediaType MediaType
	TitleID   string
	Status    WatchStatus
	// Rating is nil when the caller did not send one.
	Rating     *float64
	Title      string
	PosterPath string
}

type Result struct {
	// Title is nil when the entry was removed or never existed.
	Title    *TrackedTitle
	Removed  bool
	Counters StatsCounters
	Stats    Stats
}

func (in *UpsertInput) validate() error {
	var (
		msgs   []string
		fields []string
	)
	if !in.MediaType.Valid() {
		msgs = append(msgs, "unknown media type")
		fields = append(fields, "mediaType")
	}
	if in.TitleID == "" {
		msgs = append(msgs, "title id is required")
		fields = append(fields, "titleId")
	}
	if !in.Status.Valid() {
		msgs = append(msgs, "watchStatus must be one of watched, inProgress, planToWatch, notPlanning")
		fields = append(fields, "watchStatus")
	}
	if in.Rating != nil {
		r := *in.Rating
		if math.IsNaN(r) || math.IsInf(r, 0) || r < MinRating || r > MaxRating {
			msgs = append(msgs, fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
			fields = append(fields, "rating")
		}
	}
	if in.Status != NotPlanning && in.Title == "" {
		msgs = append(msgs, "title is required")
		fields = append(fields, "title")
	}
	if len(fields) > 0 {
		return invalidInput(strings.Join(msgs, "; "), fields...)
	}
	return nil
}

// Upsert records a watch status for one title and recomputes the
// counters of its media type. notPlanning removes the entry.
func (e *Engine) Upsert(ctx context.Context, in UpsertInput) (Result, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return Result{}, &Error{Kind: KindUnauthorized, Message: "missing user"}
	}
	in.TitleID = string(NormalizeTitleID(in.TitleID))
	in.Title = strings.TrimSpace(in.Title)
	in.PosterPath = strings.TrimSpace(in.PosterPath)
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	var lastErr error
	for range e.maxAttempts {
		if err := ctx.Err(); err != nil {
			return Result{}, storageError("request cancelled", err)
		}
		res, err := e.upsertOnce(ctx, &in)
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return Result{}, &Error{
		Kind:    KindConflict,
		Message: "title was updated concurrently, try again",
		Err:     lastErr,
	}
}

func (e *Engine) upsertOnce(ctx context.Context, in *UpsertInput) (Result, error) {
	user, err := e.load(ctx, in.UserID)
	if err != nil {
		return Result{}, err
	}

	id := TitleID(in.TitleID)
	titles := dropDuplicates(user.Titles(in.MediaType), id)
	idx := indexOf(titles, id)
	now := e.now().UTC()

	var (
		entry   *TrackedTitle
		removed bool
	)
	switch {
	case in.Status == NotPlanning:
		if idx >= 0 {
			titles = slices.Delete(titles, idx, idx+1)
			removed = true
		}
	case idx >= 0:
		t := &titles[idx]
		t.WatchStatus = in.Status
		if in.Rating != nil {
			t.Rating = *in.Rating
		}
		if in.Title != "" {
			t.Title = in.Title
		}
		if in.PosterPath != "" {
			t.PosterPath = in.PosterPath
		}
		t.UpdatedAt = now
		entry = t
	default:
		t := TrackedTitle{
			TitleID:     id,
			Title:       in.Title,
			PosterPath:  in.PosterPath,
			WatchStatus: in.Status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if in.Rating != nil {
			t.Rating = *in.Rating
		}
		titles = append(titles, t)
		entry = &titles[len(titles)-1]
	}

	counters := Recount(titles)
	unchanged := in.Status == NotPlanning && !removed &&
		len(titles) == len(user.Titles(in.MediaType)) &&
		counters == user.Stats.For(in.MediaType)

	user.SetTitles(in.MediaType, titles)
	user.Stats.Set(in.MediaType, counters)

	res := Result{Removed: removed, Counters: counters, Stats: user.Stats}
	if entry != nil {
		cp := *entry
		res.Title = &cp
	}
	if unchanged {
		return res, nil
	}

	user.UpdatedAt = now
	if err := e.users.SaveUser(ctx, user); err != nil {
		switch {
		case errors.Is(err, ErrVersionConflict):
			return Result{}, err
		case errors.Is(err, ErrUserNotFound):
			return Result{}, &Error{Kind: KindNotFound, Message: "user not found"}
		default:
			return Result{}, storageError("save user", err)
		}
	}
	return res, nil
}

// Get returns the entry for one title, or nil when it is not tracked.
func (e *Engine) Get(ctx context.Context, userID string, m MediaType, titleID string) (*TrackedTitle, error) {
	if !m.Valid() {
		return nil, invalidInput("unknown media type", "mediaType")
	}
	id := NormalizeTitleID(titleID)
	if id == "" {
		return nil, invalidInput("title id is required", "titleId")
	}
	user, err := e.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	titles := user.Titles(m)
	idx := indexOf(titles, id)
	if idx < 0 {
		return nil, nil
	}
	t := titles[idx]
	return &t, nil
}

// List returns every tracked title of a media type with the stored counters.
func (e *Engine) List(ctx context.Context, userID string, m MediaType) ([]TrackedTitle, StatsCounters, error) {
	if !m.Valid() {
		return nil, StatsCounters{}, invalidInput("unknown media type", "mediaType")
	}
	user, err := e.load(ctx, userID)
	if err != nil {
		return nil, StatsCounters{}, err
	}
	titles := slices.Clone(user.Titles(m))
	if titles == nil {
		titles = []TrackedTitle{}
	}
	return titles, user.Stats.For(m), nil
}

func (e *Engine) Stats(ctx context.Context, userID string) (Stats, error) {
	user, err := e.load(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	return user.Stats, nil
}

// Watched returns the watched titles, best rated first and most
// recently updated among equal ratings.
func (e *Engine) Watched(ctx context.Context, userID string, m MediaType) ([]TrackedTitle, error) {
	titles, _, err := e.List(ctx, userID, m)
	if err != nil {
		return nil, err
	}
	titles = slices.DeleteFunc(titles, func(t TrackedTitle) bool { return t.WatchStatus != Watched })
	slices.SortStableFunc(titles, func(a, b TrackedTitle) int {
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return titles, nil
}

func (e *Engine) load(ctx context.Context, userID string) (*User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &Error{Kind: KindUnauthorized, Message: "missing user"}
	}
	user, err := e.users.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, &Error{Kind: KindNotFound, Message: "user not found"}
		}
		return nil, storageError("load user", err)
	}
	return user, nil
}
