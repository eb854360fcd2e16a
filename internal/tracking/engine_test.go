package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]*User
	saves     int
	saveErr   error
	conflicts int
}

func newFakeStore(users ...*User) *fakeStore {
	s := &fakeStore{users: map[string]*User{}}
	for _, u := range users {
		s.users[u.ID] = u.Clone()
	}
	return s
}

func (s *fakeStore) FindUser(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *fakeStore) SaveUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.conflicts > 0 {
		s.conflicts--
		return ErrVersionConflict
	}
	cur, ok := s.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if cur.Version != user.Version {
		return ErrVersionConflict
	}
	user.Version++
	s.users[user.ID] = user.Clone()
	s.saves++
	return nil
}

func (s *fakeStore) stored(id string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Clone()
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, users ...*User) (*Engine, *fakeStore) {
	t.Helper()
	st := newFakeStore(users...)
	now := fixedNow
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return NewEngine(st, WithClock(clock)), st
}

func rating(v float64) *float64 { return &v }

func assertCountersMatch(t *testing.T, u *User) {
	t.Helper()
	for _, m := range MediaTypes {
		assert.Equal(t, Recount(u.Titles(m)), u.Stats.For(m), "counters for %s", m)
	}
}

func TestUpsert_CreatesEntryAndCounts(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})

	res, err := e.Upsert(context.Background(), UpsertInput{
		UserID: "u1", MediaType: Movies, TitleID: "27205",
		Status: Watched, Rating: rating(9), Title: "Inception",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Title)
	assert.Equal(t, TitleID("27205"), res.Title.TitleID)
	assert.Equal(t, Watched, res.Title.WatchStatus)
	assert.InDelta(t, 9.0, res.Title.Rating, 0)
	assert.Equal(t, StatsCounters{Watched: 1}, res.Counters)
	assert.False(t, res.Removed)

	u := st.stored("u1")
	require.Len(t, u.Movies, 1)
	assert.Equal(t, res.Title.CreatedAt, u.Movies[0].CreatedAt)
	assertCountersMatch(t, u)
}

func TestUpsert_InceptionScenario(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	ctx := context.Background()

	_, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "27205", Status: Watched, Rating: rating(9), Title: "Inception"})
	require.NoError(t, err)
	created := st.stored("u1").Movies[0].CreatedAt

	res, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "27205", Status: InProgress, Title: "Inception"})
	require.NoError(t, err)
	assert.Equal(t, InProgress, res.Title.WatchStatus)
	assert.InDelta(t, 9.0, res.Title.Rating, 0, "omitted rating keeps the previous one")
	assert.Equal(t, created, res.Title.CreatedAt)
	assert.True(t, res.Title.UpdatedAt.After(created))
	assert.Equal(t, StatsCounters{InProgress: 1}, res.Counters)

	res, err = e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "27205", Status: NotPlanning})
	require.NoError(t, err)
	assert.Nil(t, res.Title)
	assert.True(t, res.Removed)
	assert.Equal(t, StatsCounters{}, res.Counters)

	u := st.stored("u1")
	assert.Empty(t, u.Movies)
	assertCountersMatch(t, u)
}

func TestUpsert_RatingDefaultsToZeroThenWatched(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	ctx := context.Background()

	res, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "27205", Status: InProgress, Title: "Inception"})
	require.NoError(t, err)
	require.NotNil(t, res.Title)
	assert.Zero(t, res.Title.Rating)
	assert.Equal(t, StatsCounters{InProgress: 1}, res.Counters)

	res, err = e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "27205", Status: Watched, Rating: rating(8), Title: "Inception"})
	require.NoError(t, err)
	assert.InDelta(t, 8.0, res.Title.Rating, 0)
	assert.Equal(t, StatsCounters{Watched: 1}, res.Counters)

	res, err = e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "27205", Status: NotPlanning})
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, StatsCounters{}, res.Counters)

	u := st.stored("u1")
	assert.Empty(t, u.Movies)
	assertCountersMatch(t, u)
}

func TestUpsert_Idempotent(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	ctx := context.Background()
	in := UpsertInput{UserID: "u1", MediaType: Anime, TitleID: "5114", Status: PlanToWatch, Rating: rating(7.5), Title: "FMA: Brotherhood"}

	first, err := e.Upsert(ctx, in)
	require.NoError(t, err)
	second, err := e.Upsert(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Counters, second.Counters)
	assert.Equal(t, first.Title.WatchStatus, second.Title.WatchStatus)
	assert.InDelta(t, first.Title.Rating, second.Title.Rating, 0)
	assert.Equal(t, first.Title.CreatedAt, second.Title.CreatedAt)
	assert.True(t, second.Title.UpdatedAt.After(first.Title.UpdatedAt))
	assert.Len(t, st.stored("u1").Anime, 1)
}

func TestUpsert_ExplicitZeroRatingOverrides(t *testing.T) {
	e, _ := newTestEngine(t, &User{ID: "u1"})
	ctx := context.Background()

	_, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: TVShows, TitleID: "1399", Status: Watched, Rating: rating(8), Title: "GoT"})
	require.NoError(t, err)
	res, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: TVShows, TitleID: "1399", Status: Watched, Rating: rating(0), Title: "GoT"})
	require.NoError(t, err)
	assert.Zero(t, res.Title.Rating)
}

func TestUpsert_NotPlanningOnUntrackedCreatesNothing(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})

	res, err := e.Upsert(context.Background(), UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "550", Status: NotPlanning})
	require.NoError(t, err)
	assert.Nil(t, res.Title)
	assert.False(t, res.Removed)
	assert.Empty(t, st.stored("u1").Movies)
	assert.Zero(t, st.saves)
}

func TestUpsert_NormalizesTitleID(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	ctx := context.Background()

	_, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "550", Status: PlanToWatch, Title: "Fight Club"})
	require.NoError(t, err)
	_, err = e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Movies, TitleID: " 550 ", Status: Watched, Title: "Fight Club"})
	require.NoError(t, err)

	u := st.stored("u1")
	require.Len(t, u.Movies, 1)
	assert.Equal(t, Watched, u.Movies[0].WatchStatus)
}

func TestUpsert_CollapsesDuplicateEntries(t *testing.T) {
	dup := TrackedTitle{TitleID: "550", Title: "Fight Club", WatchStatus: Watched}
	e, st := newTestEngine(t, &User{
		ID:     "u1",
		Movies: []TrackedTitle{dup, {TitleID: "13", Title: "Forrest Gump", WatchStatus: PlanToWatch}, dup},
		Stats:  Stats{Movies: StatsCounters{Watched: 2, PlanToWatch: 1}},
	})

	_, err := e.Upsert(context.Background(), UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "550", Status: InProgress, Title: "Fight Club"})
	require.NoError(t, err)

	u := st.stored("u1")
	assert.Len(t, u.Movies, 2)
	assert.Equal(t, StatsCounters{InProgress: 1, PlanToWatch: 1}, u.Stats.Movies)
}

func TestUpsert_MediaTypesAreIndependent(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	ctx := context.Background()

	for _, m := range MediaTypes {
		_, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: m, TitleID: "1", Status: Watched, Title: "One"})
		require.NoError(t, err)
	}
	_, err := e.Upsert(ctx, UpsertInput{UserID: "u1", MediaType: Anime, TitleID: "1", Status: NotPlanning})
	require.NoError(t, err)

	u := st.stored("u1")
	assert.Len(t, u.Movies, 1)
	assert.Len(t, u.TVShows, 1)
	assert.Empty(t, u.Anime)
	assertCountersMatch(t, u)
}

func TestUpsert_Validation(t *testing.T) {
	tests := []struct {
		name   string
		in     UpsertInput
		fields []string
	}{
		{
			name:   "unknown status",
			in:     UpsertInput{MediaType: Movies, TitleID: "1", Status: "dropped", Title: "X"},
			fields: []string{"watchStatus"},
		},
		{
			name:   "rating above range",
			in:     UpsertInput{MediaType: Movies, TitleID: "1", Status: Watched, Rating: rating(11), Title: "X"},
			fields: []string{"rating"},
		},
		{
			name:   "negative rating",
			in:     UpsertInput{MediaType: Movies, TitleID: "1", Status: Watched, Rating: rating(-1), Title: "X"},
			fields: []string{"rating"},
		},
		{
			name:   "nan rating",
			in:     UpsertInput{MediaType: Movies, TitleID: "1", Status: Watched, Rating: rating(math.NaN()), Title: "X"},
			fields: []string{"rating"},
		},
		{
			name:   "missing id and title",
			in:     UpsertInput{MediaType: Movies, TitleID: "  ", Status: Watched},
			fields: []string{"titleId", "title"},
		},
		{
			name:   "unknown media type",
			in:     UpsertInput{MediaType: MediaType{Slug: "books"}, TitleID: "1", Status: Watched, Title: "X"},
			fields: []string{"mediaType"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, st := newTestEngine(t, &User{ID: "u1"})
			tt.in.UserID = "u1"

			_, err := e.Upsert(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrInvalidInput)

			var tErr *Error
			require.ErrorAs(t, err, &tErr)
			assert.Equal(t, tt.fields, tErr.Fields)
			assert.Zero(t, st.saves)
		})
	}
}

func TestUpsert_BoundaryRatingsAccepted(t *testing.T) {
	e, _ := newTestEngine(t, &User{ID: "u1"})
	for _, r := range []float64{0, 10, 7.5} {
		_, err := e.Upsert(context.Background(), UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "1", Status: Watched, Rating: rating(r), Title: "X"})
		assert.NoError(t, err, "rating %v", r)
	}
}

func TestUpsert_UnknownUser(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Upsert(context.Background(), UpsertInput{UserID: "ghost", MediaType: Movies, TitleID: "1", Status: Watched, Title: "X"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsert_MissingUserIsUnauthorized(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Upsert(context.Background(), UpsertInput{MediaType: Movies, TitleID: "1", Status: Watched, Title: "X"})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpsert_StorageFailureLeavesStateUntouched(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	cause := errors.New("disk full")
	st.saveErr = cause

	_, err := e.Upsert(context.Background(), UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "1", Status: Watched, Title: "X"})
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, cause)
	assert.Empty(t, st.stored("u1").Movies)
}

func TestUpsert_RetriesVersionConflict(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	st.conflicts = 2

	res, err := e.Upsert(context.Background(), UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "1", Status: Watched, Title: "X"})
	require.NoError(t, err)
	assert.Equal(t, StatsCounters{Watched: 1}, res.Counters)
	assert.Len(t, st.stored("u1").Movies, 1)
}

func TestUpsert_ConflictAfterMaxAttempts(t *testing.T) {
	e, st := newTestEngine(t, &User{ID: "u1"})
	st.conflicts = defaultMaxAttempts

	_, err := e.Upsert(context.Background(), UpsertInput{UserID: "u1", MediaType: Movies, TitleID: "1", Status: Watched, Title: "X"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, st.stored("u1").Movies)
}

func TestUpsert_ConcurrentWritesKeepCounters(t *testing.T) {
	st := newFakeStore(&User{ID: "u1"})
	e := NewEngine(st, WithMaxAttempts(1000))

	var wg sync.WaitGroup
	statuses := []WatchStatus{Watched, InProgress, PlanToWatch}
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Upsert(context.Background(), UpsertInput{
				UserID: "u1", MediaType: Movies, TitleID: string(rune('a' + i)),
				Status: statuses[i%len(statuses)], Title: "T",
			})
		}()
	}
	wg.Wait()

	u := st.stored("u1")
	assert.Len(t, u.Movies, 12)
	assertCountersMatch(t, u)
}

func TestGet(t *testing.T) {
	e, _ := newTestEngine(t, &User{ID: "u1", Movies: []TrackedTitle{{TitleID: "550", Title: "Fight Club", WatchStatus: Watched}}})
	ctx := context.Background()

	got, err := e.Get(ctx, "u1", Movies, "550")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Fight Club", got.Title)

	got, err = e.Get(ctx, "u1", Movies, "551")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = e.Get(ctx, "ghost", Movies, "550")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListAndWatched(t *testing.T) {
	older := fixedNow.Add(-time.Hour)
	e, _ := newTestEngine(t, &User{
		ID: "u1",
		Anime: []TrackedTitle{
			{TitleID: "1", Title: "A", WatchStatus: Watched, Rating: 7, UpdatedAt: older},
			{TitleID: "2", Title: "B", WatchStatus: PlanToWatch},
			{TitleID: "3", Title: "C", WatchStatus: Watched, Rating: 9, UpdatedAt: older},
			{TitleID: "4", Title: "D", WatchStatus: Watched, Rating: 7, UpdatedAt: fixedNow},
		},
		Stats: Stats{Anime: StatsCounters{Watched: 3, PlanToWatch: 1}},
	})
	ctx := context.Background()

	titles, counters, err := e.List(ctx, "u1", Anime)
	require.NoError(t, err)
	assert.Len(t, titles, 4)
	assert.Equal(t, StatsCounters{Watched: 3, PlanToWatch: 1}, counters)

	empty, _, err := e.List(ctx, "u1", Movies)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	watched, err := e.Watched(ctx, "u1", Anime)
	require.NoError(t, err)
	ids := make([]TitleID, 0, len(watched))
	for _, w := range watched {
		ids = append(ids, w.TitleID)
	}
	assert.Equal(t, []TitleID{"3", "4", "1"}, ids)
}

func TestParseMediaType(t *testing.T) {
	for raw, want := range map[string]MediaType{"movies": Movies, "tvshows": TVShows, "tvShows": TVShows, " Anime ": Anime} {
		got, err := ParseMediaType(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseMediaType("books")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestTitleID_UnmarshalJSON(t *testing.T) {
	var v struct {
		ID TitleID `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"id": 27205}`), &v))
	assert.Equal(t, TitleID("27205"), v.ID)
	require.NoError(t, json.Unmarshal([]byte(`{"id": " 27205 "}`), &v))
	assert.Equal(t, TitleID("27205"), v.ID)
	require.Error(t, json.Unmarshal([]byte(`{"id": true}`), &v))
}
