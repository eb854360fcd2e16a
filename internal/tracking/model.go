package tracking

import (
	"slices"
	"time"
)

const (
	MinRating = 0
	MaxRating = 10
)

type TrackedTitle struct {
	TitleID     TitleID     `json:"titleId" bson:"titleId"`
	Title       string      `json:"title" bson:"title"`
	PosterPath  string      `json:"posterPath,omitempty" bson:"posterPath,omitempty"`
	WatchStatus WatchStatus `json:"watchStatus" bson:"watchStatus"`
	Rating      float64     `json:"rating" bson:"rating"`
	CreatedAt   time.Time   `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt" bson:"updatedAt"`
}

type StatsCounters struct {
	Watched     int `json:"watched" bson:"watched"`
	InProgress  int `json:"inProgress" bson:"inProgress"`
	PlanToWatch int `json:"planToWatch" bson:"planToWatch"`
}

type Stats struct {
	Movies  StatsCounters `json:"movies" bson:"movies"`
	TVShows StatsCounters `json:"tvShows" bson:"tvShows"`
	Anime   StatsCounters `json:"anime" bson:"anime"`
}

func (s *Stats) For(m MediaType) StatsCounters {
	switch m {
	case TVShows:
		return s.TVShows
	case Anime:
		return s.Anime
	default:
		return s.Movies
	}
}

func (s *Stats) Set(m MediaType, c StatsCounters) {
	switch m {
	case TVShows:
		s.TVShows = c
	case Anime:
		s.Anime = c
	default:
		s.Movies = c
	}
}

// User is the single document holding an account, its tracked titles
// and the counters. Version guards concurrent read-modify-write cycles.
type User struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Email        string         `json:"email"`
	PasswordHash string         `json:"-"`
	Movies       []TrackedTitle `json:"movies"`
	TVShows      []TrackedTitle `json:"tvShows"`
	Anime        []TrackedTitle `json:"anime"`
	Stats        Stats          `json:"stats"`
	Version      int64          `json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (u *User) Titles(m MediaType) []TrackedTitle {
	switch m {
	case TVShows:
		return u.TVShows
	case Anime:
		return u.Anime
	default:
		return u.Movies
	}
}

func (u *User) SetTitles(m MediaType, titles []TrackedTitle) {
	switch m {
	case TVShows:
		u.TVShows = titles
	case Anime:
		u.Anime = titles
	default:
		u.Movies = titles
	}
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	c := *u
	c.Movies = slices.Clone(u.Movies)
	c.TVShows = slices.Clone(u.TVShows)
	c.Anime = slices.Clone(u.Anime)
	return &c
}

// Recount derives counters from a full scan of the titles.
// notPlanning entries are not counted.
func Recount(titles []TrackedTitle) StatsCounters {
	var c StatsCounters
	for i := range titles {
		switch titles[i].WatchStatus {
		case Watched:
			c.Watched++
		case InProgress:
			c.InProgress++
		case PlanToWatch:
			c.PlanToWatch++
		}
	}
	return c
}

func indexOf(titles []TrackedTitle, id TitleID) int {
	return slices.IndexFunc(titles, func(t TrackedTitle) bool {
		return NormalizeTitleID(string(t.TitleID)) == id
	})
}

// dropDuplicates removes every entry with the given id after the first.
func dropDuplicates(titles []TrackedTitle, id TitleID) []TrackedTitle {
	first := indexOf(titles, id)
	if first < 0 {
		return titles
	}
	head := titles[:first+1]
	tail := slices.DeleteFunc(slices.Clone(titles[first+1:]), func(t TrackedTitle) bool {
		return NormalizeTitleID(string(t.TitleID)) == id
	})
	return append(head, tail...)
}
