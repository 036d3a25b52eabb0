// Package updater decides when subscribed media warrant a notification and
// runs the periodic loop that checks every subscription.
package updater

import (
	"math"
	"strings"
	"time"

	"github.com/user/filmbot/internal/storage"
	"github.com/user/filmbot/internal/tmdb"
)

// UpcomingWindowDays is how far ahead an unreleased movie is announced.
const UpcomingWindowDays = 7

const dateLayout = "2006-01-02"

// Kind identifies which notification template an outcome uses.
type Kind string

const (
	KindRelease         Kind = "release"
	KindUpcomingRelease Kind = "upcoming_release"
	KindNewEpisode      Kind = "new_episode"
	KindEpisodeAired    Kind = "episode_aired"
)

// Outcome is a decided notification for one subscription in one cycle.
type Outcome struct {
	Kind    Kind
	Date    string // YYYY-MM-DD as reported by TMDB
	Title   string
	Episode *tmdb.Episode // set for KindNewEpisode
}

// Snapshot is the slice of TMDB metadata the evaluator looks at.
type Snapshot struct {
	Title       string
	Status      string
	ReleaseDate string
	LastAirDate string
	NextEpisode *tmdb.Episode
}

// MovieSnapshot extracts the evaluated fields of a movie.
func MovieSnapshot(m *tmdb.MovieDetails) Snapshot {
	return Snapshot{
		Title:       m.Title,
		Status:      m.Status,
		ReleaseDate: m.ReleaseDate,
	}
}

// TVSnapshot extracts the evaluated fields of a show.
func TVSnapshot(s *tmdb.TVDetails) Snapshot {
	return Snapshot{
		Title:       s.Name,
		Status:      s.Status,
		LastAirDate: s.LastAirDate,
		NextEpisode: s.NextEpisodeToAir,
	}
}

// Evaluate decides whether sub should be notified given fresh metadata.
// It is pure: the same inputs always give the same answer. Rules are tried
// in order and the first match wins; nil means no notification.
//
// Day differences are counted between calendar dates in UTC, so a release
// dated today is 0 days away regardless of the time of day. Recent releases
// and aired episodes are reported for ceil(interval/24h) days, tying the
// window to the polling cadence.
func Evaluate(sub storage.Subscription, snap Snapshot, now time.Time, interval time.Duration) *Outcome {
	today := civilDate(now)
	recentWindow := int(math.Ceil(interval.Hours() / 24))

	title := snap.Title
	if title == "" {
		title = sub.Title
	}

	switch sub.MediaType {
	case storage.MediaMovie:
		return evaluateMovie(sub, snap, today, recentWindow, title)
	case storage.MediaTV:
		return evaluateSeries(sub, snap, today, recentWindow, title)
	}
	return nil
}

func evaluateMovie(sub storage.Subscription, snap Snapshot, today time.Time, recentWindow int, title string) *Outcome {
	if !sub.NotifyOnRelease {
		return nil
	}
	release, ok := parseDate(snap.ReleaseDate)
	if !ok {
		return nil
	}

	switch normalizeStatus(snap.Status) {
	case "released":
		if since := daysBetween(release, today); since >= 0 && since <= recentWindow {
			return &Outcome{Kind: KindRelease, Date: snap.ReleaseDate, Title: title}
		}
	case "in production", "post production":
		if until := daysBetween(today, release); until >= 0 && until <= UpcomingWindowDays {
			return &Outcome{Kind: KindUpcomingRelease, Date: snap.ReleaseDate, Title: title}
		}
	}
	return nil
}

func evaluateSeries(sub storage.Subscription, snap Snapshot, today time.Time, recentWindow int, title string) *Outcome {
	if !sub.NotifyOnUpdate {
		return nil
	}

	if ep := snap.NextEpisode; ep != nil {
		if airs, ok := parseDate(ep.AirDate); ok && daysBetween(today, airs) == 1 {
			episode := *ep
			return &Outcome{Kind: KindNewEpisode, Date: ep.AirDate, Title: title, Episode: &episode}
		}
	}

	if aired, ok := parseDate(snap.LastAirDate); ok {
		if since := daysBetween(aired, today); since >= 0 && since <= recentWindow {
			return &Outcome{Kind: KindEpisodeAired, Date: snap.LastAirDate, Title: title}
		}
	}
	return nil
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns whole days from a to b; both are UTC midnights.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
