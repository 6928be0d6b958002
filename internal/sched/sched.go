// Package sched converts the source app's scheduling model into Anki's.
// The source measures time in whole days since a fixed epoch
// (2020-01-01); Anki measures review due dates in days relative to the
// collection creation time, which for an export is "now". All
// conversions here are pure functions of their inputs.
package sched

import (
	"math"
	"sort"
	"time"

	"github.com/conorfennell/ankibridge/internal/domain"
)

// SourceEpoch returns the source app's day-zero in the local time zone.
func SourceEpoch() time.Time {
	return time.Date(2020, time.January, 1, 0, 0, 0, 0, time.Local)
}

// Midnight truncates t to local midnight.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Scheduling holds the translated Anki scheduling columns for one card.
type Scheduling struct {
	Type     int64 // 0 new, 2 review
	Queue    int64
	Due      int64
	Interval int64
	Factor   int64
}

// Translate derives Anki scheduling state for a card at export time.
//
// The source has no separate learning queues: a card is "new" until its
// first review and a plain "review" card afterwards. For review cards
// the due value becomes days from now (negative means overdue), and the
// interval is recomputed from the gap between the last review and the
// due date, falling back to the stored interval when the last-review
// day is absent.
func Translate(card domain.Card, now time.Time) Scheduling {
	s := Scheduling{Factor: int64(math.Floor(card.Factor * 1000))}
	if card.ReviewCount == 0 {
		// New cards: due is the position in the new queue.
		s.Due = card.Due
		return s
	}

	s.Type = 2
	s.Queue = 2

	epoch := SourceEpoch()
	today := Midnight(now)
	dueDate := epoch.AddDate(0, 0, int(card.Due))

	s.Due = roundDays(dueDate.Sub(today))
	if card.LastReview > 0 {
		lastReview := epoch.AddDate(0, 0, int(card.LastReview))
		s.Interval = roundDays(dueDate.Sub(lastReview))
	} else {
		s.Interval = int64(math.Floor(card.Interval))
	}
	return s
}

// roundDays converts a duration to whole days, rounding so that DST
// shifts of an hour either way do not move the result.
func roundDays(d time.Duration) int64 {
	return int64(math.Round(d.Hours() / 24))
}

// DedupeReviews sorts events by modification time ascending and keeps
// the first event for every (cardId, day, type) key. The source app
// counts distinct card-day-type combinations, so later duplicates carry
// no information. The sort is stable, making the surviving row
// deterministic for any input ordering.
func DedupeReviews(reviews []domain.ReviewEvent) []domain.ReviewEvent {
	sorted := make([]domain.ReviewEvent, len(reviews))
	copy(sorted, reviews)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Mod < sorted[j].Mod })

	type key struct {
		cardID int64
		day    int64
		typ    domain.ReviewType
	}
	seen := make(map[key]bool)
	unique := sorted[:0]
	for _, r := range sorted {
		k := key{r.CardID, r.Day, r.Type}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, r)
	}
	return unique
}

// RevlogRow is one translated row for Anki's revlog table.
type RevlogRow struct {
	ID           int64
	CardID       int64
	USN          int64
	Ease         int64
	Interval     int64
	LastInterval int64
	Factor       int64
	TimeMs       int64
	Type         int64
}

// easeCode maps a source review type onto Anki's 1-4 answer ease.
// The source has a three-state model, so "new" lands on 2 (hard),
// "fail" on 1 (again) and "pass" on 3 (good).
func easeCode(t domain.ReviewType) int64 {
	switch t {
	case domain.ReviewFail:
		return 1
	case domain.ReviewPass:
		return 3
	default:
		return 2
	}
}

// BuildRevlog deduplicates the given events and translates them to
// revlog rows. Row ids start from the event's modification timestamp
// and are incremented until unique, since Anki requires distinct
// primary keys. A per-card running interval fills the lastIvl column.
func BuildRevlog(reviews []domain.ReviewEvent) []RevlogRow {
	unique := DedupeReviews(reviews)

	prevInterval := make(map[int64]int64)
	usedIDs := make(map[int64]bool)
	rows := make([]RevlogRow, 0, len(unique))

	for _, r := range unique {
		id := r.Mod
		for usedIDs[id] {
			id++
		}
		usedIDs[id] = true

		interval := int64(math.Round(r.Interval))
		logType := int64(1)
		if r.Type == domain.ReviewNew {
			logType = 0
		}

		rows = append(rows, RevlogRow{
			ID:           id,
			CardID:       r.CardID,
			USN:          -1,
			Ease:         easeCode(r.Type),
			Interval:     interval,
			LastInterval: prevInterval[r.CardID],
			Factor:       int64(math.Floor(r.Factor * 1000)),
			TimeMs:       int64(math.Min(r.Duration, 60) * 1000),
			Type:         logType,
		})
		prevInterval[r.CardID] = interval
	}
	return rows
}
