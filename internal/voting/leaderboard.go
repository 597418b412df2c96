package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ewoodford/go-spotify-fanvote/internal/store"
)

// Display carries the denormalized fields shown next to a track on the
// leaderboard.
type Display struct {
	TrackName  string
	ArtistName string
	AlbumName  string
}

// board is the stored capped leaderboard. Entry order encodes first-seen
// order for tie-breaking; sorting is stable.
type board struct {
	Entries []boardEntry `json:"entries"`
}

type boardEntry struct {
	TrackID     string `json:"trackId"`
	TotalPoints int    `json:"totalPoints"`
}

// Aggregator maintains per-track cumulative results and the capped
// global leaderboard.
type Aggregator struct {
	kv     *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates an Aggregator over the key-value store.
func NewAggregator(kv *store.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{kv: kv, logger: logger, now: time.Now}
}

// RecordPoints adds an accepted vote's points to the track's cumulative
// tally and folds the new total into the leaderboard.
//
// The TrackResult write is the source of truth and its failure is fatal
// to the caller. The leaderboard list is derived: its failure is logged
// only, since the next successful vote re-derives the entry.
func (a *Aggregator) RecordPoints(ctx context.Context, trackID string, pointsDelta int, display Display) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var totalPoints int
	err := store.ReadModifyWrite(a.kv, trackKey(trackID), 0,
		func(tr *TrackResult, found bool) (bool, error) {
			if !found {
				tr.TrackID = trackID
				tr.FirstVoteAt = a.now()
			}
			tr.TotalPoints += pointsDelta
			tr.TotalVotes++
			if tr.TrackName == "" {
				tr.TrackName = display.TrackName
			}
			if tr.ArtistName == "" {
				tr.ArtistName = display.ArtistName
			}
			if tr.AlbumName == "" {
				tr.AlbumName = display.AlbumName
			}
			totalPoints = tr.TotalPoints
			return true, nil
		})
	if err != nil {
		return fmt.Errorf("updating track result: %w", err)
	}

	if err := a.updateBoard(trackID, totalPoints); err != nil {
		a.logger.Warn("leaderboard update failed, will self-correct on next vote",
			"trackId", trackID, "error", err)
	}
	return nil
}

// updateBoard upserts the track's total into the stored list, re-sorts
// by points descending and truncates to the cap. The stable sort keeps
// first-seen tracks ahead on equal points.
func (a *Aggregator) updateBoard(trackID string, totalPoints int) error {
	return store.ReadModifyWrite(a.kv, leaderboardKey, leaderboardTTL,
		func(b *board, _ bool) (bool, error) {
			updated := false
			for i := range b.Entries {
				if b.Entries[i].TrackID == trackID {
					b.Entries[i].TotalPoints = totalPoints
					updated = true
					break
				}
			}
			if !updated {
				b.Entries = append(b.Entries, boardEntry{TrackID: trackID, TotalPoints: totalPoints})
			}

			sort.SliceStable(b.Entries, func(i, j int) bool {
				return b.Entries[i].TotalPoints > b.Entries[j].TotalPoints
			})
			if len(b.Entries) > MaxLeaderboardSize {
				b.Entries = b.Entries[:MaxLeaderboardSize]
			}
			return true, nil
		})
}

// TopN returns the leading n tracks with full display fields and a
// 1-based contiguous rank. An empty or expired leaderboard yields an
// empty slice.
func (a *Aggregator) TopN(ctx context.Context, n int) ([]TrackResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 || n > MaxLeaderboardSize {
		n = MaxLeaderboardSize
	}

	var b board
	err := a.kv.Get(leaderboardKey, &b)
	if errors.Is(err, store.ErrNotFound) {
		return []TrackResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}

	if len(b.Entries) > n {
		b.Entries = b.Entries[:n]
	}

	results := make([]TrackResult, 0, len(b.Entries))
	for i, entry := range b.Entries {
		var tr TrackResult
		err := a.kv.Get(trackKey(entry.TrackID), &tr)
		if errors.Is(err, store.ErrNotFound) {
			// A board entry without its track result should not happen;
			// synthesize the row from what the board knows.
			tr = TrackResult{TrackID: entry.TrackID, TotalPoints: entry.TotalPoints}
		} else if err != nil {
			return nil, fmt.Errorf("loading track result %s: %w", entry.TrackID, err)
		}
		tr.Rank = i + 1
		results = append(results, tr)
	}
	return results, nil
}

// TrackTotals returns the cumulative result for one track, or nil when
// the track has never received a vote.
func (a *Aggregator) TrackTotals(ctx context.Context, trackID string) (*TrackResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tr TrackResult
	err := a.kv.Get(trackKey(trackID), &tr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading track result %s: %w", trackID, err)
	}
	return &tr, nil
}
