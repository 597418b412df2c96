// Package voting implements the daily voting ledger and the cumulative
// track leaderboard on top of the key-value store.
package voting

import (
	"errors"
	"time"
)

const (
	// DailyVoteBudget is the number of votes (not points) one user may
	// cast per calendar day.
	DailyVoteBudget = 10

	// MaxLeaderboardSize caps the stored leaderboard.
	MaxLeaderboardSize = 50

	// sessionTTL is the rolling expiry of a daily voting session.
	sessionTTL = 7 * 24 * time.Hour

	// leaderboardTTL is the inactivity expiry of the leaderboard list,
	// renewed on every write.
	leaderboardTTL = 30 * 24 * time.Hour
)

// Rejection reasons returned to the caller. Machine-readable; the front
// end maps them to copy.
const (
	ReasonBudgetExhausted = "budget exhausted"
	ReasonDuplicateTrack  = "already voted this track today"
)

// ErrInvalidPoints is returned when a vote's point value is not one of
// the allowed weights.
var ErrInvalidPoints = errors.New("voting: points must be 1, 3 or 5")

// allowedPoints are the vote weights a user can assign.
var allowedPoints = map[int]bool{1: true, 3: true, 5: true}

// Vote is one recorded vote. Immutable once accepted.
type Vote struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	TrackID    string    `json:"trackId"`
	Points     int       `json:"points"`
	TrackName  string    `json:"trackName"`
	ArtistName string    `json:"artistName"`
	AlbumName  string    `json:"albumName"`
	CastAt     time.Time `json:"castAt"`
}

// Session is one user's voting record for one calendar day. Created
// lazily on the first vote of the day.
type Session struct {
	UserID     string    `json:"userId"`
	Day        string    `json:"day"` // YYYY-MM-DD
	Votes      []Vote    `json:"votes"`
	LastVoteAt time.Time `json:"lastVoteAt"`
}

// Remaining is how many votes the session still allows.
func (s *Session) Remaining() int {
	if r := DailyVoteBudget - len(s.Votes); r > 0 {
		return r
	}
	return 0
}

// hasTrack reports whether the session already holds a vote for trackID.
func (s *Session) hasTrack(trackID string) bool {
	for _, v := range s.Votes {
		if v.TrackID == trackID {
			return true
		}
	}
	return false
}

// Result is the outcome of a vote submission. Rejections are expected
// outcomes, not errors.
type Result struct {
	Accepted       bool   `json:"accepted"`
	Reason         string `json:"reason,omitempty"`
	VotesRemaining int    `json:"votesRemaining"`
}

// TrackResult is the cumulative tally for one track that has ever
// received a vote. Never deleted, only updated.
type TrackResult struct {
	TrackID     string    `json:"trackId"`
	TotalPoints int       `json:"totalPoints"`
	TotalVotes  int       `json:"totalVotes"`
	TrackName   string    `json:"trackName"`
	ArtistName  string    `json:"artistName"`
	AlbumName   string    `json:"albumName"`
	FirstVoteAt time.Time `json:"firstVoteAt"`

	// Rank is assigned by TopN from leaderboard position, 1-based.
	Rank int `json:"rank,omitempty"`
}

// Store keys.
const (
	sessionKeyPrefix = "session:"
	trackKeyPrefix   = "track:"
	leaderboardKey   = "leaderboard"
)

func sessionKey(userID, day string) string {
	return sessionKeyPrefix + userID + ":" + day
}

func trackKey(trackID string) string {
	return trackKeyPrefix + trackID
}
