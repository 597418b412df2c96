package voting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ewoodford/go-spotify-fanvote/internal/store"
)

// Ledger validates and records votes, then propagates accepted votes to
// the aggregator.
type Ledger struct {
	kv     *store.Store
	agg    *Aggregator
	logger *slog.Logger
	now    func() time.Time
	loc    *time.Location
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source, for tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithLocation sets the location whose calendar days bound the daily
// budget. Defaults to UTC.
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) {
		l.loc = loc
	}
}

// NewLedger creates a Ledger writing through to the given aggregator.
func NewLedger(kv *store.Store, agg *Aggregator, logger *slog.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		kv:     kv,
		agg:    agg,
		logger: logger,
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SubmitVote records one vote against today's budget.
//
// Budget and duplicate-track checks plus the session write run as a
// single-key read-modify-write; the store retries the transaction on
// conflict with a concurrent vote from the same user. A failure updating
// the leaderboard after the ledger write is logged and the vote stays
// accepted; the ledger entry is never rolled back or duplicated.
func (l *Ledger) SubmitVote(ctx context.Context, vote Vote) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vote.UserID == "" || vote.TrackID == "" {
		return nil, fmt.Errorf("voting: missing user or track id")
	}
	if !allowedPoints[vote.Points] {
		return nil, ErrInvalidPoints
	}

	now := l.now().In(l.loc)
	day := now.Format("2006-01-02")

	vote.ID = uuid.NewString()
	vote.CastAt = now

	var result Result
	err := store.ReadModifyWrite(l.kv, sessionKey(vote.UserID, day), sessionTTL,
		func(s *Session, found bool) (bool, error) {
			if !found {
				s.UserID = vote.UserID
				s.Day = day
			}

			if len(s.Votes) >= DailyVoteBudget {
				result = Result{Accepted: false, Reason: ReasonBudgetExhausted, VotesRemaining: 0}
				return false, nil
			}
			if s.hasTrack(vote.TrackID) {
				result = Result{Accepted: false, Reason: ReasonDuplicateTrack, VotesRemaining: s.Remaining()}
				return false, nil
			}

			s.Votes = append(s.Votes, vote)
			s.LastVoteAt = now
			result = Result{Accepted: true, VotesRemaining: s.Remaining()}
			return true, nil
		})
	if err != nil {
		return nil, fmt.Errorf("recording vote: %w", err)
	}

	if result.Accepted {
		display := Display{
			TrackName:  vote.TrackName,
			ArtistName: vote.ArtistName,
			AlbumName:  vote.AlbumName,
		}
		if err := l.agg.RecordPoints(ctx, vote.TrackID, vote.Points, display); err != nil {
			// The vote is already in the ledger; losing the aggregate
			// update is a degraded state that self-corrects, losing the
			// ledger entry would not be. Log loudly and keep the vote.
			l.logger.Error("vote recorded but leaderboard update failed",
				"userId", vote.UserID, "trackId", vote.TrackID, "error", err)
		}
	}

	return &result, nil
}

// TodaySession returns the user's session for the current calendar day.
// A user who has not voted today gets an empty session, not an error.
func (l *Ledger) TodaySession(ctx context.Context, userID string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	day := l.now().In(l.loc).Format("2006-01-02")
	session := &Session{UserID: userID, Day: day, Votes: []Vote{}}

	err := l.kv.Get(sessionKey(userID, day), session)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session.Votes == nil {
		session.Votes = []Vote{}
	}
	return session, nil
}
