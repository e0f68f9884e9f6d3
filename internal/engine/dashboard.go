package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"stakeline/internal/domain"
	"stakeline/internal/repo"
	"stakeline/internal/schedule"
)

// Dashboard composes the user's read-only home view: profile, stats,
// active commitments decorated with progress, and the pending-actions
// block. "Today" is computed once so every commitment in the response
// agrees on the reference date.
func (e Engine) Dashboard(ctx context.Context, userID string) (domain.Dashboard, error) {
	var d domain.Dashboard

	user, err := e.Repo.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return d, err
	}
	if err == nil {
		d.Profile.Username = user.Username
		d.Profile.DisplayName = user.DisplayName
	}

	stats, err := e.Repo.GetUserStats(ctx, userID)
	if err != nil {
		return d, err
	}
	d.Stats = domain.DashboardStats{
		CurrentStreak:   stats.CurrentStreak,
		LongestStreak:   stats.LongestStreak,
		CommitmentsWon:  stats.CommitmentsWon,
		CommitmentsLost: stats.CommitmentsLost,
	}

	active, err := e.Repo.ListActiveCommitmentsForOwner(ctx, userID)
	if err != nil {
		return d, err
	}
	ids := make([]string, len(active))
	for i, c := range active {
		ids[i] = c.ID
	}
	dates, err := e.Repo.ListCheckInDates(ctx, ids)
	if err != nil {
		return d, err
	}

	now := e.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	d.ActiveCommitments = make([]domain.DashboardCommitment, 0, len(active))
	dueToday := 0
	for _, c := range active {
		due := schedule.IsDueToday(c.CheckInFrequency, c.StartDate, c.EndDate, today, dates[c.ID])
		if due {
			dueToday++
		}
		completed := c.SuccessfulCheckIns + c.FailedCheckIns
		d.ActiveCommitments = append(d.ActiveCommitments, domain.DashboardCommitment{
			Commitment:      c,
			CheckInDueToday: due,
			CompletedCount:  completed,
			ProgressPercent: progressPercent(completed, c.TotalCheckInsRequired),
			DaysRemaining:   schedule.DaysRemaining(c.EndDate, today),
		})
	}

	pending, err := e.Repo.CountPendingForReferee(ctx, userID)
	if err != nil {
		return d, err
	}
	d.PendingActions = domain.PendingActions{
		CheckInsDueToday:           dueToday,
		RefereeVerificationsNeeded: pending,
		// Challenges are not implemented; the field is held at zero so
		// clients can rely on its presence.
		ChallengeInvites: 0,
	}
	return d, nil
}

// progressPercent clamps to [0,100] and treats zero required check-ins
// as zero progress.
func progressPercent(completed, required int) int {
	if required <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(completed) / float64(required)))
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
