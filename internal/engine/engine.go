package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stakeline/internal/activity"
	"stakeline/internal/config"
	"stakeline/internal/domain"
	"stakeline/internal/repo"
	"stakeline/internal/schedule"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Activities activity.Writer
	Config     *config.Config
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Activities: activity.Writer{DB: db},
		Config:     cfg,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) activities() activity.Writer {
	w := e.Activities
	if w.DB == nil {
		w.DB = e.DB
	}
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// CommitmentCreateOptions are parameters for declaring a commitment.
type CommitmentCreateOptions struct {
	OwnerID           string
	Title             string
	Description       string
	Category          string
	StartDate         string
	EndDate           string
	CheckInFrequency  domain.Frequency
	StakesAmount      int
	StakesCurrency    string
	StakesDestination string
	RefereeID         string
	CharityID         string
	IsPublic          bool
}

// CreateCommitment declares a new commitment. Commitments with stakes
// must name a referee and start out awaiting the referee's acceptance;
// stake-free commitments activate immediately.
func (e Engine) CreateCommitment(ctx context.Context, opts CommitmentCreateOptions) (domain.Commitment, error) {
	if opts.OwnerID == "" {
		return domain.Commitment{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if opts.Title == "" {
		return domain.Commitment{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !opts.CheckInFrequency.Valid() {
		return domain.Commitment{}, fmt.Errorf("%w: unknown check-in frequency %q", ErrInvalidInput, opts.CheckInFrequency)
	}
	if opts.StakesAmount < 0 {
		return domain.Commitment{}, fmt.Errorf("%w: stakes amount must not be negative", ErrInvalidInput)
	}
	if opts.Category == "" {
		opts.Category = "other"
	}
	if e.Config != nil && len(e.Config.Categories) > 0 && !e.Config.KnownCategory(opts.Category) {
		return domain.Commitment{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, opts.Category)
	}
	if opts.StakesCurrency == "" {
		if e.Config != nil {
			opts.StakesCurrency = e.Config.DefaultCurrency()
		} else {
			opts.StakesCurrency = "USD"
		}
	}
	if len(opts.StakesCurrency) != 3 {
		return domain.Commitment{}, fmt.Errorf("%w: stakes currency must be a 3-letter code", ErrInvalidInput)
	}
	if opts.RefereeID == opts.OwnerID && opts.RefereeID != "" {
		return domain.Commitment{}, fmt.Errorf("%w: you cannot referee your own commitment", ErrInvalidInput)
	}

	required, err := schedule.RequiredCheckIns(opts.StartDate, opts.EndDate, opts.CheckInFrequency)
	if err != nil {
		return domain.Commitment{}, err
	}
	if opts.StakesAmount > 0 && opts.RefereeID == "" {
		return domain.Commitment{}, ErrRefereeRequired
	}
	if opts.StakesAmount == 0 && opts.RefereeID != "" {
		return domain.Commitment{}, fmt.Errorf("%w: a referee only applies to staked commitments", ErrInvalidInput)
	}

	status := domain.CommitmentActive
	if opts.StakesAmount > 0 && opts.RefereeID != "" {
		status = domain.CommitmentPendingReferee
	}

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureUser(ctx, opts.OwnerID, now); err != nil {
		return domain.Commitment{}, err
	}
	if opts.RefereeID != "" {
		if err := e.Repo.EnsureUser(ctx, opts.RefereeID, now); err != nil {
			return domain.Commitment{}, err
		}
	}

	c := domain.Commitment{
		ID:                    uuid.NewString(),
		UserID:                opts.OwnerID,
		RefereeID:             optionalString(opts.RefereeID),
		Title:                 opts.Title,
		Description:           opts.Description,
		Category:              opts.Category,
		StartDate:             opts.StartDate,
		EndDate:               opts.EndDate,
		CheckInFrequency:      opts.CheckInFrequency,
		StakesAmount:          opts.StakesAmount,
		StakesCurrency:        opts.StakesCurrency,
		StakesDestination:     optionalString(opts.StakesDestination),
		CharityID:             optionalString(opts.CharityID),
		Status:                status,
		TotalCheckInsRequired: required,
		IsPublic:              opts.IsPublic,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCommitment(ctx, tx, c); err != nil {
		return domain.Commitment{}, fmt.Errorf("insert commitment: %w", err)
	}
	err = e.activities().Append(ctx, tx, "commitment_created", "commitment", c.ID, c.UserID, c.IsPublic, activity.Metadata{
		"title":      c.Title,
		"category":   c.Category,
		"start_date": c.StartDate,
		"end_date":   c.EndDate,
	})
	if err != nil {
		return domain.Commitment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, err
	}
	return c, nil
}

// GetCommitment returns a commitment visible to the owner or referee.
func (e Engine) GetCommitment(ctx context.Context, id, userID string) (domain.Commitment, error) {
	return e.Repo.GetCommitmentForUser(ctx, id, userID)
}

// ListCommitments returns commitments where the user is owner or referee.
func (e Engine) ListCommitments(ctx context.Context, userID string) ([]domain.Commitment, error) {
	return e.Repo.ListCommitmentsForUser(ctx, userID)
}

// CheckInSubmitOptions are parameters for submitting a check-in.
type CheckInSubmitOptions struct {
	OwnerID        string
	CommitmentID   string
	CheckInDate    string
	Note           string
	ProofPhotoURL  string
	ReportedStatus domain.CheckInStatus
}

// SubmitCheckIn records the owner's self-report for a date. Commitments
// with stakes leave the check-in pending for the referee; otherwise it
// resolves immediately with the self-report and bumps the matching
// counter in the same transaction.
func (e Engine) SubmitCheckIn(ctx context.Context, opts CheckInSubmitOptions) (domain.CheckIn, error) {
	if opts.ReportedStatus != domain.CheckInSuccess && opts.ReportedStatus != domain.CheckInFailure {
		return domain.CheckIn{}, fmt.Errorf("%w: reported status must be success or failure", ErrInvalidInput)
	}
	c, err := e.Repo.GetCommitment(ctx, opts.CommitmentID)
	if err != nil {
		return domain.CheckIn{}, err
	}
	// Referees may not submit; to them the commitment simply has no
	// check-in surface.
	if c.UserID != opts.OwnerID {
		return domain.CheckIn{}, repo.ErrNotFound
	}
	if _, err := schedule.ParseDate(opts.CheckInDate); err != nil {
		return domain.CheckIn{}, err
	}
	if opts.CheckInDate < c.StartDate || opts.CheckInDate > c.EndDate {
		return domain.CheckIn{}, ErrOutOfRange
	}

	requiresReferee := c.StakesAmount > 0
	now := e.now().UTC().Format(time.RFC3339)
	ci := domain.CheckIn{
		ID:                 uuid.NewString(),
		CommitmentID:       c.ID,
		UserID:             opts.OwnerID,
		CheckInDate:        opts.CheckInDate,
		Note:               opts.Note,
		ProofPhotoURL:      opts.ProofPhotoURL,
		UserReportedStatus: opts.ReportedStatus,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if requiresReferee {
		ci.RefereeStatus = domain.RefereePending
		ci.FinalStatus = domain.CheckInPending
	} else {
		ci.RefereeStatus = domain.RefereeVerified
		ci.RefereeVerified = true
		ci.FinalStatus = opts.ReportedStatus
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CheckIn{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCheckIn(ctx, tx, ci); err != nil {
		return domain.CheckIn{}, err
	}
	if ci.FinalStatus != domain.CheckInPending {
		if err := e.applyOutcome(ctx, tx, c, ci, now); err != nil {
			return domain.CheckIn{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.CheckIn{}, err
	}
	return ci, nil
}

// applyOutcome bumps the commitment counter for a terminal check-in and
// writes the matching activity record. Must run inside the transaction
// that made the check-in terminal.
func (e Engine) applyOutcome(ctx context.Context, tx *sql.Tx, c domain.Commitment, ci domain.CheckIn, now string) error {
	activityType := "check_in_success"
	if ci.FinalStatus == domain.CheckInSuccess {
		if err := e.Repo.IncrementSuccess(ctx, tx, c.ID, now); err != nil {
			return err
		}
	} else {
		activityType = "check_in_failure"
		if err := e.Repo.IncrementFailure(ctx, tx, c.ID, now); err != nil {
			return err
		}
	}
	return e.activities().Append(ctx, tx, activityType, "check_in", ci.ID, c.UserID, c.IsPublic, activity.Metadata{
		"commitment_id": c.ID,
		"title":         c.Title,
		"check_in_date": ci.CheckInDate,
	})
}

// ListCheckIns returns a commitment's check-ins for its owner or referee,
// ordered by check-in date.
func (e Engine) ListCheckIns(ctx context.Context, commitmentID, userID string) ([]domain.CheckIn, error) {
	if _, err := e.Repo.GetCommitmentForUser(ctx, commitmentID, userID); err != nil {
		return nil, err
	}
	return e.Repo.ListCheckInsForCommitment(ctx, commitmentID)
}

// ListPendingForReferee returns the referee's verification queue, oldest
// submission first.
func (e Engine) ListPendingForReferee(ctx context.Context, refereeID string) ([]domain.PendingCheckIn, error) {
	return e.Repo.ListPendingForReferee(ctx, refereeID)
}

// VerifyCheckIn accepts the owner's self-report as-is: the referee
// confirms wholesale, they do not get to flip success into failure.
func (e Engine) VerifyCheckIn(ctx context.Context, refereeID, checkInID, note string) (domain.CheckIn, error) {
	return e.resolveCheckIn(ctx, refereeID, checkInID, note, false)
}

// DisputeCheckIn resolves against the owner: the final status is forced
// to failure regardless of what was reported.
func (e Engine) DisputeCheckIn(ctx context.Context, refereeID, checkInID, note string) (domain.CheckIn, error) {
	return e.resolveCheckIn(ctx, refereeID, checkInID, note, true)
}

func (e Engine) resolveCheckIn(ctx context.Context, refereeID, checkInID, note string, dispute bool) (domain.CheckIn, error) {
	ci, c, err := e.Repo.GetCheckInWithCommitment(ctx, checkInID)
	if err != nil {
		return domain.CheckIn{}, err
	}
	if c.RefereeID == nil || *c.RefereeID != refereeID {
		return domain.CheckIn{}, ErrNotAuthorized
	}
	if ci.FinalStatus != domain.CheckInPending {
		return domain.CheckIn{}, repo.ErrAlreadyResolved
	}

	final := ci.UserReportedStatus
	refereeStatus := domain.RefereeVerified
	if dispute {
		final = domain.CheckInFailure
		refereeStatus = domain.RefereeDisputed
	}
	now := e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CheckIn{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.ResolveCheckIn(ctx, tx, ci.ID, refereeStatus, final, optionalString(note), now, now); err != nil {
		return domain.CheckIn{}, err
	}
	ci.RefereeStatus = refereeStatus
	ci.RefereeVerified = true
	ci.RefereeNote = optionalString(note)
	ci.VerifiedAt = &now
	ci.FinalStatus = final
	ci.UpdatedAt = now
	if err := e.applyOutcome(ctx, tx, c, ci, now); err != nil {
		return domain.CheckIn{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CheckIn{}, err
	}
	return ci, nil
}

// AcceptReferee activates a commitment awaiting its referee.
func (e Engine) AcceptReferee(ctx context.Context, refereeID, commitmentID string) (domain.Commitment, error) {
	return e.answerRefereeInvite(ctx, refereeID, commitmentID, true)
}

// DeclineReferee cancels a commitment awaiting its referee.
func (e Engine) DeclineReferee(ctx context.Context, refereeID, commitmentID string) (domain.Commitment, error) {
	return e.answerRefereeInvite(ctx, refereeID, commitmentID, false)
}

func (e Engine) answerRefereeInvite(ctx context.Context, refereeID, commitmentID string, accept bool) (domain.Commitment, error) {
	c, err := e.Repo.GetCommitment(ctx, commitmentID)
	if err != nil {
		return domain.Commitment{}, err
	}
	if c.RefereeID == nil || *c.RefereeID != refereeID {
		return domain.Commitment{}, ErrNotAuthorized
	}
	if c.Status != domain.CommitmentPendingReferee {
		return domain.Commitment{}, fmt.Errorf("%w: commitment is not awaiting a referee", ErrInvalidInput)
	}

	now := e.now().UTC().Format(time.RFC3339)
	status := domain.CommitmentCancelled
	activityType := "referee_declined"
	var acceptedAt *string
	if accept {
		status = domain.CommitmentActive
		activityType = "referee_accepted"
		acceptedAt = &now
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetCommitmentStatus(ctx, tx, c.ID, status, acceptedAt, now); err != nil {
		return domain.Commitment{}, err
	}
	err = e.activities().Append(ctx, tx, activityType, "commitment", c.ID, refereeID, c.IsPublic, activity.Metadata{
		"title": c.Title,
	})
	if err != nil {
		return domain.Commitment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, err
	}
	c.Status = status
	c.RefereeAcceptedAt = acceptedAt
	c.UpdatedAt = now
	return c, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
