package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"stakeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateDate is returned when a (commitment, date) check-in
	// pair already exists; the unique index serializes racing submits.
	ErrDuplicateDate = errors.New("check-in already exists for this date")
	// ErrAlreadyResolved is returned when a resolution update matches no
	// pending row; the final_status guard serializes racing referees.
	ErrAlreadyResolved = errors.New("check-in already resolved")
)

const commitmentColumns = `id,user_id,referee_id,title,description,category,start_date,end_date,check_in_frequency,stakes_amount,stakes_currency,stakes_destination,charity_id,status,referee_accepted_at,total_check_ins_required,successful_check_ins,failed_check_ins,is_public,created_at,updated_at`

func scanCommitment(scan func(dest ...any) error) (domain.Commitment, error) {
	var c domain.Commitment
	var refereeID, description, stakesDestination, charityID, refereeAcceptedAt sql.NullString
	err := scan(&c.ID, &c.UserID, &refereeID, &c.Title, &description, &c.Category,
		&c.StartDate, &c.EndDate, &c.CheckInFrequency, &c.StakesAmount, &c.StakesCurrency,
		&stakesDestination, &charityID, &c.Status, &refereeAcceptedAt,
		&c.TotalCheckInsRequired, &c.SuccessfulCheckIns, &c.FailedCheckIns,
		&c.IsPublic, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if refereeID.Valid {
		c.RefereeID = &refereeID.String
	}
	if description.Valid {
		c.Description = description.String
	}
	if stakesDestination.Valid {
		c.StakesDestination = &stakesDestination.String
	}
	if charityID.Valid {
		c.CharityID = &charityID.String
	}
	if refereeAcceptedAt.Valid {
		c.RefereeAcceptedAt = &refereeAcceptedAt.String
	}
	return c, nil
}

func (r Repo) InsertCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commitments(`+commitmentColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, nullableStringPtr(c.RefereeID), c.Title, nullable(c.Description), c.Category,
		c.StartDate, c.EndDate, string(c.CheckInFrequency), c.StakesAmount, c.StakesCurrency,
		nullableStringPtr(c.StakesDestination), nullableStringPtr(c.CharityID), string(c.Status),
		nullableStringPtr(c.RefereeAcceptedAt), c.TotalCheckInsRequired, c.SuccessfulCheckIns,
		c.FailedCheckIns, c.IsPublic, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCommitment returns a commitment without a visibility filter. Callers
// exposing data outward must use GetCommitmentForUser instead.
func (r Repo) GetCommitment(ctx context.Context, id string) (domain.Commitment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id=?`, id)
	return scanCommitment(row.Scan)
}

// GetCommitmentForUser returns a commitment only when userID is its owner
// or designated referee. Anything else is a plain not-found so existence
// does not leak.
func (r Repo) GetCommitmentForUser(ctx context.Context, id, userID string) (domain.Commitment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE id=? AND (user_id=? OR referee_id=?)`, id, userID, userID)
	return scanCommitment(row.Scan)
}

// ListCommitmentsForUser returns commitments where the user is owner or
// referee, newest first.
func (r Repo) ListCommitmentsForUser(ctx context.Context, userID string) ([]domain.Commitment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE user_id=? OR referee_id=? ORDER BY created_at DESC, id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListActiveCommitmentsForOwner returns the user's own active commitments
// ordered by end date ascending so the soonest-ending surface first.
func (r Repo) ListActiveCommitmentsForOwner(ctx context.Context, userID string) ([]domain.Commitment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commitmentColumns+` FROM commitments WHERE user_id=? AND status=? ORDER BY end_date ASC, id ASC`, userID, string(domain.CommitmentActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) IncrementSuccess(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	return incrementCounter(ctx, tx, `successful_check_ins`, id, updatedAt)
}

func (r Repo) IncrementFailure(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	return incrementCounter(ctx, tx, `failed_check_ins`, id, updatedAt)
}

func incrementCounter(ctx context.Context, tx *sql.Tx, column, id, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE commitments SET `+column+`=`+column+`+1, updated_at=? WHERE id=?`, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCommitmentStatus transitions a commitment's status, optionally
// stamping referee_accepted_at.
func (r Repo) SetCommitmentStatus(ctx context.Context, tx *sql.Tx, id string, status domain.CommitmentStatus, refereeAcceptedAt *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE commitments SET status=?, referee_accepted_at=COALESCE(?, referee_accepted_at), updated_at=? WHERE id=?`,
		string(status), nullableStringPtr(refereeAcceptedAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const checkInColumns = `id,commitment_id,user_id,check_in_date,note,proof_photo_url,user_reported_status,referee_verified,referee_status,referee_note,verified_at,final_status,created_at,updated_at`

func scanCheckIn(scan func(dest ...any) error) (domain.CheckIn, error) {
	var ci domain.CheckIn
	var note, proofPhotoURL, refereeNote, verifiedAt sql.NullString
	err := scan(&ci.ID, &ci.CommitmentID, &ci.UserID, &ci.CheckInDate, &note, &proofPhotoURL,
		&ci.UserReportedStatus, &ci.RefereeVerified, &ci.RefereeStatus, &refereeNote,
		&verifiedAt, &ci.FinalStatus, &ci.CreatedAt, &ci.UpdatedAt)
	if err == sql.ErrNoRows {
		return ci, ErrNotFound
	}
	if err != nil {
		return ci, err
	}
	if note.Valid {
		ci.Note = note.String
	}
	if proofPhotoURL.Valid {
		ci.ProofPhotoURL = proofPhotoURL.String
	}
	if refereeNote.Valid {
		ci.RefereeNote = &refereeNote.String
	}
	if verifiedAt.Valid {
		ci.VerifiedAt = &verifiedAt.String
	}
	return ci, nil
}

// InsertCheckIn inserts a check-in row. A unique-index violation on
// (commitment_id, check_in_date) is surfaced as ErrDuplicateDate.
func (r Repo) InsertCheckIn(ctx context.Context, tx *sql.Tx, ci domain.CheckIn) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO check_ins(`+checkInColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ci.ID, ci.CommitmentID, ci.UserID, ci.CheckInDate, nullable(ci.Note), nullable(ci.ProofPhotoURL),
		string(ci.UserReportedStatus), ci.RefereeVerified, string(ci.RefereeStatus),
		nullableStringPtr(ci.RefereeNote), nullableStringPtr(ci.VerifiedAt), string(ci.FinalStatus),
		ci.CreatedAt, ci.UpdatedAt)
	if err != nil && isUniqueViolation(err, "check_ins") {
		return ErrDuplicateDate
	}
	return err
}

func (r Repo) GetCheckIn(ctx context.Context, id string) (domain.CheckIn, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checkInColumns+` FROM check_ins WHERE id=?`, id)
	return scanCheckIn(row.Scan)
}

// GetCheckInWithCommitment loads a check-in joined with its commitment.
func (r Repo) GetCheckInWithCommitment(ctx context.Context, id string) (domain.CheckIn, domain.Commitment, error) {
	ci, err := r.GetCheckIn(ctx, id)
	if err != nil {
		return domain.CheckIn{}, domain.Commitment{}, err
	}
	c, err := r.GetCommitment(ctx, ci.CommitmentID)
	if err != nil {
		return domain.CheckIn{}, domain.Commitment{}, err
	}
	return ci, c, nil
}

// ListCheckInsForCommitment returns all check-ins on a commitment
// ordered by check-in date ascending.
func (r Repo) ListCheckInsForCommitment(ctx context.Context, commitmentID string) ([]domain.CheckIn, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checkInColumns+` FROM check_ins WHERE commitment_id=? ORDER BY check_in_date ASC, id ASC`, commitmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CheckIn
	for rows.Next() {
		ci, err := scanCheckIn(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ci)
	}
	return res, rows.Err()
}

// ListCheckInDates returns check-in dates for a batch of commitments,
// grouped by commitment id. One query serves the whole dashboard pass.
func (r Repo) ListCheckInDates(ctx context.Context, commitmentIDs []string) (map[string][]string, error) {
	res := map[string][]string{}
	if len(commitmentIDs) == 0 {
		return res, nil
	}
	placeholders := strings.Repeat("?,", len(commitmentIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(commitmentIDs))
	for i, id := range commitmentIDs {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT commitment_id, check_in_date FROM check_ins WHERE commitment_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, date string
		if err := rows.Scan(&id, &date); err != nil {
			return nil, err
		}
		res[id] = append(res[id], date)
	}
	return res, rows.Err()
}

// ListPendingForReferee returns referee-pending check-ins on commitments
// refereed by the user, oldest submission first.
func (r Repo) ListPendingForReferee(ctx context.Context, refereeID string) ([]domain.PendingCheckIn, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+prefixColumns("ci", checkInColumns)+`, `+prefixColumns("c", commitmentColumns)+`
FROM check_ins ci JOIN commitments c ON c.id = ci.commitment_id
WHERE c.referee_id=? AND ci.referee_status=? ORDER BY ci.created_at ASC, ci.id ASC`, refereeID, string(domain.RefereePending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PendingCheckIn
	for rows.Next() {
		var item domain.PendingCheckIn
		var note, proofPhotoURL, refereeNote, verifiedAt sql.NullString
		var crefereeID, cdescription, cstakesDestination, ccharityID, crefereeAcceptedAt sql.NullString
		ci := &item.CheckIn
		c := &item.Commitment
		err := rows.Scan(
			&ci.ID, &ci.CommitmentID, &ci.UserID, &ci.CheckInDate, &note, &proofPhotoURL,
			&ci.UserReportedStatus, &ci.RefereeVerified, &ci.RefereeStatus, &refereeNote,
			&verifiedAt, &ci.FinalStatus, &ci.CreatedAt, &ci.UpdatedAt,
			&c.ID, &c.UserID, &crefereeID, &c.Title, &cdescription, &c.Category,
			&c.StartDate, &c.EndDate, &c.CheckInFrequency, &c.StakesAmount, &c.StakesCurrency,
			&cstakesDestination, &ccharityID, &c.Status, &crefereeAcceptedAt,
			&c.TotalCheckInsRequired, &c.SuccessfulCheckIns, &c.FailedCheckIns,
			&c.IsPublic, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if note.Valid {
			ci.Note = note.String
		}
		if proofPhotoURL.Valid {
			ci.ProofPhotoURL = proofPhotoURL.String
		}
		if refereeNote.Valid {
			ci.RefereeNote = &refereeNote.String
		}
		if verifiedAt.Valid {
			ci.VerifiedAt = &verifiedAt.String
		}
		if crefereeID.Valid {
			c.RefereeID = &crefereeID.String
		}
		if cdescription.Valid {
			c.Description = cdescription.String
		}
		if cstakesDestination.Valid {
			c.StakesDestination = &cstakesDestination.String
		}
		if ccharityID.Valid {
			c.CharityID = &ccharityID.String
		}
		if crefereeAcceptedAt.Valid {
			c.RefereeAcceptedAt = &crefereeAcceptedAt.String
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// CountPendingForReferee counts referee-pending check-ins for the user.
func (r Repo) CountPendingForReferee(ctx context.Context, refereeID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM check_ins ci JOIN commitments c ON c.id = ci.commitment_id
WHERE c.referee_id=? AND ci.referee_status=?`, refereeID, string(domain.RefereePending)).Scan(&n)
	return n, err
}

// ResolveCheckIn writes the terminal referee decision. The final_status
// guard in the WHERE clause rejects a second resolution with
// ErrAlreadyResolved even under concurrent referees.
func (r Repo) ResolveCheckIn(ctx context.Context, tx *sql.Tx, id string, refereeStatus domain.RefereeStatus, finalStatus domain.CheckInStatus, refereeNote *string, verifiedAt, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE check_ins SET referee_status=?, referee_verified=1, referee_note=?, verified_at=?, final_status=?, updated_at=?
WHERE id=? AND final_status=?`,
		string(refereeStatus), nullableStringPtr(refereeNote), verifiedAt, string(finalStatus), updatedAt,
		id, string(domain.CheckInPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// CountResolvedCheckIns counts check-ins on a commitment whose final
// status is terminal. Used to audit counter consistency.
func (r Repo) CountResolvedCheckIns(ctx context.Context, commitmentID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM check_ins WHERE commitment_id=? AND final_status != ?`, commitmentID, string(domain.CheckInPending)).Scan(&n)
	return n, err
}

func isUniqueViolation(err error, table string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, table)
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
